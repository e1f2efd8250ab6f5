package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

// keyRepo guarda cada slot como una fila de signing_key_slot.
type keyRepo struct{ pool *pgxpool.Pool }

func loadSlots(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, forUpdate bool) (*repository.StoredKeyPair, error) {
	query := `SELECT slot, value, created_at FROM signing_key_slot WHERE slot IN ($1, $2)`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, repository.SlotPrivateJWK, repository.SlotPublicJWK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	kp := &repository.StoredKeyPair{}
	for rows.Next() {
		var (
			slot, value string
			created     time.Time
		)
		if err := rows.Scan(&slot, &value, &created); err != nil {
			return nil, err
		}
		switch slot {
		case repository.SlotPrivateJWK:
			kp.PrivateJWK = []byte(value)
			kp.CreatedAt = created.UTC()
		case repository.SlotPublicJWK:
			kp.PublicJWK = []byte(value)
		}
	}
	return kp, rows.Err()
}

func (r *keyRepo) Load(ctx context.Context) (*repository.StoredKeyPair, error) {
	kp, err := loadSlots(ctx, r.pool, false)
	if err != nil {
		return nil, err
	}
	if !kp.HasPrivate() && !kp.HasPublic() {
		return nil, repository.ErrNotFound
	}
	return kp, nil
}

const upsertSlot = `
	INSERT INTO signing_key_slot (slot, value, created_at) VALUES ($1, $2, $3)
	ON CONFLICT (slot) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at
`

// CreateIfAbsent inserta la privada con ON CONFLICT DO NOTHING dentro de una
// transacción: un segundo escritor concurrente espera el commit del primero
// y no inserta nada.
func (r *keyRepo) CreateIfAbsent(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO signing_key_slot (slot, value, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO NOTHING
	`, repository.SlotPrivateJWK, string(kp.PrivateJWK), kp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 1 {
		if _, err := tx.Exec(ctx, upsertSlot, repository.SlotPublicJWK, string(kp.PublicJWK), kp.CreatedAt); err != nil {
			return nil, err
		}
	}
	winner, err := loadSlots(ctx, tx, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return winner, nil
}

func (r *keyRepo) PutPublic(ctx context.Context, publicJWK []byte) error {
	_, err := r.pool.Exec(ctx, upsertSlot, repository.SlotPublicJWK, string(publicJWK), time.Now().UTC())
	return err
}

func (r *keyRepo) Rotate(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	prev, err := loadSlots(ctx, tx, true)
	if err != nil {
		return nil, err
	}
	if prev.HasPublic() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO retired_signing_key (public_jwk, retired_at) VALUES ($1, $2)`,
			string(prev.PublicJWK), kp.CreatedAt); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, upsertSlot, repository.SlotPrivateJWK, string(kp.PrivateJWK), kp.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, upsertSlot, repository.SlotPublicJWK, string(kp.PublicJWK), kp.CreatedAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if !prev.HasPrivate() && !prev.HasPublic() {
		return nil, nil
	}
	return prev, nil
}

func (r *keyRepo) Retire(ctx context.Context, publicJWK []byte, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO retired_signing_key (public_jwk, retired_at) VALUES ($1, $2)`,
		string(publicJWK), at.UTC())
	return err
}

func (r *keyRepo) ListRetired(ctx context.Context) ([]repository.RetiredKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT public_jwk, retired_at FROM retired_signing_key ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.RetiredKey
	for rows.Next() {
		var (
			pub string
			at  time.Time
		)
		if err := rows.Scan(&pub, &at); err != nil {
			return nil, err
		}
		out = append(out, repository.RetiredKey{PublicJWK: []byte(pub), RetiredAt: at.UTC()})
	}
	return out, rows.Err()
}
