package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

type userRepo struct{ pool *pgxpool.Pool }

const userColumns = `user_id, username, full_name, account_created_date, last_login, digital_signature`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *userRepo) Create(ctx context.Context, u *repository.User) error {
	if u == nil || u.UserID == "" || u.Username == "" {
		return repository.ErrInvalidInput
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO app_user (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.UserID, u.Username, u.FullName, u.AccountCreatedDate, u.LastLogin, u.DigitalSignature)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return err
	}
	for _, rec := range u.AttendanceLog {
		if err := insertAttendance(ctx, tx, u.UserID, rec); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func insertAttendance(ctx context.Context, tx pgx.Tx, userID string, rec repository.AttendanceRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO attendance_record (user_id, login_time, ts_millis, signature, kind)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, rec.LoginTime, rec.Timestamp, rec.Signature, string(rec.Kind))
	return err
}

func (r *userRepo) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM app_user WHERE user_id = $1`, userID)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM app_user WHERE username = $1`, username)
}

func scanUser(row pgx.Row) (*repository.User, error) {
	var u repository.User
	err := row.Scan(&u.UserID, &u.Username, &u.FullName, &u.AccountCreatedDate, &u.LastLogin, &u.DigitalSignature)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepo) getOne(ctx context.Context, query, arg string) (*repository.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	byUser, err := r.attendance(ctx, `WHERE user_id = $1`, u.UserID)
	if err != nil {
		return nil, err
	}
	u.AttendanceLog = byUser[u.UserID]
	return u, nil
}

func (r *userRepo) List(ctx context.Context) ([]*repository.User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM app_user ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*repository.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byUser, err := r.attendance(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		u.AttendanceLog = byUser[u.UserID]
	}
	return users, nil
}

// attendance devuelve los registros agrupados por usuario en orden de inserción.
func (r *userRepo) attendance(ctx context.Context, where string, args ...any) (map[string][]repository.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, login_time, ts_millis, signature, kind
		FROM attendance_record `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]repository.AttendanceRecord)
	for rows.Next() {
		var (
			userID, kind string
			rec          repository.AttendanceRecord
		)
		if err := rows.Scan(&userID, &rec.LoginTime, &rec.Timestamp, &rec.Signature, &kind); err != nil {
			return nil, err
		}
		rec.Kind = repository.AttendanceKind(kind)
		out[userID] = append(out[userID], rec)
	}
	return out, rows.Err()
}

func (r *userRepo) AppendAttendance(ctx context.Context, userID string, rec repository.AttendanceRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE app_user SET last_login = $2 WHERE user_id = $1`, userID, rec.LoginTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if err := insertAttendance(ctx, tx, userID, rec); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
