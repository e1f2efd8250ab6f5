package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/util/atomicwrite"
)

const retiredFile = "retired.json"

// keyRepo implementa repository.KeyRepository con un archivo por slot.
//
// Las escrituras corren bajo keys/.keys.lock, compartido por todos los
// procesos que usan el directorio. CreateIfAbsent además crea el slot
// privado con atomicwrite.CreateExclusive: nunca pisa una privada existente.
type keyRepo struct {
	dir  string
	lock *fileLock
}

func newKeyRepo(dir string) *keyRepo {
	return &keyRepo{dir: dir, lock: newFileLock(filepath.Join(dir, ".keys.lock"))}
}

func (r *keyRepo) slotPath(slot string) string {
	return filepath.Join(r.dir, slot+".json")
}

type retiredEntry struct {
	PublicJWK json.RawMessage `json:"publicJwk"`
	RetiredAt time.Time       `json:"retiredAt"`
}

func readSlot(path string) ([]byte, time.Time, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read slot %s: %w", filepath.Base(path), err)
	}
	var mod time.Time
	if info, serr := os.Stat(path); serr == nil {
		mod = info.ModTime().UTC()
	}
	return data, mod, nil
}

func (r *keyRepo) load() (*repository.StoredKeyPair, error) {
	priv, created, err := readSlot(r.slotPath(repository.SlotPrivateJWK))
	if err != nil {
		return nil, err
	}
	pub, _, err := readSlot(r.slotPath(repository.SlotPublicJWK))
	if err != nil {
		return nil, err
	}
	return &repository.StoredKeyPair{PrivateJWK: priv, PublicJWK: pub, CreatedAt: created}, nil
}

func (r *keyRepo) Load(ctx context.Context) (*repository.StoredKeyPair, error) {
	var kp *repository.StoredKeyPair
	// Dos slots: se leen juntos para no ver una rotación a medias.
	err := r.lock.withLock(ctx, func() error {
		var lerr error
		kp, lerr = r.load()
		return lerr
	})
	if err != nil {
		return nil, err
	}
	if !kp.HasPrivate() && !kp.HasPublic() {
		return nil, repository.ErrNotFound
	}
	return kp, nil
}

func (r *keyRepo) CreateIfAbsent(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	var out *repository.StoredKeyPair
	err := r.lock.withLock(ctx, func() error {
		err := atomicwrite.CreateExclusive(r.slotPath(repository.SlotPrivateJWK), kp.PrivateJWK, 0o600)
		switch {
		case err == nil:
			if perr := atomicwrite.WriteFile(r.slotPath(repository.SlotPublicJWK), kp.PublicJWK, 0o644); perr != nil {
				return fmt.Errorf("write public slot: %w", perr)
			}
		case errors.Is(err, atomicwrite.ErrExists):
			// Otro escritor ganó; se devuelve lo persistido.
		default:
			return fmt.Errorf("create private slot: %w", err)
		}
		var lerr error
		out, lerr = r.load()
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *keyRepo) PutPublic(ctx context.Context, publicJWK []byte) error {
	return r.lock.withLock(ctx, func() error {
		return atomicwrite.WriteFile(r.slotPath(repository.SlotPublicJWK), publicJWK, 0o644)
	})
}

func (r *keyRepo) Rotate(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	var prev *repository.StoredKeyPair
	err := r.lock.withLock(ctx, func() error {
		var err error
		prev, err = r.load()
		if err != nil {
			return err
		}
		if prev.HasPublic() {
			if err := r.appendRetired(prev.PublicJWK, kp.CreatedAt); err != nil {
				return err
			}
		}
		// Orden: retirada → privada → pública. Un corte a mitad deja una
		// pública vieja que el KeyStore detecta como no correspondiente.
		if err := atomicwrite.WriteFile(r.slotPath(repository.SlotPrivateJWK), kp.PrivateJWK, 0o600); err != nil {
			return fmt.Errorf("write private slot: %w", err)
		}
		if err := atomicwrite.WriteFile(r.slotPath(repository.SlotPublicJWK), kp.PublicJWK, 0o644); err != nil {
			return fmt.Errorf("write public slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !prev.HasPrivate() && !prev.HasPublic() {
		return nil, nil
	}
	return prev, nil
}

func (r *keyRepo) Retire(ctx context.Context, publicJWK []byte, at time.Time) error {
	return r.lock.withLock(ctx, func() error {
		return r.appendRetired(publicJWK, at)
	})
}

func (r *keyRepo) ListRetired(ctx context.Context) ([]repository.RetiredKey, error) {
	entries, err := r.readRetired()
	if err != nil {
		return nil, err
	}
	out := make([]repository.RetiredKey, 0, len(entries))
	for _, e := range entries {
		out = append(out, repository.RetiredKey{PublicJWK: []byte(e.PublicJWK), RetiredAt: e.RetiredAt})
	}
	return out, nil
}

func (r *keyRepo) readRetired() ([]retiredEntry, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, retiredFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read retired keys: %w", err)
	}
	var entries []retiredEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse retired keys: %w", err)
	}
	return entries, nil
}

func (r *keyRepo) appendRetired(publicJWK []byte, at time.Time) error {
	entries, err := r.readRetired()
	if err != nil {
		return err
	}
	if !json.Valid(publicJWK) {
		return fmt.Errorf("retire key: %w", repository.ErrInvalidInput)
	}
	entries = append(entries, retiredEntry{PublicJWK: append(json.RawMessage(nil), publicJWK...), RetiredAt: at.UTC()})
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode retired keys: %w", err)
	}
	return atomicwrite.WriteFile(filepath.Join(r.dir, retiredFile), data, 0o644)
}
