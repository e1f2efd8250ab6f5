package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

// Stores agrupa la conexión de registros (usuarios + asistencia) y la de los
// slots de la clave de firma. Pueden ser el mismo backend o distintos
// (ej: registros en postgres, clave en redis).
type Stores struct {
	records AdapterConnection
	keys    AdapterConnection
}

// OpenStores abre ambas conexiones. Si las dos configs apuntan al mismo
// backend se reutiliza una sola conexión.
func OpenStores(ctx context.Context, records, keys AdapterConfig) (*Stores, error) {
	rc, err := OpenAdapter(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("open records store: %w", err)
	}
	if rc.Users() == nil {
		_ = rc.Close()
		return nil, fmt.Errorf("adapter %q does not support records: %w", records.Name, repository.ErrNotImplemented)
	}

	kc := rc
	if !sameBackend(records, keys) {
		kc, err = OpenAdapter(ctx, keys)
		if err != nil {
			_ = rc.Close()
			return nil, fmt.Errorf("open key store: %w", err)
		}
	}
	if kc.Keys() == nil {
		_ = rc.Close()
		if kc != rc {
			_ = kc.Close()
		}
		return nil, fmt.Errorf("adapter %q does not support key slots: %w", keys.Name, repository.ErrNotImplemented)
	}
	return &Stores{records: rc, keys: kc}, nil
}

func sameBackend(a, b AdapterConfig) bool {
	return a.Name == b.Name && a.DSN == b.DSN && a.FSRoot == b.FSRoot
}

// Users retorna el repositorio de registros.
func (s *Stores) Users() repository.UserRepository { return s.records.Users() }

// Keys retorna el repositorio de slots de la clave.
func (s *Stores) Keys() repository.KeyRepository { return s.keys.Keys() }

// Ping verifica ambas conexiones.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.records.Ping(ctx); err != nil {
		return fmt.Errorf("records: %w", err)
	}
	if s.keys != s.records {
		if err := s.keys.Ping(ctx); err != nil {
			return fmt.Errorf("keys: %w", err)
		}
	}
	return nil
}

// Close cierra las conexiones abiertas.
func (s *Stores) Close() error {
	err := s.records.Close()
	if s.keys != s.records {
		err = errors.Join(err, s.keys.Close())
	}
	return err
}
