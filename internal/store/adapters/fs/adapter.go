// Package fs implementa el adapter FileSystem: un directorio raíz con
// users.json y los slots de clave en keys/.
//
// Layout:
//
//	<root>/users.json
//	<root>/.users.lock
//	<root>/keys/.keys.lock
//	<root>/keys/signingKeyPrivateJwk.json
//	<root>/keys/signingKeyPublicJwk.json
//	<root>/keys/retired.json
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	store "github.com/dropDatabas3/signroll/internal/store"
)

func init() {
	store.RegisterAdapter(&fsAdapter{})
}

// fsAdapter implementa store.Adapter para FileSystem.
type fsAdapter struct{}

func (a *fsAdapter) Name() string { return "fs" }

func (a *fsAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	root := cfg.FSRoot
	if root == "" {
		root = "data"
	}
	return Open(root)
}

// Open abre (creando si hace falta) el directorio raíz.
func Open(root string) (*Connection, error) {
	info, err := os.Stat(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("fs: root path error: %w", err)
		}
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return nil, fmt.Errorf("fs: failed to create root path %s: %w", root, mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("fs: root path is not a directory: %s", root)
	}

	return &Connection{
		root:  root,
		users: newUserRepo(root),
		keys:  newKeyRepo(filepath.Join(root, "keys")),
	}, nil
}

// Connection representa una conexión activa al FileSystem.
type Connection struct {
	root  string
	users *userRepo
	keys  *keyRepo
}

func (c *Connection) Name() string { return "fs" }

func (c *Connection) Ping(ctx context.Context) error {
	_, err := os.Stat(c.root)
	return err
}

func (c *Connection) Close() error { return nil }

func (c *Connection) Users() repository.UserRepository { return c.users }
func (c *Connection) Keys() repository.KeyRepository   { return c.keys }
