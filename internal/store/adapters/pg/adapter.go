// Package pg implementa el adapter PostgreSQL sobre pgxpool.
package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	store "github.com/dropDatabas3/signroll/internal/store"
	migrations "github.com/dropDatabas3/signroll/migrations/postgres"
)

func init() {
	store.RegisterAdapter(&pgAdapter{})
}

type pgAdapter struct{}

func (a *pgAdapter) Name() string { return "postgres" }

func (a *pgAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pg: dsn is required")
	}
	pool, err := openPool(ctx, cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewConnection(pool), nil
}

// openPool crea un *pgxpool.Pool. pgxpool no tiene MaxOpen: se mapea a MaxConns.
func openPool(ctx context.Context, dsn string, maxOpen int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgxpool config: %w", err)
	}
	if maxOpen > 0 {
		cfg.MaxConns = int32(maxOpen)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pgxpool: %w", err)
	}
	// Conectar para fallar rápido si hay problema
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return pool, nil
}

// Migrate aplica las migraciones embebidas en orden. Son idempotentes
// (IF NOT EXISTS), así que correrlas en cada arranque es seguro.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := fs.Glob(migrations.FS, "*_up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)
	for _, f := range files {
		sql, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			return fmt.Errorf("read %s: %w", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
	}
	return nil
}

// Connection agrupa los repos sobre un pool compartido.
type Connection struct {
	pool  *pgxpool.Pool
	users *userRepo
	keys  *keyRepo
}

// NewConnection envuelve un pool ya abierto (y migrado).
func NewConnection(pool *pgxpool.Pool) *Connection {
	return &Connection{pool: pool, users: &userRepo{pool: pool}, keys: &keyRepo{pool: pool}}
}

func (c *Connection) Name() string                     { return "postgres" }
func (c *Connection) Ping(ctx context.Context) error   { return c.pool.Ping(ctx) }
func (c *Connection) Close() error                     { c.pool.Close(); return nil }
func (c *Connection) Users() repository.UserRepository { return c.users }
func (c *Connection) Keys() repository.KeyRepository   { return c.keys }
