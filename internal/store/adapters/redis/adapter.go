// Package redis implementa un adapter que guarda sólo los slots de clave en
// Redis. Pensado para varias instancias compartiendo una misma clave de
// firma; los usuarios van en otro backend (storage.driver).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	store "github.com/dropDatabas3/signroll/internal/store"
)

const (
	defaultPrefix = "signroll"
	maxTxRetries  = 5
)

func init() {
	store.RegisterAdapter(&redisAdapter{})
}

type redisAdapter struct{}

func (a *redisAdapter) Name() string { return "redis" }

func (a *redisAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	addr := cfg.DSN
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verificar conexión
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return NewConnection(client, cfg.Prefix), nil
}

// Connection envuelve un cliente go-redis.
type Connection struct {
	client *goredis.Client
	keys   *keyRepo
}

// NewConnection usa un cliente ya creado. prefix vacío usa "signroll".
func NewConnection(client *goredis.Client, prefix string) *Connection {
	if prefix == "" {
		prefix = defaultPrefix
	}
	prefix = strings.TrimSuffix(prefix, ":")
	return &Connection{client: client, keys: &keyRepo{c: client, prefix: prefix}}
}

func (c *Connection) Name() string                   { return "redis" }
func (c *Connection) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }
func (c *Connection) Close() error                   { return c.client.Close() }

// Users no está soportado: Redis sólo guarda la clave de firma.
func (c *Connection) Users() repository.UserRepository { return nil }
func (c *Connection) Keys() repository.KeyRepository   { return c.keys }

// ─── KeyRepository ───

type keyRepo struct {
	c      *goredis.Client
	prefix string
}

func (r *keyRepo) key(k string) string { return r.prefix + ":" + k }

func (r *keyRepo) slotKeys() []string {
	return []string{
		r.key(repository.SlotPrivateJWK),
		r.key(repository.SlotPublicJWK),
		r.key("signingKeyCreatedAt"),
	}
}

func (r *keyRepo) retiredKey() string { return r.key("retiredSigningKeys") }

// createScript escribe los tres valores sólo si el slot privado no existe y
// devuelve lo que quedó persistido. Corre atómico en el servidor.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
  redis.call('SET', KEYS[3], ARGV[3])
end
return redis.call('MGET', KEYS[1], KEYS[2], KEYS[3])
`)

type retiredEntry struct {
	PublicJWK json.RawMessage `json:"publicJwk"`
	RetiredAt time.Time       `json:"retiredAt"`
}

func toPair(vals []any) *repository.StoredKeyPair {
	kp := &repository.StoredKeyPair{}
	str := func(i int) string {
		if i >= len(vals) || vals[i] == nil {
			return ""
		}
		s, _ := vals[i].(string)
		return s
	}
	if s := str(0); s != "" {
		kp.PrivateJWK = []byte(s)
	}
	if s := str(1); s != "" {
		kp.PublicJWK = []byte(s)
	}
	if t, err := time.Parse(time.RFC3339Nano, str(2)); err == nil {
		kp.CreatedAt = t.UTC()
	}
	return kp
}

func (r *keyRepo) Load(ctx context.Context) (*repository.StoredKeyPair, error) {
	vals, err := r.c.MGet(ctx, r.slotKeys()...).Result()
	if err != nil {
		return nil, err
	}
	kp := toPair(vals)
	if !kp.HasPrivate() && !kp.HasPublic() {
		return nil, repository.ErrNotFound
	}
	return kp, nil
}

func (r *keyRepo) CreateIfAbsent(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	res, err := createScript.Run(ctx, r.c, r.slotKeys(),
		string(kp.PrivateJWK), string(kp.PublicJWK), kp.CreatedAt.UTC().Format(time.RFC3339Nano)).Slice()
	if err != nil {
		return nil, fmt.Errorf("redis: create key slots: %w", err)
	}
	return toPair(res), nil
}

func (r *keyRepo) PutPublic(ctx context.Context, publicJWK []byte) error {
	return r.c.Set(ctx, r.key(repository.SlotPublicJWK), string(publicJWK), 0).Err()
}

// Rotate usa WATCH/MULTI: si otro escritor toca los slots entre la lectura y
// el EXEC, la transacción se reintenta.
func (r *keyRepo) Rotate(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	keys := r.slotKeys()

	var prev *repository.StoredKeyPair
	txf := func(tx *goredis.Tx) error {
		vals, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		prev = toPair(vals)

		var entry []byte
		if prev.HasPublic() {
			entry, err = json.Marshal(retiredEntry{PublicJWK: prev.PublicJWK, RetiredAt: kp.CreatedAt.UTC()})
			if err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if entry != nil {
				p.RPush(ctx, r.retiredKey(), string(entry))
			}
			p.Set(ctx, keys[0], string(kp.PrivateJWK), 0)
			p.Set(ctx, keys[1], string(kp.PublicJWK), 0)
			p.Set(ctx, keys[2], kp.CreatedAt.UTC().Format(time.RFC3339Nano), 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.c.Watch(ctx, txf, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis: rotate key slots: %w", err)
		}
		if !prev.HasPrivate() && !prev.HasPublic() {
			return nil, nil
		}
		return prev, nil
	}
	return nil, fmt.Errorf("redis: rotate key slots: %w", repository.ErrConflict)
}

func (r *keyRepo) Retire(ctx context.Context, publicJWK []byte, at time.Time) error {
	if !json.Valid(publicJWK) {
		return fmt.Errorf("redis: retire key: %w", repository.ErrInvalidInput)
	}
	entry, err := json.Marshal(retiredEntry{PublicJWK: publicJWK, RetiredAt: at.UTC()})
	if err != nil {
		return err
	}
	return r.c.RPush(ctx, r.retiredKey(), string(entry)).Err()
}

func (r *keyRepo) ListRetired(ctx context.Context) ([]repository.RetiredKey, error) {
	raw, err := r.c.LRange(ctx, r.retiredKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]repository.RetiredKey, 0, len(raw))
	for _, s := range raw {
		var e retiredEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("redis: parse retired key: %w", err)
		}
		out = append(out, repository.RetiredKey{PublicJWK: []byte(e.PublicJWK), RetiredAt: e.RetiredAt})
	}
	return out, nil
}
