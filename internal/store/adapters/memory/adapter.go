// Package memory implementa un adapter en memoria (tests y modo efímero).
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	store "github.com/dropDatabas3/signroll/internal/store"
)

func init() {
	store.RegisterAdapter(&memoryAdapter{})
}

type memoryAdapter struct{}

func (a *memoryAdapter) Name() string { return "memory" }

// Connect devuelve una conexión nueva y vacía: cada Connect es un almacenamiento distinto.
func (a *memoryAdapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.AdapterConnection, error) {
	return NewConnection(), nil
}

// Connection agrupa los repos en memoria.
type Connection struct {
	users *UserRepo
	keys  *KeyRepo
}

// NewConnection crea una conexión en memoria lista para usar.
func NewConnection() *Connection {
	return &Connection{users: NewUserRepo(), keys: NewKeyRepo()}
}

func (c *Connection) Name() string                     { return "memory" }
func (c *Connection) Ping(ctx context.Context) error   { return nil }
func (c *Connection) Close() error                     { return nil }
func (c *Connection) Users() repository.UserRepository { return c.users }
func (c *Connection) Keys() repository.KeyRepository   { return c.keys }

// ─── UserRepository ───

// UserRepo guarda usuarios en un slice (orden de creación) con índices.
type UserRepo struct {
	mu     sync.RWMutex
	order  []*repository.User
	byID   map[string]*repository.User
	byName map[string]*repository.User
}

func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:   make(map[string]*repository.User),
		byName: make(map[string]*repository.User),
	}
}

func (r *UserRepo) Create(ctx context.Context, u *repository.User) error {
	if u == nil || u.UserID == "" || u.Username == "" {
		return repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[u.Username]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.byID[u.UserID]; ok {
		return repository.ErrConflict
	}
	c := u.Clone()
	r.order = append(r.order, c)
	r.byID[c.UserID] = c
	r.byName[c.Username] = c
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u.Clone(), nil
}

func (r *UserRepo) List(ctx context.Context) ([]*repository.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*repository.User, 0, len(r.order))
	for _, u := range r.order {
		out = append(out, u.Clone())
	}
	return out, nil
}

func (r *UserRepo) AppendAttendance(ctx context.Context, userID string, rec repository.AttendanceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Signature != nil {
		s := *rec.Signature
		rec.Signature = &s
	}
	u.AttendanceLog = append(u.AttendanceLog, rec)
	lt := rec.LoginTime
	u.LastLogin = &lt
	return nil
}

// ─── KeyRepository ───

// KeyRepo guarda los dos slots bajo un único mutex: el check-then-write de
// CreateIfAbsent es atómico.
type KeyRepo struct {
	mu      sync.Mutex
	priv    []byte
	pub     []byte
	created time.Time
	retired []repository.RetiredKey
}

func NewKeyRepo() *KeyRepo { return &KeyRepo{} }

func (r *KeyRepo) snapshot() *repository.StoredKeyPair {
	return &repository.StoredKeyPair{
		PrivateJWK: clone(r.priv),
		PublicJWK:  clone(r.pub),
		CreatedAt:  r.created,
	}
}

func (r *KeyRepo) Load(ctx context.Context) (*repository.StoredKeyPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.priv) == 0 && len(r.pub) == 0 {
		return nil, repository.ErrNotFound
	}
	return r.snapshot(), nil
}

func (r *KeyRepo) CreateIfAbsent(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.priv) == 0 {
		r.priv = clone(kp.PrivateJWK)
		r.pub = clone(kp.PublicJWK)
		r.created = kp.CreatedAt
	}
	return r.snapshot(), nil
}

func (r *KeyRepo) PutPublic(ctx context.Context, publicJWK []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pub = clone(publicJWK)
	return nil
}

func (r *KeyRepo) Rotate(ctx context.Context, kp *repository.StoredKeyPair) (*repository.StoredKeyPair, error) {
	if !kp.HasPrivate() || !kp.HasPublic() {
		return nil, repository.ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var prev *repository.StoredKeyPair
	if len(r.priv) > 0 || len(r.pub) > 0 {
		prev = r.snapshot()
		if len(r.pub) > 0 {
			r.retired = append(r.retired, repository.RetiredKey{PublicJWK: clone(r.pub), RetiredAt: kp.CreatedAt})
		}
	}
	r.priv = clone(kp.PrivateJWK)
	r.pub = clone(kp.PublicJWK)
	r.created = kp.CreatedAt
	return prev, nil
}

func (r *KeyRepo) Retire(ctx context.Context, publicJWK []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired = append(r.retired, repository.RetiredKey{PublicJWK: clone(publicJWK), RetiredAt: at})
	return nil
}

func (r *KeyRepo) ListRetired(ctx context.Context) ([]repository.RetiredKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.RetiredKey, len(r.retired))
	copy(out, r.retired)
	return out, nil
}

// DropSlot borra un slot, simulando pérdida de datos. Sólo para tests.
func (r *KeyRepo) DropSlot(slot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch slot {
	case repository.SlotPrivateJWK:
		r.priv = nil
	case repository.SlotPublicJWK:
		r.pub = nil
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
