package keys

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/metrics"
	"github.com/dropDatabas3/signroll/internal/observability/logger"
	"github.com/dropDatabas3/signroll/internal/security/keycrypto"
)

const cacheKeyActive = "active"

// State es la etapa del ciclo de vida del par de firma.
type State int32

const (
	StateAbsent State = iota
	StateGenerating
	StatePresent
)

func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StatePresent:
		return "present"
	default:
		return "absent"
	}
}

// Provider genera pares ECDSA P-256. Se inyecta para poder simular un
// proveedor criptográfico caído.
type Provider interface {
	GenerateKey() (*ecdsa.PrivateKey, error)
}

// ProviderFunc adapta una función a Provider.
type ProviderFunc func() (*ecdsa.PrivateKey, error)

func (f ProviderFunc) GenerateKey() (*ecdsa.PrivateKey, error) { return f() }

// DefaultProvider usa crypto/rand.
func DefaultProvider() Provider {
	return ProviderFunc(func() (*ecdsa.PrivateKey, error) {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
}

// KeyPair es el par activo ya decodificado. Es de sólo lectura para los
// consumidores: Signer lo toma prestado durante una firma y no lo muta.
type KeyPair struct {
	Private     *ecdsa.PrivateKey
	PublicJWK   JWK
	Fingerprint string
	CreatedAt   time.Time
}

// Options configura un KeyStore. Los campos vacíos toman defaults.
type Options struct {
	Provider  Provider
	MasterKey string        // si no está vacía, el JWK privado se guarda cifrado
	CacheTTL  time.Duration // default 30s; <0 desactiva la cache
	Now       func() time.Time
	Logger    *zap.Logger
}

// KeyStore mantiene exactamente un par de firma por instalación.
//
// Ciclo de vida: Absent → Generating → Present. La transición a Generating
// es una sección crítica (mu + singleflight dentro del proceso,
// CreateIfAbsent atómico en el almacenamiento entre procesos). Si la
// generación falla el estado vuelve a Absent y la próxima llamada reintenta.
type KeyStore struct {
	repo      repository.KeyRepository
	provider  Provider
	masterKey string
	now       func() time.Time
	log       *zap.Logger

	cache *gocache.Cache
	sf    singleflight.Group

	mu    sync.Mutex
	state atomic.Int32
}

// NewKeyStore crea un KeyStore sobre repo. No toca el almacenamiento.
func NewKeyStore(repo repository.KeyRepository, opts Options) *KeyStore {
	if opts.Provider == nil {
		opts.Provider = DefaultProvider()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("keys")
	}
	ttl := opts.CacheTTL
	switch {
	case ttl == 0:
		ttl = 30 * time.Second
	case ttl < 0:
		ttl = time.Nanosecond
	}
	return &KeyStore{
		repo:      repo,
		provider:  opts.Provider,
		masterKey: opts.MasterKey,
		now:       opts.Now,
		log:       opts.Logger,
		cache:     gocache.New(ttl, time.Minute),
	}
}

// State devuelve el estado actual del ciclo de vida.
func (k *KeyStore) State() State { return State(k.state.Load()) }

func (k *KeyStore) setState(s State) { k.state.Store(int32(s)) }

// Invalidate descarta la cache para forzar la relectura de los slots.
func (k *KeyStore) Invalidate() { k.cache.Delete(cacheKeyActive) }

func (k *KeyStore) cached() (*KeyPair, bool) {
	if v, ok := k.cache.Get(cacheKeyActive); ok {
		return v.(*KeyPair), true
	}
	return nil, false
}

// GetOrCreateKeyPair devuelve el par persistido o, si no existe, genera uno,
// lo persiste y lo devuelve. Es idempotente: mientras los slots no se borren
// siempre devuelve el mismo material público.
func (k *KeyStore) GetOrCreateKeyPair(ctx context.Context) (*KeyPair, error) {
	if kp, ok := k.cached(); ok {
		return kp, nil
	}
	// El trabajo compartido no depende del ctx del primer llamador; cada
	// llamador sólo deja de esperar cuando se cancela el suyo.
	ch := k.sf.DoChan(cacheKeyActive, func() (any, error) {
		return k.loadOrCreate(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeyPair), nil
	}
}

// PublicJWK devuelve la clave pública activa (generando el par si falta).
func (k *KeyStore) PublicJWK(ctx context.Context) (JWK, error) {
	kp, err := k.GetOrCreateKeyPair(ctx)
	if err != nil {
		return JWK{}, err
	}
	return kp.PublicJWK, nil
}

// VerificationKeys devuelve la clave pública activa seguida de las retiradas
// (más reciente primero), para verificar firmas anteriores a una rotación.
func (k *KeyStore) VerificationKeys(ctx context.Context) ([]JWK, error) {
	kp, err := k.GetOrCreateKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	out := []JWK{kp.PublicJWK}
	retired, err := k.repo.ListRetired(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retired keys: %w", err)
	}
	for i := len(retired) - 1; i >= 0; i-- {
		j, err := ParseJWK(retired[i].PublicJWK)
		if err != nil {
			k.log.Warn("retired key skipped", logger.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// Rotate genera un par nuevo y lo instala como activo. La pública anterior
// pasa a la lista de retiradas, así las firmas previas siguen verificables.
func (k *KeyStore) Rotate(ctx context.Context) (*KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	stored, priv, err := k.newStoredPair()
	if err != nil {
		return nil, err
	}
	prev, err := k.repo.Rotate(context.WithoutCancel(ctx), stored)
	if err != nil {
		return nil, fmt.Errorf("rotate key slots: %w", err)
	}
	kp, err := k.keyPairFrom(priv, stored.CreatedAt)
	if err != nil {
		return nil, err
	}
	k.cache.SetDefault(cacheKeyActive, kp)
	k.setState(StatePresent)

	fields := []zap.Field{logger.Fingerprint(kp.Fingerprint)}
	if prev.HasPublic() {
		if pj, perr := ParseJWK(prev.PublicJWK); perr == nil {
			fields = append(fields, zap.String("previous", Thumbprint(pj)))
		}
	}
	k.log.Info("signing key rotated", fields...)
	return kp, nil
}

func (k *KeyStore) loadOrCreate(ctx context.Context) (*KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if kp, ok := k.cached(); ok {
		return kp, nil
	}

	stored, err := k.repo.Load(ctx)
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("load key slots: %w", err)
	}
	if stored.HasPrivate() {
		kp, err := k.adopt(ctx, stored)
		if err != nil {
			return nil, err
		}
		k.cache.SetDefault(cacheKeyActive, kp)
		k.setState(StatePresent)
		return kp, nil
	}

	// Slot privado vacío. Una pública huérfana todavía verifica firmas
	// viejas: se retira antes de generar.
	if stored.HasPublic() {
		if rerr := k.repo.Retire(context.WithoutCancel(ctx), stored.PublicJWK, k.now().UTC()); rerr != nil {
			return nil, fmt.Errorf("retire orphan public key: %w", rerr)
		}
		k.log.Warn("private key slot missing; orphan public key retired", logger.Slot(repository.SlotPrivateJWK))
	}
	return k.generate(ctx)
}

// generate corre con mu tomado.
func (k *KeyStore) generate(ctx context.Context) (*KeyPair, error) {
	k.setState(StateGenerating)

	stored, _, err := k.newStoredPair()
	if err != nil {
		k.setState(StateAbsent)
		return nil, err
	}

	// La escritura no se cancela a mitad: o queda el par completo o nada.
	winner, err := k.repo.CreateIfAbsent(context.WithoutCancel(ctx), stored)
	if err != nil {
		k.setState(StateAbsent)
		metrics.KeyGenerationsTotal.WithLabelValues("error").Inc()
		k.log.Warn("key persistence failed; will retry on next call", logger.Err(err))
		return nil, &KeyGenerationError{Err: fmt.Errorf("persist key slots: %w", err)}
	}

	if bytes.Equal(winner.PrivateJWK, stored.PrivateJWK) {
		metrics.KeyGenerationsTotal.WithLabelValues("created").Inc()
	} else {
		// Otro escritor persistió primero: se descarta el par propio.
		metrics.KeyGenerationsTotal.WithLabelValues("discarded").Inc()
		k.log.Info("concurrent key generation lost; adopting persisted pair")
	}

	kp, err := k.adopt(ctx, winner)
	if err != nil {
		k.setState(StateAbsent)
		return nil, err
	}
	k.cache.SetDefault(cacheKeyActive, kp)
	k.setState(StatePresent)
	k.log.Info("signing key ready", logger.Fingerprint(kp.Fingerprint))
	return kp, nil
}

// newStoredPair genera un par y lo codifica como slots listos para persistir.
func (k *KeyStore) newStoredPair() (*repository.StoredKeyPair, *ecdsa.PrivateKey, error) {
	priv, err := k.provider.GenerateKey()
	if err != nil {
		metrics.KeyGenerationsTotal.WithLabelValues("error").Inc()
		k.log.Warn("key generation failed; will retry on next call", logger.Err(err))
		return nil, nil, &KeyGenerationError{Err: err}
	}
	if priv == nil || priv.Curve != elliptic.P256() {
		metrics.KeyGenerationsTotal.WithLabelValues("error").Inc()
		return nil, nil, &KeyGenerationError{Err: errors.New("provider returned a non P-256 key")}
	}

	privJWK, err := EncodePrivate(priv)
	if err != nil {
		return nil, nil, &KeyGenerationError{Err: err}
	}
	privBytes := privJWK.Marshal()
	if k.masterKey != "" {
		sealed, err := keycrypto.Seal(privBytes, k.masterKey)
		if err != nil {
			return nil, nil, &KeyGenerationError{Err: fmt.Errorf("seal private key: %w", err)}
		}
		privBytes = sealed
	}
	return &repository.StoredKeyPair{
		PrivateJWK: privBytes,
		PublicJWK:  privJWK.Public().Marshal(),
		CreatedAt:  k.now().UTC(),
	}, priv, nil
}

// adopt decodifica un par persistido y repara el slot público si falta o no
// corresponde a la privada. Corre con mu tomado.
func (k *KeyStore) adopt(ctx context.Context, stored *repository.StoredKeyPair) (*KeyPair, error) {
	raw := stored.PrivateJWK
	if keycrypto.IsSealed(raw) {
		if k.masterKey == "" {
			return nil, ErrMasterKeyRequired
		}
		pt, err := keycrypto.Open(raw, k.masterKey)
		if err != nil {
			return nil, fmt.Errorf("open private key slot: %w", err)
		}
		raw = pt
	}
	privJWK, err := ParseJWK(raw)
	if err != nil {
		return nil, fmt.Errorf("decode private key slot: %w", err)
	}
	priv, err := privJWK.PrivateKey()
	if err != nil {
		return nil, fmt.Errorf("decode private key slot: %w", err)
	}
	kp, err := k.keyPairFrom(priv, stored.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := k.repairPublic(ctx, stored, kp); err != nil {
		return nil, err
	}
	return kp, nil
}

func (k *KeyStore) repairPublic(ctx context.Context, stored *repository.StoredKeyPair, kp *KeyPair) error {
	if stored.HasPublic() {
		cur, err := ParseJWK(stored.PublicJWK)
		if err == nil && Thumbprint(cur) == kp.Fingerprint {
			return nil
		}
		if err == nil {
			// Pública distinta de la privada: se conserva como retirada.
			if rerr := k.repo.Retire(context.WithoutCancel(ctx), stored.PublicJWK, k.now().UTC()); rerr != nil {
				return fmt.Errorf("retire mismatched public key: %w", rerr)
			}
		}
	}
	if err := k.repo.PutPublic(context.WithoutCancel(ctx), kp.PublicJWK.Marshal()); err != nil {
		return fmt.Errorf("repair public key slot: %w", err)
	}
	k.log.Warn("public key slot repaired from private key",
		logger.Slot(repository.SlotPublicJWK), logger.Fingerprint(kp.Fingerprint))
	return nil
}

func (k *KeyStore) keyPairFrom(priv *ecdsa.PrivateKey, createdAt time.Time) (*KeyPair, error) {
	pub, err := EncodePublic(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Private:     priv,
		PublicJWK:   pub,
		Fingerprint: Thumbprint(pub),
		CreatedAt:   createdAt,
	}, nil
}

// DescribePublic es un helper para CLIs: JWK público indentado.
func DescribePublic(j JWK) string {
	b, _ := json.MarshalIndent(j.Public(), "", "  ")
	return string(b)
}
