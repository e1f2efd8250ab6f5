// Package signing firma y verifica payloads con ECDSA P-256 / SHA-256.
//
// Formato de firma: base64 estándar de r‖s (64 bytes), el mismo que produce
// WebCrypto con {name: "ECDSA", hash: "SHA-256"}. Las firmas ECDSA son
// aleatorias: dos firmas del mismo payload difieren y ambas verifican.
package signing

import (
	"context"
	"encoding/base64"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/metrics"
)

// KeySource entrega el par activo. *keys.KeyStore la implementa.
type KeySource interface {
	GetOrCreateKeyPair(ctx context.Context) (*keys.KeyPair, error)
}

// Signer firma con el par de KeySource, generándolo en el primer uso.
// No guarda estado entre llamadas salvo lo que cachea el KeyStore.
type Signer struct {
	src KeySource
}

func NewSigner(src KeySource) *Signer {
	return &Signer{src: src}
}

// Sign devuelve la firma base64 de payload.
// Errores: *keys.KeyGenerationError si no hay par usable, *SigningError en
// cualquier otro fallo.
func (s *Signer) Sign(ctx context.Context, payload []byte) (string, error) {
	sig, _, err := s.SignWithKey(ctx, payload)
	return sig, err
}

// SignWithKey firma y devuelve además la clave pública usada, para que un
// bundle lleve exactamente la clave que verifica su firma aunque haya una
// rotación en paralelo.
func (s *Signer) SignWithKey(ctx context.Context, payload []byte) (string, keys.JWK, error) {
	start := time.Now()

	kp, err := s.src.GetOrCreateKeyPair(ctx)
	if err != nil {
		if keys.IsKeyGenerationError(err) {
			return "", keys.JWK{}, err
		}
		return "", keys.JWK{}, &SigningError{Err: err}
	}

	raw, err := jwtv5.SigningMethodES256.Sign(string(payload), kp.Private)
	if err != nil {
		return "", keys.JWK{}, &SigningError{Err: err}
	}
	metrics.SignLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return base64.StdEncoding.EncodeToString(raw), kp.PublicJWK, nil
}

// PublicJWK devuelve la clave pública activa.
func (s *Signer) PublicJWK(ctx context.Context) (keys.JWK, error) {
	kp, err := s.src.GetOrCreateKeyPair(ctx)
	if err != nil {
		return keys.JWK{}, err
	}
	return kp.PublicJWK, nil
}
