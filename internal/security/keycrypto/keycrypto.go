// Package keycrypto cifra el JWK privado en reposo con una clave maestra.
//
// Formato del sobre: v1.<base64(nonce)>.<base64(ciphertext)>
// La clave AES-256 se deriva de la maestra con HKDF-SHA256, así que la
// maestra puede ser cualquier string no vacío (ej: openssl rand -base64 32).
package keycrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopePrefix = "v1"
	sep            = "."
	nonceSizeGCM   = 12 // 96 bits
	keyLen         = 32 // AES-256
	hkdfInfo       = "signroll/private-jwk"
)

var (
	// ErrEmptyMasterKey se devuelve si se intenta cifrar/descifrar sin maestra.
	ErrEmptyMasterKey = errors.New("keycrypto: master key is empty")
	// ErrMalformedEnvelope indica que el sobre no tiene el formato esperado.
	ErrMalformedEnvelope = errors.New("keycrypto: malformed envelope")
)

// IsSealed reporta si data parece un sobre cifrado (y no un JWK en claro).
func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), envelopePrefix+sep)
}

func deriveKey(masterKey string) ([]byte, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, ErrEmptyMasterKey
	}
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo))
	k := make([]byte, keyLen)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return k, nil
}

func newGCM(masterKey string) (cipher.AEAD, error) {
	k, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Seal cifra plaintext y devuelve el sobre.
func Seal(plaintext []byte, masterKey string) ([]byte, error) {
	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, []byte(envelopePrefix))

	out := envelopePrefix + sep +
		base64.StdEncoding.EncodeToString(nonce) + sep +
		base64.StdEncoding.EncodeToString(ct)
	return []byte(out), nil
}

// Open descifra un sobre producido por Seal.
func Open(envelope []byte, masterKey string) ([]byte, error) {
	parts := strings.Split(string(envelope), sep)
	if len(parts) != 3 || parts[0] != envelopePrefix {
		return nil, ErrMalformedEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ct, []byte(envelopePrefix))
	if err != nil {
		return nil, fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return pt, nil
}
