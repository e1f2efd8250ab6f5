package signing

import (
	"encoding/base64"
	"errors"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/signroll/internal/keys"
)

// SignatureSize es el largo de r‖s para P-256.
const SignatureSize = 64

func decodeSignature(sigB64 string) ([]byte, error) {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sigB64))
	if err != nil {
		return nil, &VerificationError{Reason: "signature is not base64", Err: err}
	}
	if len(sig) != SignatureSize {
		return nil, &VerificationError{Reason: "signature must be 64 bytes (r||s)"}
	}
	return sig, nil
}

// Verify comprueba sigB64 sobre payload con pub.
// Firma inválida → (false, nil). Firma o clave mal formada → *VerificationError.
func Verify(payload []byte, sigB64 string, pub keys.JWK) (bool, error) {
	sig, err := decodeSignature(sigB64)
	if err != nil {
		return false, err
	}
	return verifyRaw(payload, sig, pub)
}

func verifyRaw(payload, sig []byte, pub keys.JWK) (bool, error) {
	pk, err := pub.PublicKey()
	if err != nil {
		return false, &VerificationError{Reason: "public key", Err: err}
	}
	err = jwtv5.SigningMethodES256.Verify(string(payload), sig, pk)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jwtv5.ErrECDSAVerification):
		return false, nil
	default:
		return false, &VerificationError{Reason: "verify", Err: err}
	}
}

// VerifyAny prueba la firma contra cada candidata en orden y devuelve el
// índice de la primera que verifica, o -1. Las candidatas mal formadas se
// saltean; si ninguna es usable devuelve *VerificationError.
func VerifyAny(payload []byte, sigB64 string, candidates ...keys.JWK) (int, error) {
	sig, err := decodeSignature(sigB64)
	if err != nil {
		return -1, err
	}
	usable := 0
	for i, c := range candidates {
		ok, err := verifyRaw(payload, sig, c)
		if err != nil {
			continue
		}
		usable++
		if ok {
			return i, nil
		}
	}
	if usable == 0 {
		return -1, &VerificationError{Reason: "no usable public key"}
	}
	return -1, nil
}
