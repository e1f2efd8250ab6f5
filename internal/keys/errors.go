package keys

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedJWK indica un JWK que no describe una clave EC P-256 válida.
	ErrMalformedJWK = errors.New("malformed_jwk")

	// ErrMasterKeyRequired se devuelve cuando el slot privado está cifrado
	// y no hay SIGNING_MASTER_KEY configurada.
	ErrMasterKeyRequired = errors.New("signing_master_key_required")
)

// KeyGenerationError indica que no se pudo obtener un par usable: el
// proveedor criptográfico falló o el par generado no pudo persistirse.
// No es fatal; la próxima llamada reintenta la generación.
type KeyGenerationError struct {
	Err error
}

func (e *KeyGenerationError) Error() string {
	return fmt.Sprintf("key generation failed: %v", e.Err)
}

func (e *KeyGenerationError) Unwrap() error { return e.Err }

// IsKeyGenerationError verifica si err (o alguno que envuelve) es KeyGenerationError.
func IsKeyGenerationError(err error) bool {
	var kg *KeyGenerationError
	return errors.As(err, &kg)
}
