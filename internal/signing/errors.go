package signing

import (
	"errors"
	"fmt"
)

// SigningError indica que la firma falló después de obtener el par (o que el
// par no pudo leerse del almacenamiento). No es fatal: los llamadores
// degradan a registro sin firma.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return fmt.Sprintf("signing failed: %v", e.Err) }
func (e *SigningError) Unwrap() error { return e.Err }

// VerificationError indica una firma o clave mal formada. Una firma bien
// formada que no verifica NO es un error: Verify devuelve false.
type VerificationError struct {
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification input invalid: %s: %v", e.Reason, e.Err)
	}
	return "verification input invalid: " + e.Reason
}

func (e *VerificationError) Unwrap() error { return e.Err }

func IsSigningError(err error) bool {
	var se *SigningError
	return errors.As(err, &se)
}

func IsVerificationError(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve)
}
