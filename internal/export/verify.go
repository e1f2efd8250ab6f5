package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/signroll/internal/signing"
)

// ParseBundle decodifica un .csv.sig.json.
func ParseBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("parse bundle: %w", err)
	}
	return b, nil
}

// VerifyBundle comprueba la firma del bundle sobre body con la clave que el
// propio bundle trae. Un bundle sin firma o sin clave es *VerificationError.
func VerifyBundle(body []byte, b Bundle) (bool, error) {
	if b.Signature == nil || *b.Signature == "" {
		return false, &signing.VerificationError{Reason: "bundle has no signature"}
	}
	if b.PublicKey == nil {
		return false, &signing.VerificationError{Reason: "bundle has no public key"}
	}
	return signing.Verify(body, *b.Signature, *b.PublicKey)
}

// ParseJSONExport decodifica un export JSON autocontenido.
func ParseJSONExport(data []byte) (*JSONExport, error) {
	var e JSONExport
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse json export: %w", err)
	}
	return &e, nil
}

// VerifyJSONExport reconstruye el sobre firmado desde el export y lo verifica.
// exportedBy es el valor pasado al armar el export (meta guarda
// "unknown" cuando era vacío).
func VerifyJSONExport(e *JSONExport, exportedBy string) (bool, error) {
	if e.Signature == nil || *e.Signature == "" {
		return false, &signing.VerificationError{Reason: "export has no signature"}
	}
	if e.PublicKey == nil {
		return false, &signing.VerificationError{Reason: "export has no public key"}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, e.Data); err != nil {
		return false, &signing.VerificationError{Reason: "data is not valid JSON", Err: err}
	}
	toSign, err := envelopeBytes(compact.Bytes(), e.Meta.ExportedAtISO, exportedBy)
	if err != nil {
		return false, &signing.VerificationError{Reason: "rebuild envelope", Err: err}
	}
	return signing.Verify(toSign, *e.Signature, *e.PublicKey)
}

// VerifyJSONExportFromMeta verifica usando el exportedBy que trae meta.
// Primero prueba el valor literal; si meta dice "unknown" y no valida, prueba
// con el exportedBy vacío que se registra así.
func VerifyJSONExportFromMeta(e *JSONExport) (bool, error) {
	ok, err := VerifyJSONExport(e, e.Meta.ExportedBy)
	if err != nil || ok || e.Meta.ExportedBy != unknownExporter {
		return ok, err
	}
	return VerifyJSONExport(e, "")
}
