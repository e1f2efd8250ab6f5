package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

const (
	ktyEC    = "EC"
	crvP256  = "P-256"
	opSign   = "sign"
	opVerify = "verify"
)

// JWK es la codificación de intercambio de una clave EC P-256.
// Los campos van en orden alfabético, igual que exportKey("jwk") de WebCrypto,
// para que el JSON persistido sea idéntico al que produce un navegador.
// La conversión a claves Go pasa por jose.JSONWebKey; este struct sólo suma
// los miembros ext y key_ops que go-jose no modela.
type JWK struct {
	Crv    string   `json:"crv"`
	D      string   `json:"d,omitempty"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops,omitempty"`
	Kty    string   `json:"kty"`
	X      string   `json:"x"`
	Y      string   `json:"y"`
}

// IsPrivate reporta si el JWK trae el escalar privado.
func (j JWK) IsPrivate() bool { return j.D != "" }

// Public devuelve la mitad pública del JWK (sin d, key_ops=[verify]).
func (j JWK) Public() JWK {
	return JWK{
		Crv:    j.Crv,
		Ext:    true,
		KeyOps: []string{opVerify},
		Kty:    j.Kty,
		X:      j.X,
		Y:      j.Y,
	}
}

// Marshal serializa el JWK.
func (j JWK) Marshal() []byte {
	b, _ := json.Marshal(j)
	return b
}

// ParseJWK decodifica y valida un JWK EC P-256 (público o privado).
func ParseJWK(data []byte) (JWK, error) {
	var j JWK
	if err := json.Unmarshal(data, &j); err != nil {
		return JWK{}, fmt.Errorf("%w: %v", ErrMalformedJWK, err)
	}
	if j.IsPrivate() {
		if _, err := j.PrivateKey(); err != nil {
			return JWK{}, err
		}
		return j, nil
	}
	if _, err := j.PublicKey(); err != nil {
		return JWK{}, err
	}
	return j, nil
}

// toJose decodifica con go-jose, que valida el largo de las coordenadas y
// que el punto pertenezca a la curva.
func (j JWK) toJose() (jose.JSONWebKey, error) {
	if j.Kty != ktyEC || j.Crv != crvP256 {
		return jose.JSONWebKey{}, fmt.Errorf("%w: unsupported kty/crv %q/%q", ErrMalformedJWK, j.Kty, j.Crv)
	}
	var jk jose.JSONWebKey
	if err := jk.UnmarshalJSON(j.Marshal()); err != nil {
		return jose.JSONWebKey{}, fmt.Errorf("%w: %v", ErrMalformedJWK, err)
	}
	if !jk.Valid() {
		return jose.JSONWebKey{}, fmt.Errorf("%w: invalid key material", ErrMalformedJWK)
	}
	return jk, nil
}

// fromJose codifica key (ecdsa pública o privada) con go-jose, que emite
// coordenadas de ancho fijo, y agrega ext/key_ops.
func fromJose(key any, ops string) (JWK, error) {
	jk := jose.JSONWebKey{Key: key}
	if !jk.Valid() {
		return JWK{}, fmt.Errorf("%w: invalid key", ErrMalformedJWK)
	}
	raw, err := jk.MarshalJSON()
	if err != nil {
		return JWK{}, fmt.Errorf("%w: %v", ErrMalformedJWK, err)
	}
	var j JWK
	if err := json.Unmarshal(raw, &j); err != nil {
		return JWK{}, fmt.Errorf("%w: %v", ErrMalformedJWK, err)
	}
	j.Ext = true
	j.KeyOps = []string{ops}
	return j, nil
}

// PublicKey convierte el JWK a *ecdsa.PublicKey.
func (j JWK) PublicKey() (*ecdsa.PublicKey, error) {
	jk, err := j.Public().toJose()
	if err != nil {
		return nil, err
	}
	pub, ok := jk.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected EC public key, got %T", ErrMalformedJWK, jk.Key)
	}
	return pub, nil
}

// PrivateKey convierte el JWK a *ecdsa.PrivateKey y verifica que d
// corresponda a (x, y); go-jose no hace ese chequeo.
func (j JWK) PrivateKey() (*ecdsa.PrivateKey, error) {
	if !j.IsPrivate() {
		return nil, fmt.Errorf("%w: missing d", ErrMalformedJWK)
	}
	jk, err := j.toJose()
	if err != nil {
		return nil, err
	}
	priv, ok := jk.Key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected EC private key, got %T", ErrMalformedJWK, jk.Key)
	}
	derived, err := priv.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid scalar", ErrMalformedJWK)
	}
	declared, err := priv.PublicKey.ECDH()
	if err != nil || !derived.PublicKey().Equal(declared) {
		return nil, fmt.Errorf("%w: d does not match x/y", ErrMalformedJWK)
	}
	return priv, nil
}

// EncodePublic codifica una clave pública P-256 como JWK.
func EncodePublic(pub *ecdsa.PublicKey) (JWK, error) {
	if pub == nil || pub.Curve != elliptic.P256() {
		return JWK{}, fmt.Errorf("%w: expected P-256 public key", ErrMalformedJWK)
	}
	return fromJose(pub, opVerify)
}

// EncodePrivate codifica una clave privada P-256 como JWK.
func EncodePrivate(priv *ecdsa.PrivateKey) (JWK, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return JWK{}, fmt.Errorf("%w: expected P-256 private key", ErrMalformedJWK)
	}
	return fromJose(priv, opSign)
}

// Thumbprint calcula el thumbprint RFC 7638 (SHA-256, base64url) de la
// parte pública. Se usa como huella estable de la clave. Devuelve "" si el
// JWK no es una clave válida.
func Thumbprint(j JWK) string {
	jk, err := j.Public().toJose()
	if err != nil {
		return ""
	}
	sum, err := jk.Thumbprint(crypto.SHA256)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(sum)
}
