package repository

import (
	"context"
	"time"
)

// Nombres de los dos slots persistidos del par de firma.
const (
	SlotPrivateJWK = "signingKeyPrivateJwk"
	SlotPublicJWK  = "signingKeyPublicJwk"
)

// StoredKeyPair es el contenido de los slots tal como se persiste.
// PrivateJWK puede venir cifrado (ver security/keycrypto); PublicJWK siempre
// es un JWK en claro. Cualquiera de los dos puede ser nil si el slot falta.
type StoredKeyPair struct {
	PrivateJWK []byte
	PublicJWK  []byte
	CreatedAt  time.Time
}

// HasPrivate reporta si el slot privado está presente.
func (k *StoredKeyPair) HasPrivate() bool { return k != nil && len(k.PrivateJWK) > 0 }

// HasPublic reporta si el slot público está presente.
func (k *StoredKeyPair) HasPublic() bool { return k != nil && len(k.PublicJWK) > 0 }

// RetiredKey es una clave pública que dejó de firmar pero sigue sirviendo
// para verificar firmas emitidas antes de la rotación.
type RetiredKey struct {
	PublicJWK []byte
	RetiredAt time.Time
}

// KeyRepository persiste exactamente un par de firma activo.
type KeyRepository interface {
	// Load lee ambos slots. Retorna ErrNotFound sólo si los dos faltan;
	// si falta uno, el StoredKeyPair viene con ese campo en nil.
	Load(ctx context.Context) (*StoredKeyPair, error)

	// CreateIfAbsent escribe ambos slots sólo si el slot privado está vacío.
	// El check-then-write es atómico respecto del almacenamiento: si otro
	// escritor ganó, se descarta kp y se devuelve el par persistido.
	CreateIfAbsent(ctx context.Context, kp *StoredKeyPair) (*StoredKeyPair, error)

	// PutPublic reescribe el slot público (reparación).
	PutPublic(ctx context.Context, publicJWK []byte) error

	// Rotate reemplaza ambos slots y mueve la pública anterior a retiradas.
	// Retorna el par anterior (nil si no había).
	Rotate(ctx context.Context, kp *StoredKeyPair) (*StoredKeyPair, error)

	// Retire agrega una clave pública a la lista de retiradas.
	Retire(ctx context.Context, publicJWK []byte, at time.Time) error

	// ListRetired devuelve las claves retiradas, más antigua primero.
	ListRetired(ctx context.Context) ([]RetiredKey, error)
}
