package repository

import (
	"context"
)

// AttendanceKind distingue el origen de un registro de asistencia.
type AttendanceKind string

const (
	// AttendanceSignIn se crea en cada autenticación exitosa.
	AttendanceSignIn AttendanceKind = "signin"
	// AttendanceManual se crea con el check-in manual.
	AttendanceManual AttendanceKind = "manual"
)

// User representa la identidad registrada.
//
// Los campos estables (UserID, Username, FullName, AccountCreatedDate) se
// firman una única vez al crear la cuenta. No existe camino de edición.
type User struct {
	UserID             string             `json:"userId"`
	Username           string             `json:"username"`
	FullName           string             `json:"fullName"`
	AccountCreatedDate string             `json:"accountCreatedDate"`
	LastLogin          *string            `json:"lastLogin"`
	DigitalSignature   *string            `json:"digitalSignature"`
	AttendanceLog      []AttendanceRecord `json:"attendanceLog"`
}

// AttendanceRecord es un evento de asistencia con su firma individual.
// Signature es nil cuando la firma no pudo calcularse (fail-open).
type AttendanceRecord struct {
	LoginTime string         `json:"loginTime"`
	Timestamp int64          `json:"timestamp"` // epoch millis
	Signature *string        `json:"signature"`
	Kind      AttendanceKind `json:"kind,omitempty"`
}

// Clone devuelve una copia profunda para que los adapters no compartan slices.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.LastLogin != nil {
		v := *u.LastLogin
		c.LastLogin = &v
	}
	if u.DigitalSignature != nil {
		v := *u.DigitalSignature
		c.DigitalSignature = &v
	}
	c.AttendanceLog = make([]AttendanceRecord, len(u.AttendanceLog))
	for i, r := range u.AttendanceLog {
		if r.Signature != nil {
			s := *r.Signature
			r.Signature = &s
		}
		c.AttendanceLog[i] = r
	}
	return &c
}

// UserRepository define operaciones sobre identidades y su log de asistencia.
type UserRepository interface {
	// Create persiste una identidad nueva (ya firmada o sin firma).
	// Retorna ErrConflict si el username ya existe.
	Create(ctx context.Context, u *User) error

	// GetByID busca un usuario por ID.
	// Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, userID string) (*User, error)

	// GetByUsername busca un usuario por username.
	// Retorna ErrNotFound si no existe.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// List devuelve todos los usuarios en orden de creación, con su log.
	List(ctx context.Context) ([]*User, error)

	// AppendAttendance agrega un registro al final del log del usuario.
	// También actualiza LastLogin con el LoginTime del registro.
	// Retorna ErrNotFound si el usuario no existe.
	AppendAttendance(ctx context.Context, userID string, rec AttendanceRecord) error
}
