package ledger

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
	"github.com/dropDatabas3/signroll/internal/keys"
	"github.com/dropDatabas3/signroll/internal/signing"
)

// KeyRing entrega las claves públicas que pueden haber firmado registros
// (activa + retiradas). *keys.KeyStore la implementa.
type KeyRing interface {
	VerificationKeys(ctx context.Context) ([]keys.JWK, error)
}

// Problemas detectados por Audit.
const (
	ProblemUnsigned  = "unsigned"
	ProblemInvalid   = "invalid"
	ProblemMalformed = "malformed"
)

// Finding describe un registro degradado. Index es la posición en el log de
// asistencia (-1 para la firma de identidad).
type Finding struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Kind     string `json:"kind"`
	Index    int    `json:"index"`
	Problem  string `json:"problem"`
}

// AuditReport resume el estado de las firmas almacenadas.
type AuditReport struct {
	Users    int       `json:"users"`
	Records  int       `json:"records"`
	Signed   int       `json:"signed"`
	Unsigned int       `json:"unsigned"`
	Invalid  int       `json:"invalid"`
	Findings []Finding `json:"findings"`
}

// Clean es true si todas las firmas existen y verifican.
func (r *AuditReport) Clean() bool { return r.Unsigned == 0 && r.Invalid == 0 }

// Audit recorre todas las identidades y registros y verifica cada firma
// contra el anillo de claves. Los registros sin firma son el estado
// degradado que deja el fail-open.
func (s *Service) Audit(ctx context.Context, ring KeyRing) (*AuditReport, error) {
	vks, err := ring.VerificationKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load verification keys: %w", err)
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	rep := &AuditReport{Users: len(users), Findings: []Finding{}}
	check := func(u *repository.User, kind string, index int, payload string, sig *string) {
		rep.Records++
		problem := ""
		switch {
		case sig == nil || *sig == "":
			problem = ProblemUnsigned
		default:
			idx, err := signing.VerifyAny([]byte(payload), *sig, vks...)
			switch {
			case err != nil:
				problem = ProblemMalformed
			case idx < 0:
				problem = ProblemInvalid
			}
		}
		switch problem {
		case "":
			rep.Signed++
			return
		case ProblemUnsigned:
			rep.Unsigned++
		default:
			rep.Invalid++
		}
		rep.Findings = append(rep.Findings, Finding{
			UserID: u.UserID, Username: u.Username, Kind: kind, Index: index, Problem: problem,
		})
	}

	for _, u := range users {
		check(u, KindIdentity, -1, IdentityPayload(u), u.DigitalSignature)
		for i, rec := range u.AttendanceLog {
			check(u, KindAttendance, i, AttendancePayload(u, rec), rec.Signature)
		}
	}
	return rep, nil
}
