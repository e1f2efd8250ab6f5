// Package export serializa registros de asistencia a CSV y arma bundles
// firmados (cuerpo + firma separada + clave pública).
package export

import (
	"strings"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

// Header es la fila de encabezado del CSV, en orden fijo.
var Header = []string{"userId", "username", "fullName", "loginTime", "signature"}

// quote envuelve siempre en comillas y duplica las comillas internas.
// encoding/csv sólo cita cuando hace falta; acá cada campo va citado para
// que el cuerpo coincida byte a byte con los CSV ya firmados.
func quote(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func row(u *repository.User, rec repository.AttendanceRecord) string {
	sig := ""
	if rec.Signature != nil {
		sig = *rec.Signature
	}
	return strings.Join([]string{
		quote(u.UserID),
		quote(u.Username),
		quote(u.FullName),
		quote(rec.LoginTime),
		quote(sig),
	}, ",")
}

func assemble(rows []string) string {
	return strings.Join(Header, ",") + "\n" + strings.Join(rows, "\n")
}

// BuildCSVForUser: una fila por registro de asistencia de u.
// Sin registros el cuerpo es sólo "header\n".
func BuildCSVForUser(u *repository.User) string {
	rows := make([]string, 0, len(u.AttendanceLog))
	for _, rec := range u.AttendanceLog {
		rows = append(rows, row(u, rec))
	}
	return assemble(rows)
}

// BuildCSVForAll concatena los registros de todos los usuarios en orden.
func BuildCSVForAll(users []*repository.User) string {
	var rows []string
	for _, u := range users {
		for _, rec := range u.AttendanceLog {
			rows = append(rows, row(u, rec))
		}
	}
	return assemble(rows)
}
