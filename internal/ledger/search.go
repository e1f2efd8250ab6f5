package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

// ErrEmptyQuery se devuelve cuando Search recibe un término vacío.
var ErrEmptyQuery = errors.New("ledger: empty search term")

// Search devuelve, en orden de registro, los usuarios donde term aparece
// (sin distinguir mayúsculas) en el id, username, nombre completo o firma de
// identidad, o en el loginTime o la firma de algún registro de asistencia.
func (s *Service) Search(ctx context.Context, term string) ([]*repository.User, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, ErrEmptyQuery
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*repository.User, 0, len(users))
	for _, u := range users {
		if matches(u, term) {
			out = append(out, u)
		}
	}
	return out, nil
}

func matches(u *repository.User, term string) bool {
	has := func(v string) bool { return strings.Contains(strings.ToLower(v), term) }
	if has(u.UserID) || has(u.Username) || has(u.FullName) {
		return true
	}
	if u.DigitalSignature != nil && has(*u.DigitalSignature) {
		return true
	}
	for _, r := range u.AttendanceLog {
		if has(r.LoginTime) || (r.Signature != nil && has(*r.Signature)) {
			return true
		}
	}
	return false
}
