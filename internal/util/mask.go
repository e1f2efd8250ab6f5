package util

import (
	"net/url"
	"strings"
)

// MaskDSN oculta la password de un DSN para poder loguearlo. Soporta la
// forma URL (postgres://u:p@host/db) y la key=value (password=p).
func MaskDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ""
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	parts := strings.Fields(dsn)
	for i, p := range parts {
		if k, _, ok := strings.Cut(p, "="); ok && strings.EqualFold(k, "password") {
			parts[i] = k + "=***"
		}
	}
	return strings.Join(parts, " ")
}
