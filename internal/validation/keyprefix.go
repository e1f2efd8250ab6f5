package validation

import "regexp"

// Reglas para prefijos de claves (redis.prefix):
// - Sólo minúsculas.
// - Empieza y termina con [a-z0-9].
// - En el medio se permite [a-z0-9:_.-].
// - Largo 1..64.
//
// Válidos: signroll, signroll:prod, team_a.ledger
// Inválidos: "", :lead, trail:, "bad space", UPPER, "a;b", 65+ chars.
var keyPrefixRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidKeyPrefix reporta si name se puede usar como prefijo de claves.
func ValidKeyPrefix(name string) bool {
	return keyPrefixRe.MatchString(name)
}
