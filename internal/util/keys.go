package util

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// MaxScopeLen bounds the readable part of a composite key. Longer scopes are hashed.
const MaxScopeLen = 200

// ScopeSep separates the parts of a composite scope. Parts may contain "-"
// (dates do), so the separator must be one that is escaped inside parts.
const ScopeSep = "|"

var partEscaper = strings.NewReplacer("%", "%25", ScopeSep, "%7C")

// ScopeKey joins parts with ScopeSep in the order given, percent-escaping the
// separator inside parts so distinct part lists never share a key. When the
// joined scope is longer than MaxScopeLen it is replaced by "h" + the first 16
// hex chars of its SHA-256.
func ScopeKey(parts []string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = partEscaper.Replace(p)
	}
	joined := strings.Join(esc, ScopeSep)
	if len(joined) <= MaxScopeLen {
		return joined
	}
	sum := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("h%x", sum)[:1+16]
}
