// Package codes issues and inspects the opaque per-member codes printed on
// membership cards.
package codes

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// DefaultPrefix is prepended to every issued code.
const DefaultPrefix = "GYM"

const suffixLen = 8

// Issuer generates member codes of the form <prefix>-<memberID>-<suffix>.
type Issuer struct {
	prefix string
}

// NewIssuer returns an Issuer using prefix, or DefaultPrefix when empty.
func NewIssuer(prefix string) *Issuer {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Issuer{prefix: prefix}
}

// Prefix returns the configured code prefix.
func (i *Issuer) Prefix() string {
	return i.prefix
}

// Issue returns a fresh code for memberID. Reissuing yields a different
// suffix, which invalidates the previous card.
func (i *Issuer) Issue(memberID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLen]
	return i.prefix + "-" + memberID + "-" + suffix
}

// Parse extracts the member ID from a code this Issuer could have produced.
// The member ID itself may contain dashes, so only the prefix and the final
// segment are stripped.
func (i *Issuer) Parse(code string) (string, bool) {
	code = Normalize(code)
	rest, ok := strings.CutPrefix(code, i.prefix+"-")
	if !ok {
		return "", false
	}
	cut := strings.LastIndex(rest, "-")
	if cut <= 0 || len(rest)-cut-1 != suffixLen {
		return "", false
	}
	for _, r := range rest[cut+1:] {
		if !isHex(r) {
			return "", false
		}
	}
	return rest[:cut], true
}

// Normalize strips surrounding whitespace and the invisible characters some
// camera decoders and keyboard-wedge scanners append.
func Normalize(raw string) string {
	return strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || r == '\uFEFF' || r == '\u200B'
	})
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
