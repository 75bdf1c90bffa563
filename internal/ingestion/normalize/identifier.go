package normalize

import (
	"regexp"
	"strings"
)

var (
	// 9-digit root followed by a two-letter program code and a 4-digit reference.
	businessNumberWithProgram = regexp.MustCompile(`^([0-9]{9})[A-Z]{2}[0-9]{4}$`)
	identifierCharset         = regexp.MustCompile(`^[A-Z0-9]{4,32}$`)
)

// CanonicalIdentifier coerces a raw identifier to its canonical form. Spaces,
// dashes, dots and slashes are stripped and letters upper-cased. Business
// numbers carrying a program account suffix reduce to their 9-digit root.
// ok is false when nothing usable remains.
func CanonicalIdentifier(raw string) (id string, ok bool) {
	id = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '.', '/', '_':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(raw)))

	if m := businessNumberWithProgram.FindStringSubmatch(id); m != nil {
		return m[1], true
	}
	if !identifierCharset.MatchString(id) {
		return "", false
	}
	return id, true
}
