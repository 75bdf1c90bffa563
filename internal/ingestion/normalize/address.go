package normalize

import (
	"regexp"
	"strings"

	vstrings "vendorgrid/pkg/platform/strings"
)

// AddressParts are the components a registry may publish instead of a full address.
type AddressParts struct {
	StreetNumber    string
	StreetName      string
	StreetDirection string
	Unit            string
	City            string
	Region          string
	PostalCode      string
}

var canadianPostal = regexp.MustCompile(`^[A-Z][0-9][A-Z][0-9][A-Z][0-9]$`)

// ComposeAddress builds "<number> <street> <direction> <unit>, <city>, <region> <postal>".
// Missing parts are skipped; an all-empty input gives "".
func ComposeAddress(p AddressParts) string {
	line1 := vstrings.JoinNonEmpty(" ",
		p.StreetNumber,
		p.StreetName,
		p.StreetDirection,
		formatUnit(p.Unit),
	)
	line2 := vstrings.JoinNonEmpty(", ",
		p.City,
		vstrings.JoinNonEmpty(" ", p.Region, p.PostalCode),
	)
	return vstrings.JoinNonEmpty(", ", line1, line2)
}

func formatUnit(u string) string {
	if u == "" {
		return ""
	}
	lower := strings.ToLower(u)
	for _, prefix := range []string{"unit", "suite", "apt", "bureau", "#"} {
		if strings.HasPrefix(lower, prefix) {
			return u
		}
	}
	return "Unit " + u
}

// FormatPostalCode upper-cases and, for Canadian codes, inserts the middle space.
func FormatPostalCode(v string) string {
	compact := strings.ToUpper(strings.ReplaceAll(vstrings.CollapseSpace(v), " ", ""))
	if canadianPostal.MatchString(compact) {
		return compact[:3] + " " + compact[3:]
	}
	return strings.ToUpper(vstrings.CollapseSpace(v))
}

// FormatRegion upper-cases short region codes ("on" -> "ON") and leaves names alone.
func FormatRegion(v string) string {
	if len(v) <= 3 {
		return strings.ToUpper(v)
	}
	return v
}
