package normalize

import (
	"strings"

	vstrings "vendorgrid/pkg/platform/strings"
)

// DefaultPlaceholderTokens are the sentinel values registries publish
// instead of leaving a column empty. Matching is case-insensitive.
var DefaultPlaceholderTokens = []string{
	"N/A",
	"NA",
	"NULL",
	"NONE",
	"NIL",
	"-",
	"--",
	"?",
	"Not Available",
	"Not Provided",
	"Not Applicable",
	"Unknown",
	"Non disponible",
	"Sans objet",
}

// Placeholders is the single registry behind IsPlaceholder. It is immutable
// once built; With returns an extended copy.
type Placeholders struct {
	tokens map[string]struct{}
}

func NewPlaceholders(tokens ...string) *Placeholders {
	p := &Placeholders{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range vstrings.DedupeFold(tokens) {
		p.tokens[fold(t)] = struct{}{}
	}
	return p
}

// DefaultPlaceholders returns a registry holding DefaultPlaceholderTokens.
func DefaultPlaceholders() *Placeholders {
	return NewPlaceholders(DefaultPlaceholderTokens...)
}

// With returns a copy that also matches tokens.
func (p *Placeholders) With(tokens ...string) *Placeholders {
	if len(tokens) == 0 {
		return p
	}
	c := &Placeholders{tokens: make(map[string]struct{}, len(p.tokens)+len(tokens))}
	for k := range p.tokens {
		c.tokens[k] = struct{}{}
	}
	for _, t := range vstrings.DedupeFold(tokens) {
		c.tokens[fold(t)] = struct{}{}
	}
	return c
}

// IsPlaceholder reports whether v is a registered sentinel token. Empty and
// whitespace-only values are absent, not placeholders; callers treat both
// the same way via IsAbsent.
func (p *Placeholders) IsPlaceholder(v string) bool {
	f := fold(v)
	if f == "" {
		return false
	}
	_, ok := p.tokens[f]
	return ok
}

// IsAbsent reports whether v carries no information.
func (p *Placeholders) IsAbsent(v string) bool {
	return strings.TrimSpace(v) == "" || p.IsPlaceholder(v)
}

// Len returns the number of registered tokens.
func (p *Placeholders) Len() int {
	return len(p.tokens)
}

func fold(v string) string {
	return strings.ToLower(vstrings.CollapseSpace(v))
}
