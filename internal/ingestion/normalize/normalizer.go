// Package normalize maps raw registry records onto canonical vendor fields.
//
// Normalization is a pure function of the record, its SourceConfig and the
// static mapping tables in this package. Placeholder detection goes through a
// single predicate (Placeholders.IsPlaceholder) so every field treats
// sentinel tokens the same way: as absent.
package normalize

import (
	"fmt"
	"net/mail"
	"strings"
	"sync"

	"vendorgrid/internal/ingestion/models"
	vstrings "vendorgrid/pkg/platform/strings"
)

// Normalizer caches compiled per-source profiles. Safe for concurrent use.
type Normalizer struct {
	placeholders *Placeholders
	profiles     sync.Map // source id -> compiledProfile
}

// compiledProfile remembers which config it was built from so a replaced
// config for the same source recompiles instead of adding an entry.
type compiledProfile struct {
	cfg     *models.SourceConfig
	profile *profile
}

type Option func(*Normalizer)

// WithPlaceholders replaces the default placeholder registry.
func WithPlaceholders(p *Placeholders) Option {
	return func(n *Normalizer) {
		n.placeholders = p
	}
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{placeholders: DefaultPlaceholders()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Placeholders exposes the base registry.
func (n *Normalizer) Placeholders() *Placeholders {
	return n.placeholders
}

func (n *Normalizer) profileFor(cfg *models.SourceConfig) *profile {
	if v, ok := n.profiles.Load(cfg.ID); ok {
		if c := v.(compiledProfile); c.cfg == cfg {
			return c.profile
		}
	}
	p := compileProfile(cfg, n.placeholders)
	n.profiles.Store(cfg.ID, compiledProfile{cfg: cfg, profile: p})
	return p
}

// Normalize returns the normalized record, or a RejectedRecord when no
// identifier field in the source's priority list yields a canonical id.
func (n *Normalizer) Normalize(rec models.IntermediateRecord, cfg *models.SourceConfig) (models.NormalizedRecord, *models.RejectedRecord) {
	p := n.profileFor(cfg)

	values := make(map[string]string, len(rec.Fields))
	for k, v := range rec.Fields {
		v = vstrings.CollapseSpace(v)
		if p.placeholder.IsAbsent(v) {
			continue
		}
		values[KeyOf(k)] = v
	}

	canonicalID, idField := "", ""
	for _, k := range p.identifiers {
		if id, ok := CanonicalIdentifier(values[k]); ok {
			canonicalID, idField = id, k
			break
		}
	}
	if canonicalID == "" {
		return models.NormalizedRecord{}, &models.RejectedRecord{
			SourceID: cfg.ID,
			Index:    rec.Index,
			Reason:   models.ReasonNoIdentifier,
			Detail:   fmt.Sprintf("none of %s populated", strings.Join(p.identifiers, ", ")),
		}
	}

	out := models.NormalizedRecord{
		SourceID:        cfg.ID,
		Priority:        cfg.Priority,
		Method:          models.MethodIngestion,
		CanonicalID:     canonicalID,
		IdentifierField: idField,
		Fields:          make(map[models.Field]string),
	}
	for _, f := range models.MutableFields {
		for _, k := range p.aliases[f] {
			v, ok := values[k]
			if !ok {
				continue
			}
			if cleaned, ok := cleanField(f, v); ok {
				out.Fields[f] = cleaned
				break
			}
		}
	}

	if _, ok := out.Fields[models.FieldAddress]; !ok {
		if addr := ComposeAddress(addressParts(out.Fields)); addr != "" {
			out.Fields[models.FieldAddress] = addr
		}
	}
	return out, nil
}

func addressParts(f map[models.Field]string) AddressParts {
	return AddressParts{
		StreetNumber:    f[models.FieldStreetNumber],
		StreetName:      f[models.FieldStreetName],
		StreetDirection: f[models.FieldStreetDirection],
		Unit:            f[models.FieldUnit],
		City:            f[models.FieldCity],
		Region:          f[models.FieldRegion],
		PostalCode:      f[models.FieldPostalCode],
	}
}

// cleanField applies per-field formatting. ok is false when the value is
// unusable and the next alias should be tried.
func cleanField(f models.Field, v string) (string, bool) {
	switch f {
	case models.FieldContactEmail:
		addr, err := mail.ParseAddress(v)
		if err != nil {
			return "", false
		}
		return strings.ToLower(addr.Address), true
	case models.FieldPostalCode:
		return FormatPostalCode(v), true
	case models.FieldRegion:
		return FormatRegion(v), true
	case models.FieldCountryCode:
		return strings.ToUpper(v), true
	case models.FieldIsActive:
		return activeFlag(v)
	case models.FieldBankAccount:
		return strings.ReplaceAll(v, " ", ""), true
	}
	return v, true
}

func activeFlag(v string) (string, bool) {
	switch strings.ToLower(v) {
	case "true", "yes", "y", "1", "active", "actif", "active - en règle", "registered":
		return "true", true
	case "false", "no", "n", "0", "inactive", "inactif", "dissolved", "cancelled", "canceled", "struck", "radié":
		return "false", true
	}
	return "", false
}
