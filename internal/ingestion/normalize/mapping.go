package normalize

import (
	"sort"
	"strings"

	"vendorgrid/internal/ingestion/models"
)

// DefaultAliases maps each canonical field to the source keys commonly used
// for it, best first. Keys are compared after KeyOf.
var DefaultAliases = map[models.Field][]string{
	models.FieldName:                {"name", "legal_name", "business_name", "company_name", "entity_name", "operating_name", "nom"},
	models.FieldAddress:             {"address", "full_address", "street_address", "adresse"},
	models.FieldStreetNumber:        {"street_number", "street_no", "civic_number", "house_number", "address_street_number"},
	models.FieldStreetName:          {"street_name", "street", "address_street_name", "rue"},
	models.FieldStreetDirection:     {"street_direction", "direction", "address_street_direction"},
	models.FieldUnit:                {"unit", "suite", "unit_number", "address_unit"},
	models.FieldCity:                {"city", "municipality", "town", "ville", "address_city", "adresse_ville"},
	models.FieldRegion:              {"region", "province", "state", "prov", "address_province", "address_region"},
	models.FieldPostalCode:          {"postal_code", "postal", "postcode", "zip", "zip_code", "code_postal", "address_postal_code", "adresse_code_postal"},
	models.FieldCountryCode:         {"country_code", "country", "pays"},
	models.FieldIndustryCode:        {"industry_code", "naics", "naics_code", "sic_code"},
	models.FieldIndustryDescription: {"industry_description", "industry", "naics_description"},
	models.FieldLegalStructure:      {"legal_structure", "entity_type", "business_type", "forme_juridique"},
	models.FieldContactEmail:        {"contact_email", "email", "courriel"},
	models.FieldContactPhone:        {"contact_phone", "phone", "telephone"},
	models.FieldWebsite:             {"website", "web_site", "url"},
	models.FieldBankAccount:         {"bank_account", "iban", "account_number"},
	models.FieldIsActive:            {"is_active", "active", "status", "statut"},
}

// DefaultIdentifierFields is the identifier priority used when a source does
// not declare its own: national business numbers before regional numbers.
var DefaultIdentifierFields = []string{
	"business_number",
	"bn",
	"tax_id",
	"neq",
	"registration_number",
	"licence_number",
	"license_number",
}

// KeyOf normalizes a source key: lower case, spaces and dashes to underscores.
func KeyOf(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, k)
}

// profile is the compiled mapping for one source.
type profile struct {
	aliases     map[models.Field][]string
	identifiers []string
	placeholder *Placeholders
}

func compileProfile(cfg *models.SourceConfig, base *Placeholders) *profile {
	p := &profile{
		aliases:     make(map[models.Field][]string, len(DefaultAliases)),
		placeholder: base.With(cfg.Placeholders...),
	}

	// Explicit source mappings win over defaults.
	explicit := make([]string, 0, len(cfg.FieldMap))
	for k := range cfg.FieldMap {
		explicit = append(explicit, k)
	}
	sort.Strings(explicit)
	for _, k := range explicit {
		f := cfg.FieldMap[k]
		if f == models.FieldCanonicalID || !f.IsKnown() {
			continue
		}
		p.aliases[f] = append(p.aliases[f], KeyOf(k))
	}
	for f, keys := range DefaultAliases {
		for _, k := range keys {
			p.aliases[f] = append(p.aliases[f], KeyOf(k))
		}
	}

	ids := cfg.IdentifierFields
	if len(ids) == 0 {
		ids = DefaultIdentifierFields
	}
	p.identifiers = make([]string, 0, len(ids))
	for _, k := range ids {
		p.identifiers = append(p.identifiers, KeyOf(k))
	}
	// Fields mapped to canonical_id join the end of the priority list.
	for _, k := range explicit {
		if cfg.FieldMap[k] == models.FieldCanonicalID {
			p.identifiers = append(p.identifiers, KeyOf(k))
		}
	}
	return p
}
