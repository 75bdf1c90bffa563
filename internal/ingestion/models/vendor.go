package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Field names a canonical vendor attribute. Provenance and audit rows are keyed on it.
type Field string

const (
	FieldCanonicalID         Field = "canonical_id"
	FieldName                Field = "name"
	FieldAddress             Field = "address"
	FieldStreetNumber        Field = "street_number"
	FieldStreetName          Field = "street_name"
	FieldStreetDirection     Field = "street_direction"
	FieldUnit                Field = "unit"
	FieldCity                Field = "city"
	FieldRegion              Field = "region"
	FieldPostalCode          Field = "postal_code"
	FieldCountryCode         Field = "country_code"
	FieldIndustryCode        Field = "industry_code"
	FieldIndustryDescription Field = "industry_description"
	FieldLegalStructure      Field = "legal_structure"
	FieldContactEmail        Field = "contact_email"
	FieldContactPhone        Field = "contact_phone"
	FieldWebsite             Field = "website"
	FieldBankAccount         Field = "bank_account"
	FieldIsActive            Field = "is_active"
)

// MutableFields lists every field an Update may touch, in diff order.
// FieldCanonicalID is deliberately absent.
var MutableFields = []Field{
	FieldName,
	FieldAddress,
	FieldStreetNumber,
	FieldStreetName,
	FieldStreetDirection,
	FieldUnit,
	FieldCity,
	FieldRegion,
	FieldPostalCode,
	FieldCountryCode,
	FieldIndustryCode,
	FieldIndustryDescription,
	FieldLegalStructure,
	FieldContactEmail,
	FieldContactPhone,
	FieldWebsite,
	FieldBankAccount,
	FieldIsActive,
}

var knownFields = func() map[Field]struct{} {
	m := make(map[Field]struct{}, len(MutableFields)+1)
	m[FieldCanonicalID] = struct{}{}
	for _, f := range MutableFields {
		m[f] = struct{}{}
	}
	return m
}()

// IsKnown reports whether f is a canonical field.
func (f Field) IsKnown() bool {
	_, ok := knownFields[f]
	return ok
}

// IsSensitive reports whether values of f are encrypted at rest.
func (f Field) IsSensitive() bool {
	return f == FieldBankAccount
}

// VendorIdentity is the canonical record for one business.
type VendorIdentity struct {
	ID                  uuid.UUID
	CanonicalID         string
	Name                string
	Address             string
	StreetNumber        string
	StreetName          string
	StreetDirection     string
	Unit                string
	City                string
	Region              string
	PostalCode          string
	CountryCode         string
	IndustryCode        string
	IndustryDescription string
	LegalStructure      string
	ContactEmail        string
	ContactPhone        string
	Website             string
	BankAccount         string
	IsActive            bool
	DataSource          string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Get returns the string form of f. Unknown fields return "".
func (v *VendorIdentity) Get(f Field) string {
	switch f {
	case FieldCanonicalID:
		return v.CanonicalID
	case FieldName:
		return v.Name
	case FieldAddress:
		return v.Address
	case FieldStreetNumber:
		return v.StreetNumber
	case FieldStreetName:
		return v.StreetName
	case FieldStreetDirection:
		return v.StreetDirection
	case FieldUnit:
		return v.Unit
	case FieldCity:
		return v.City
	case FieldRegion:
		return v.Region
	case FieldPostalCode:
		return v.PostalCode
	case FieldCountryCode:
		return v.CountryCode
	case FieldIndustryCode:
		return v.IndustryCode
	case FieldIndustryDescription:
		return v.IndustryDescription
	case FieldLegalStructure:
		return v.LegalStructure
	case FieldContactEmail:
		return v.ContactEmail
	case FieldContactPhone:
		return v.ContactPhone
	case FieldWebsite:
		return v.Website
	case FieldBankAccount:
		return v.BankAccount
	case FieldIsActive:
		return strconv.FormatBool(v.IsActive)
	}
	return ""
}

// Set assigns value to f. FieldCanonicalID is only settable while empty.
func (v *VendorIdentity) Set(f Field, value string) bool {
	switch f {
	case FieldCanonicalID:
		if v.CanonicalID != "" && v.CanonicalID != value {
			return false
		}
		v.CanonicalID = value
	case FieldName:
		v.Name = value
	case FieldAddress:
		v.Address = value
	case FieldStreetNumber:
		v.StreetNumber = value
	case FieldStreetName:
		v.StreetName = value
	case FieldStreetDirection:
		v.StreetDirection = value
	case FieldUnit:
		v.Unit = value
	case FieldCity:
		v.City = value
	case FieldRegion:
		v.Region = value
	case FieldPostalCode:
		v.PostalCode = value
	case FieldCountryCode:
		v.CountryCode = value
	case FieldIndustryCode:
		v.IndustryCode = value
	case FieldIndustryDescription:
		v.IndustryDescription = value
	case FieldLegalStructure:
		v.LegalStructure = value
	case FieldContactEmail:
		v.ContactEmail = value
	case FieldContactPhone:
		v.ContactPhone = value
	case FieldWebsite:
		v.Website = value
	case FieldBankAccount:
		v.BankAccount = value
	case FieldIsActive:
		active, err := strconv.ParseBool(value)
		if err != nil {
			return false
		}
		v.IsActive = active
	default:
		return false
	}
	return true
}

// Clone returns a copy safe to mutate.
func (v *VendorIdentity) Clone() *VendorIdentity {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
