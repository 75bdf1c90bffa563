// Package store is the persistence gateway for vendor identities.
//
// A commit writes the identity, its provenance records, its audit events and
// the outbox change event atomically. Commits for the same canonical id are
// serialized; commits for different ids proceed in parallel. Readers see only
// committed state. Sensitive fields are encrypted before they are written and
// decrypted after they are read.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendorgrid/internal/ingestion/models"
)

// Cipher encrypts sensitive field values at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SearchQuery matches case-insensitively on any provided term (OR).
type SearchQuery struct {
	Name         string
	CanonicalID  string
	Address      string
	ContactEmail string
	Page         int
	PageSize     int
}

func (q SearchQuery) HasTerms() bool {
	return q.Name != "" || q.CanonicalID != "" || q.Address != "" || q.ContactEmail != ""
}

// Page is one page of identities plus the total match count.
type Page struct {
	Items []*models.VendorIdentity
	Total int
}

// Stats backs the health endpoint.
type Stats struct {
	TotalVendors int
	LastUpdated  *time.Time
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClampPage normalizes a 1-based page and a page size within 1..MaxPageSize.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize < 1:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Offset returns the zero-based row offset for a 1-based page.
func Offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// keyLock serializes work per key. Entries are reference counted and
// dropped when the last holder unlocks.
type keyLock struct {
	mu    sync.Mutex
	locks map[string]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*keyEntry)}
}

func (k *keyLock) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// sealer applies the Cipher to the sensitive parts of rows.
type sealer struct {
	cipher Cipher
}

func (s sealer) seal(f models.Field, v string) (string, error) {
	if s.cipher == nil || v == "" || !f.IsSensitive() {
		return v, nil
	}
	out, err := s.cipher.Encrypt(v)
	if err != nil {
		return "", fmt.Errorf("encrypt %s: %w", f, err)
	}
	return out, nil
}

func (s sealer) open(f models.Field, v string) (string, error) {
	if s.cipher == nil || v == "" || !f.IsSensitive() {
		return v, nil
	}
	out, err := s.cipher.Decrypt(v)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", f, err)
	}
	return out, nil
}

func (s sealer) sealIdentity(v *models.VendorIdentity) (*models.VendorIdentity, error) {
	out := v.Clone()
	var err error
	if out.BankAccount, err = s.seal(models.FieldBankAccount, v.BankAccount); err != nil {
		return nil, err
	}
	return out, nil
}

func (s sealer) openIdentity(v *models.VendorIdentity) (*models.VendorIdentity, error) {
	out := v.Clone()
	var err error
	if out.BankAccount, err = s.open(models.FieldBankAccount, v.BankAccount); err != nil {
		return nil, err
	}
	return out, nil
}

func (s sealer) sealProvenance(p models.ProvenanceRecord) (models.ProvenanceRecord, error) {
	var err error
	if p.Value, err = s.seal(p.Field, p.Value); err != nil {
		return p, err
	}
	p.PreviousValue, err = s.seal(p.Field, p.PreviousValue)
	return p, err
}

func (s sealer) openProvenance(p models.ProvenanceRecord) (models.ProvenanceRecord, error) {
	var err error
	if p.Value, err = s.open(p.Field, p.Value); err != nil {
		return p, err
	}
	p.PreviousValue, err = s.open(p.Field, p.PreviousValue)
	return p, err
}

func (s sealer) sealAudit(e models.AuditEvent) (models.AuditEvent, error) {
	var err error
	if e.OldValue, err = s.seal(e.Field, e.OldValue); err != nil {
		return e, err
	}
	e.NewValue, err = s.seal(e.Field, e.NewValue)
	return e, err
}

func (s sealer) openAudit(e models.AuditEvent) (models.AuditEvent, error) {
	var err error
	if e.OldValue, err = s.open(e.Field, e.OldValue); err != nil {
		return e, err
	}
	e.NewValue, err = s.open(e.Field, e.NewValue)
	return e, err
}

// prepared is a validated, sealed intent ready to be written.
type prepared struct {
	identity   *models.VendorIdentity // sealed, version and timestamps set
	plain      *models.VendorIdentity // what the caller gets back
	provenance []models.ProvenanceRecord
	audit      []models.AuditEvent
	event      *models.ChangeEvent
}

// prepare validates the intent against the current row and seals it. current
// is nil for a Create.
func (s sealer) prepare(intent *models.Intent, current *models.VendorIdentity, now time.Time) (*prepared, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}

	plain := intent.Identity.Clone()
	switch intent.Kind {
	case models.IntentCreate:
		if current != nil {
			return nil, models.ErrIdentityConflict
		}
		plain.Version = 1
		plain.CreatedAt = now
		plain.UpdatedAt = now
	case models.IntentUpdate:
		if current == nil {
			return nil, fmt.Errorf("update %s: %w", intent.Identity.CanonicalID, models.ErrStaleIdentity)
		}
		if current.ID != plain.ID || current.CanonicalID != plain.CanonicalID {
			return nil, models.ErrCanonicalIDImmutable
		}
		if current.Version != intent.BaseVersion {
			return nil, models.ErrStaleIdentity
		}
		plain.Version = current.Version + 1
		plain.CreatedAt = current.CreatedAt
		plain.UpdatedAt = now
	default:
		return nil, fmt.Errorf("%w: cannot commit intent of kind %q", models.ErrInvariantViolation, intent.Kind)
	}

	sealed, err := s.sealIdentity(plain)
	if err != nil {
		return nil, err
	}
	p := &prepared{identity: sealed, plain: plain}

	for _, rec := range intent.Provenance {
		rec.VendorID = plain.ID
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		sealedRec, err := s.sealProvenance(rec)
		if err != nil {
			return nil, err
		}
		p.provenance = append(p.provenance, sealedRec)
	}
	for _, ev := range intent.Audit {
		ev.VendorID = plain.ID
		if ev.ID == uuid.Nil {
			ev.ID = uuid.New()
		}
		sealedEv, err := s.sealAudit(ev)
		if err != nil {
			return nil, err
		}
		p.audit = append(p.audit, sealedEv)
	}

	if p.event, err = models.NewChangeEvent(intent, plain, now); err != nil {
		return nil, fmt.Errorf("build change event: %w", err)
	}
	return p, nil
}
