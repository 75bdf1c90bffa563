package models

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendorgrid/pkg/platform/sentinel"
)

func TestVendorIdentityGetSet(t *testing.T) {
	v := &VendorIdentity{}
	for _, f := range MutableFields {
		if f == FieldIsActive {
			continue
		}
		require.True(t, v.Set(f, "value-"+string(f)), "set %s", f)
		assert.Equal(t, "value-"+string(f), v.Get(f))
	}

	t.Run("is_active parses booleans", func(t *testing.T) {
		assert.True(t, v.Set(FieldIsActive, "true"))
		assert.True(t, v.IsActive)
		assert.Equal(t, "true", v.Get(FieldIsActive))
		assert.False(t, v.Set(FieldIsActive, "maybe"))
	})

	t.Run("canonical id is write-once", func(t *testing.T) {
		id := &VendorIdentity{}
		assert.True(t, id.Set(FieldCanonicalID, "123456789"))
		assert.True(t, id.Set(FieldCanonicalID, "123456789"))
		assert.False(t, id.Set(FieldCanonicalID, "987654321"))
		assert.Equal(t, "123456789", id.CanonicalID)
	})

	t.Run("unknown field", func(t *testing.T) {
		assert.False(t, v.Set(Field("nickname"), "x"))
		assert.False(t, Field("nickname").IsKnown())
		assert.True(t, FieldName.IsKnown())
	})
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 5}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(40))
	assert.Equal(t, time.Second, p.Delay(0))
}

func TestRunErrorSamplesBounded(t *testing.T) {
	run := NewRun("registry-ca", "ingestion-pipeline", TriggerScheduled, time.Now())
	for range MaxErrorSamples + 5 {
		run.AddError("bad row")
	}
	assert.Len(t, run.ErrorSamples, MaxErrorSamples)
	assert.Equal(t, RunRunning, run.Status)
}

func TestIntentValidate(t *testing.T) {
	vendorID := uuid.New()
	valid := func() *Intent {
		return &Intent{
			Kind:       IntentUpdate,
			Identity:   VendorIdentity{ID: vendorID, CanonicalID: "123456789"},
			Changes:    []FieldChange{{Field: FieldName, Old: "Acme Corp", New: "Acme Corporation Inc."}},
			Provenance: []ProvenanceRecord{{Field: FieldName}},
			Audit:      []AuditEvent{{Field: FieldName}},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("unpaired provenance", func(t *testing.T) {
		in := valid()
		in.Provenance = nil
		assert.ErrorIs(t, in.Validate(), ErrInvariantViolation)
	})

	t.Run("canonical id in update diff", func(t *testing.T) {
		in := valid()
		in.Changes[0].Field = FieldCanonicalID
		in.Provenance[0].Field = FieldCanonicalID
		in.Audit[0].Field = FieldCanonicalID
		assert.ErrorIs(t, in.Validate(), ErrCanonicalIDImmutable)
	})

	t.Run("missing canonical id", func(t *testing.T) {
		in := valid()
		in.Identity.CanonicalID = ""
		assert.ErrorIs(t, in.Validate(), ErrMissingCanonicalID)
	})
}

func TestConflictErrorsWrapSentinel(t *testing.T) {
	assert.True(t, errors.Is(ErrIdentityConflict, sentinel.ErrConflict))
	assert.True(t, errors.Is(ErrStaleIdentity, sentinel.ErrConflict))
}
