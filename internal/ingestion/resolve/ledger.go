package resolve

import (
	"sync"

	"vendorgrid/internal/ingestion/models"
)

type claimKey struct {
	canonicalID string
	field       models.Field
}

type claim struct {
	source   string
	priority int
	value    string
}

// Ledger remembers which source last committed each field during one
// scheduling round. Cycles started in the same round share a Ledger, which
// is how a lower-priority source learns that a higher-priority source
// already spoke for a field. Safe for concurrent use.
type Ledger struct {
	mu     sync.Mutex
	claims map[claimKey]claim
}

func NewLedger() *Ledger {
	return &Ledger{claims: make(map[claimKey]claim)}
}

// Len returns the number of claimed fields.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.claims)
}

type verdict int

const (
	verdictAccept verdict = iota
	verdictReject
)

// arbitrate decides whether source may assert value for the field. On
// reject it returns the standing claim. Nothing is recorded until Settle.
func (l *Ledger) arbitrate(canonicalID string, f models.Field, source string, priority int, value string) (verdict, claim) {
	l.mu.Lock()
	defer l.mu.Unlock()

	standing, ok := l.claims[claimKey{canonicalID: canonicalID, field: f}]
	switch {
	case !ok, standing.source == source, standing.value == value, priority > standing.priority:
		return verdictAccept, standing
	default:
		// Lower priority, or equal priority arriving later: the earlier value stands.
		return verdictReject, standing
	}
}

// Settle records the values rec asserted, except those the resolver rejected
// in notes. Call it only after the intent resolved from rec has been
// committed or needed no write; a failed commit must leave the round's
// claims as they were. Safe on a nil Ledger.
func (l *Ledger) Settle(rec models.NormalizedRecord, notes []models.ConflictNote) {
	if l == nil {
		return
	}
	rejected := make(map[models.Field]struct{}, len(notes))
	for _, n := range notes {
		if n.RejectedSource == rec.SourceID {
			rejected[n.Field] = struct{}{}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for f, v := range rec.Fields {
		if _, skip := rejected[f]; skip {
			continue
		}
		k := claimKey{canonicalID: rec.CanonicalID, field: f}
		standing, ok := l.claims[k]
		if !ok || standing.source == rec.SourceID || rec.Priority > standing.priority {
			l.claims[k] = claim{source: rec.SourceID, priority: rec.Priority, value: v}
		}
	}
}
