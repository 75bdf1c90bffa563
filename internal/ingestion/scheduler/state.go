package scheduler

import (
	"fmt"
	"time"

	"vendorgrid/internal/ingestion/models"
	"vendorgrid/internal/ingestion/pipeline"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseFetching   Phase = "fetching"
	PhaseParsing    Phase = "parsing"
	PhaseProcessing Phase = "processing"
	PhaseRetryWait  Phase = "retry_wait"
	PhaseFailed     Phase = "failed"
)

// transitions lists the legal next phases. A cancelled cycle returns to
// idle from any active phase.
var transitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseFetching},
	PhaseFailed:     {PhaseFetching},
	PhaseFetching:   {PhaseParsing, PhaseRetryWait, PhaseFailed, PhaseIdle},
	PhaseParsing:    {PhaseProcessing, PhaseRetryWait, PhaseFailed, PhaseIdle},
	PhaseProcessing: {PhaseRetryWait, PhaseFailed, PhaseIdle},
	PhaseRetryWait:  {PhaseFetching, PhaseFailed, PhaseIdle},
}

// SourceState is owned by the scheduler; callers see copies.
type SourceState struct {
	Phase     Phase
	Attempt   int
	NextRunAt time.Time
	LastRun   *models.IngestionJobRun
}

func (s *SourceState) transition(to Phase) error {
	for _, p := range transitions[s.Phase] {
		if p == to {
			s.Phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, to)
}

// Active reports whether a cycle is in flight.
func (s SourceState) Active() bool {
	switch s.Phase {
	case PhaseFetching, PhaseParsing, PhaseProcessing, PhaseRetryWait:
		return true
	}
	return false
}

func phaseOf(st pipeline.Stage) Phase {
	switch st {
	case pipeline.StageParsing:
		return PhaseParsing
	case pipeline.StageProcessing:
		return PhaseProcessing
	default:
		return PhaseFetching
	}
}

// SourceStatus is a point-in-time view of one source for operators.
type SourceStatus struct {
	ID       string
	Name     string
	Priority int
	State    SourceState
	Health   models.SourceHealth
}
