package sentinel

import "errors"

// Sentinel errors for storage and infrastructure facts. Gateways return these
// (optionally wrapped) and services translate them into domain errors.
//
//   - ErrNotFound: no row for the requested identity, source or run
//   - ErrConflict: a unique key (canonical id) is already taken
//   - ErrInvalidState: a source or run is in the wrong phase for the request
//   - ErrUnavailable: a backing service (database, broker, registry) is down
//
// For validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
