package ratelimit

import "errors"

// ErrBurstExceeded means a single acquisition can never be satisfied by the
// configured bucket.
var ErrBurstExceeded = errors.New("rate limit burst exceeded")
