package guard

import "errors"

// ErrNilProber is returned when a Guard is constructed without a prober.
var ErrNilProber = errors.New("guard: prober must not be nil")
