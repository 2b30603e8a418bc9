package foreman

import "errors"

var (
	// ErrBadUnit is returned for a shift unit outside {s, min, h, D}.
	ErrBadUnit = errors.New("unsupported shift unit")

	// ErrAlreadyRegistered is returned when a module registration computes
	// a module_hash that already exists.
	ErrAlreadyRegistered = errors.New("module already registered")

	// ErrSessionConflict is returned when a session bind is attempted on a
	// module that is already alive.
	ErrSessionConflict = errors.New("module session already bound")
)
