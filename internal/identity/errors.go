package identity

import "errors"

var (
	// ErrNotFound is returned when no principal matches the lookup.
	ErrNotFound = errors.New("identity: principal not found")
	// ErrConflict is returned when an email or UHID is already taken.
	ErrConflict = errors.New("identity: email or UHID already registered")
	// ErrUnknownRole is returned for a role outside the known set.
	ErrUnknownRole = errors.New("identity: unknown role")
)
