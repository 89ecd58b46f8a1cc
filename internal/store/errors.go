package store

import "errors"

// Sentinel errors returned by the coordination store, matching the error
// kinds enumerated in spec §7. Callers use errors.Is against these.
var (
	ErrAlreadyExists   = errors.New("store: document already exists")
	ErrNotFound        = errors.New("store: document not found")
	ErrVersionConflict = errors.New("store: version conflict")
)
