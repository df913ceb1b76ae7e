package repository

import "errors"

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a uniqueness constraint the caller
// asserted is violated (duplicate session id, duplicate blocking pair).
var ErrConflict = errors.New("conflict")
