package state

import "errors"

// ErrNotFound means the row does not exist in either database.
var ErrNotFound = errors.New("not found")

// ErrConflict means a write hit a uniqueness constraint.
var ErrConflict = errors.New("conflict")
