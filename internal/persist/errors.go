package persist

import (
	"errors"
	"fmt"
)

// ErrCollision is returned when a second result maps to a path already
// written in the same run and the policy is CollisionError.
var ErrCollision = errors.New("path already written in this run")

// PersistenceError records a failed filesystem operation for one artifact
// or for the output directory itself.
type PersistenceError struct {
	Op   string // "mkdir" or "write"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
