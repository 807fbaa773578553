package engine

import (
	"fmt"
	"strings"
)

// ValidationError carries the full list of input problems; it is always
// recoverable and never represents a crash.
type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

// ConflictError indicates a business-rule conflict, such as requesting a
// transition while another one is still pending.
type ConflictError struct {
	Reason string
}

func (e ConflictError) Error() string { return e.Reason }

// ForbiddenError indicates the actor may not perform the action.
type ForbiddenError struct {
	ActorID string
	Action  string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("actor %s may not %s", e.ActorID, e.Action)
}

// StorageError wraps a failed read or write against the backing store so the
// boundary layer can answer with a different response class than validation
// or conflict failures.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }
func (e StorageError) Unwrap() error { return e.Err }
