package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNoGroup is returned by operations that need a bootstrapped account
	// group before one is available.
	ErrNoGroup = errors.New("account group not loaded")

	// ErrAlreadyInProgress is returned when an operation of the same kind is
	// already in flight.
	ErrAlreadyInProgress = errors.New("operation already in progress")

	// ErrNotConnected is returned by owner-scoped operations while no owner
	// is connected.
	ErrNotConnected = errors.New("no owner connected")

	// ErrUnknownAccount is returned when a selection names an address outside
	// the candidate set.
	ErrUnknownAccount = errors.New("account not in candidate set")
)

// CollaboratorError wraps a failure from an external collaborator (ledger
// service, price oracle) with the operation that hit it.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
