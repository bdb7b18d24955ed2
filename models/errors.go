package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Wrap with fmt.Errorf("%w: ...") so
// callers can classify with errors.Is.
var (
	// ErrConstraintViolation means the input would breach an air-gap invariant.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrTopologyMalformed means the topology is internally inconsistent.
	ErrTopologyMalformed = errors.New("topology malformed")

	// ErrScenarioAlreadyActive means another lab for the scenario is starting
	// or running.
	ErrScenarioAlreadyActive = errors.New("scenario already active")

	// ErrInvalidState means the operation is not legal in the lab's current
	// status.
	ErrInvalidState = errors.New("invalid lab state")

	// ErrLabNotFound means no lab with the given id exists in the registry.
	ErrLabNotFound = errors.New("lab not found")
)

// LabCreationError wraps whatever made create fail after allocation. The lab
// has been transitioned to failed and its resources released.
type LabCreationError struct {
	LabID string
	Cause error
}

func (e *LabCreationError) Error() string {
	return fmt.Sprintf("lab %s creation failed: %v", e.LabID, e.Cause)
}

func (e *LabCreationError) Unwrap() error { return e.Cause }
