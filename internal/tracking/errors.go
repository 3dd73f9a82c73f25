package tracking

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive     = errors.New("a session is already active")
	ErrNoActiveSession   = errors.New("no active session")
	ErrRecoveryPending   = errors.New("recovery decision pending")
	ErrNotResumable      = errors.New("no resumable session to continue")
	ErrIllegalTransition = errors.New("illegal session transition")
	ErrPersistenceWrite  = errors.New("checkpoint write failed")
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	ErrRecordingFailed   = errors.New("session recording failed")
	ErrInvalidStart      = errors.New("invalid start request")

	// Geolocation source failures. The engine reports them and keeps the
	// session open; retry policy belongs to the source.
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
	ErrTimeout          = errors.New("location request timed out")
)

// TransitionError reports an operation attempted from a phase that does not
// allow it.
type TransitionError struct {
	Op   string
	From Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// PersistenceError wraps a checkpoint store failure. Any state the failed
// operation would have produced is not committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceWrite
}

// opError maps the engine's phase to the error an operation should fail with.
func opError(op string, p Phase) error {
	switch {
	case p == PhasePendingRecovery:
		return ErrRecoveryPending
	case op == "start" && !p.canStart():
		return ErrAlreadyActive
	case p.canStart() || p == PhaseStarting:
		return fmt.Errorf("%s: %w", op, ErrNoActiveSession)
	}
	return &TransitionError{Op: op, From: p}
}
