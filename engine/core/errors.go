package core

import (
	"errors"
	"fmt"
)

var (
	// The presentable surface no longer matches the window. Recovered by a swapchain rebuild.
	ErrStaleSurface = errors.New("presentable surface is stale")
	// The window has a zero extent. The tick is skipped.
	ErrDegenerateSurface = errors.New("presentable surface has a zero extent")
	// A fence or acquire wait exceeded its bound. Treated as device loss.
	ErrDeviceTimeout = errors.New("device wait timed out")
	// Any other non-success result reported by the GPU backend.
	ErrBackendFatal = errors.New("gpu backend failure")
	// Returned by every tick after a fatal error has been latched.
	ErrHalted = errors.New("frame submission halted after a fatal error")
)

type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseSteadyState
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseSteadyState:
		return "steady-state"
	default:
		return "unknown"
	}
}

// StageError reports that something unrecoverable happened and where.
type StageError struct {
	Phase Phase
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failure in stage `%s`: %s", e.Phase, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewInitError(stage string, err error) *StageError {
	return &StageError{Phase: PhaseInit, Stage: stage, Err: err}
}

func NewFrameError(stage string, err error) *StageError {
	return &StageError{Phase: PhaseSteadyState, Stage: stage, Err: err}
}

// BackendError wraps a failed backend call so that it matches ErrBackendFatal.
func BackendError(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrBackendFatal, op)
	}
	if errors.Is(cause, ErrDeviceTimeout) || errors.Is(cause, ErrBackendFatal) {
		return fmt.Errorf("%s: %w", op, cause)
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendFatal, op, cause)
}

// IsFatal reports whether err must stop frame submission.
// Stale and degenerate surfaces are recoverable and never fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleSurface) || errors.Is(err, ErrDegenerateSurface) {
		return false
	}
	return true
}

// FailedStage returns the stage name carried by err, if any.
func FailedStage(err error) (string, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
