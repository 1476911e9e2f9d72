package swarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSelfRegistration is returned when an orchestrator is asked to register
	// a worker that carries its own name.
	ErrSelfRegistration = errors.New("orchestrator cannot register itself as a sub-agent")

	// ErrUnknownWorker is returned before any dispatch when an explicitly
	// targeted worker is not registered.
	ErrUnknownWorker = errors.New("unknown sub-agent")

	// ErrWorkerTimeout marks an attempt that exceeded its deadline.
	ErrWorkerTimeout = errors.New("sub-agent timed out")

	// ErrFailFastSkipped is the synthetic terminal state of a sequential worker
	// that never ran because an earlier worker failed.
	ErrFailFastSkipped = errors.New("Skipped due to fail_fast policy")

	// ErrFailFastCancelled is the synthetic terminal state of a parallel worker
	// that was cancelled because a sibling failed.
	ErrFailFastCancelled = errors.New("Cancelled due to fail_fast policy")

	// ErrNilWorker is returned when a nil worker is registered.
	ErrNilWorker = errors.New("worker must not be nil")
)

// SelfRegistrationError reports an attempt to register the orchestrator as
// its own worker.
type SelfRegistrationError struct {
	Name string
}

func (e *SelfRegistrationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrSelfRegistration.Error(), e.Name)
}

func (e *SelfRegistrationError) Unwrap() error { return ErrSelfRegistration }

// UnknownWorkerError lists target names that are not registered.
type UnknownWorkerError struct {
	Names []string
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("%s(s): %s", ErrUnknownWorker.Error(), strings.Join(e.Names, ", "))
}

func (e *UnknownWorkerError) Unwrap() error { return ErrUnknownWorker }

// WorkerTimeoutError is recorded when a single attempt exceeds its deadline.
type WorkerTimeoutError struct {
	Timeout time.Duration
}

func (e *WorkerTimeoutError) Error() string {
	return "Timed out after " + formatSeconds(e.Timeout) + "s"
}

func (e *WorkerTimeoutError) Unwrap() error { return ErrWorkerTimeout }

// formatSeconds renders a duration as a plain decimal number of seconds.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
