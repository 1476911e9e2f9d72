package workers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nomis52/goswarm/swarm"
)

// Failure modes understood by Synthetic.
const (
	FailureNever        = "never"
	FailureAlways       = "always"
	FailureFirstAttempt = "first_attempt"
)

// SyntheticConfig controls how a Synthetic worker behaves.
type SyntheticConfig struct {
	// DelayMS is artificial latency per call. Non-positive means none.
	DelayMS int
	// FailureMode is one of never, always or first_attempt.
	FailureMode string
	// FailOnCalls lists 1-based call numbers that fail.
	FailOnCalls []int
	// ResultPayload is merged into the output of successful calls.
	ResultPayload map[string]any
}

// Synthetic is a configurable worker used for load scenarios and dry runs.
// The call counter spans every operation the worker takes part in.
type Synthetic struct {
	name        string
	delay       time.Duration
	failureMode string
	failOnCalls map[int]struct{}
	payload     map[string]any

	mu    sync.Mutex
	calls int
}

// NewSynthetic returns a Synthetic worker with the given name and behaviour.
func NewSynthetic(name string, cfg SyntheticConfig) *Synthetic {
	s := &Synthetic{
		name:        name,
		failureMode: strings.ToLower(strings.TrimSpace(cfg.FailureMode)),
		failOnCalls: make(map[int]struct{}),
		payload:     cfg.ResultPayload,
	}
	if s.failureMode == "" {
		s.failureMode = FailureNever
	}
	if cfg.DelayMS > 0 {
		s.delay = time.Duration(cfg.DelayMS) * time.Millisecond
	}
	for _, n := range cfg.FailOnCalls {
		if n > 0 {
			s.failOnCalls[n] = struct{}{}
		}
	}
	return s
}

// Name implements swarm.Worker.
func (s *Synthetic) Name() string {
	return s.name
}

// Calls returns how many times Execute has been invoked.
func (s *Synthetic) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Execute implements swarm.Worker.
func (s *Synthetic) Execute(ctx context.Context, task string, ec *swarm.ExecutionContext) (any, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	switch {
	case s.failureMode == FailureAlways:
		return nil, fmt.Errorf("Synthetic worker '%s' forced failure (always)", s.name)
	case s.failureMode == FailureFirstAttempt && call == 1:
		return nil, fmt.Errorf("Synthetic worker '%s' forced failure (first_attempt)", s.name)
	}
	if _, ok := s.failOnCalls[call]; ok {
		return nil, fmt.Errorf("Synthetic worker '%s' forced failure on call %d", s.name, call)
	}

	out := map[string]any{
		"success":        true,
		"agent":          s.name,
		"task":           task,
		"call_count":     call,
		"correlation_id": nil,
	}
	if ec != nil {
		if id := ec.MetadataString(swarm.MetaCorrelationID); id != "" {
			out["correlation_id"] = id
		}
	}
	for k, v := range s.payload {
		out[k] = v
	}
	return out, nil
}
