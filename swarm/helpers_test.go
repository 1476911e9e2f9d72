package swarm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomis52/goswarm/logging"
)

// Test Workers
// ---------------------------------------------------------------------

// fakeWorker is a configurable worker that records its calls.
type fakeWorker struct {
	name       string
	delay      time.Duration
	failFirst  int  // fail the first N calls
	alwaysFail bool // fail every call
	ignoreCtx  bool // sleep through cancellation
	panicMsg   string
	onExecute  func(task string, ec *ExecutionContext)
	gauge      *concurrencyGauge

	calls atomic.Int32

	mu    sync.Mutex
	tasks []string
	ecs   []*ExecutionContext
}

func newFakeWorker(name string) *fakeWorker {
	return &fakeWorker{name: name}
}

func (w *fakeWorker) Name() string { return w.name }

func (w *fakeWorker) Execute(ctx context.Context, task string, ec *ExecutionContext) (any, error) {
	n := w.calls.Add(1)
	w.mu.Lock()
	w.tasks = append(w.tasks, task)
	w.ecs = append(w.ecs, ec)
	w.mu.Unlock()

	if w.gauge != nil {
		w.gauge.enter()
		defer w.gauge.leave()
	}
	if w.onExecute != nil {
		w.onExecute(task, ec)
	}

	if w.delay > 0 {
		if w.ignoreCtx {
			time.Sleep(w.delay)
		} else {
			select {
			case <-time.After(w.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if w.panicMsg != "" {
		panic(w.panicMsg)
	}
	if w.alwaysFail || int(n) <= w.failFirst {
		return nil, fmt.Errorf("%s failed on call %d", w.name, n)
	}
	return w.name + ":" + task, nil
}

func (w *fakeWorker) callCount() int {
	return int(w.calls.Load())
}

func (w *fakeWorker) receivedTasks() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tasks...)
}

func (w *fakeWorker) contexts() []*ExecutionContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*ExecutionContext(nil), w.ecs...)
}

// concurrencyGauge tracks how many workers run at once.
type concurrencyGauge struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (g *concurrencyGauge) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current++
	g.peak = max(g.peak, g.current)
}

func (g *concurrencyGauge) leave() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current--
}

func (g *concurrencyGauge) snapshot() (current, peak int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current, g.peak
}

// Helpers
// ---------------------------------------------------------------------

const testScope = "test"

// newTestOrchestrator returns an orchestrator whose logs are captured.
func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *logging.LogCollector) {
	t.Helper()
	collector := logging.NewLogCollector(0)
	logger := slog.New(logging.NewCapturingHandler(slog.NewTextHandler(io.Discard, nil), collector, testScope))
	opts = append([]Option{WithLogger(logger)}, opts...)
	return New("coordinator", opts...), collector
}

func policyWith(fn func(p *Policy)) Policy {
	p := DefaultPolicy()
	fn(&p)
	return p
}

func agentNames(results []SubAgentResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Agent
	}
	return names
}

func mustAdd(t *testing.T, o *Orchestrator, ws ...*fakeWorker) {
	t.Helper()
	for _, w := range ws {
		if err := o.AddWorker(w); err != nil {
			t.Fatalf("AddWorker(%s): %v", w.name, err)
		}
	}
}
