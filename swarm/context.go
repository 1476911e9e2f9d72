package swarm

import (
	"reflect"
	"sync"
	"time"
)

// ExecutionContext is the value holder threaded through every worker call.
//
// State must hold plain, acyclic data (maps, slices, scalars, structs of
// those). Isolation clones it structurally; cyclic values are not supported.
//
// The orchestrator serialises its own reads and writes of the context with an
// internal lock. Workers that share one context (isolation disabled) and
// mutate State concurrently must coordinate among themselves. A shared
// context also has its Metadata trace fields (sub_agent, operation_id and the
// rest) rewritten as each sibling attempt starts, so workers should read
// metadata through MetadataString rather than the map directly.
type ExecutionContext struct {
	SessionID string
	UserID    string
	Metadata  map[string]any
	State     map[string]any
	CreatedAt time.Time

	mu sync.Mutex
}

// NewExecutionContext creates an empty context for the given session.
func NewExecutionContext(sessionID string) *ExecutionContext {
	return &ExecutionContext{
		SessionID: sessionID,
		Metadata:  make(map[string]any),
		State:     make(map[string]any),
		CreatedAt: time.Now(),
	}
}

// MetadataString returns the metadata value for key if it is a non-empty string.
func (ec *ExecutionContext) MetadataString(key string) string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	s, _ := ec.Metadata[key].(string)
	return s
}

// History returns a copy of the swarm history recorded in State.
func (ec *ExecutionContext) History() []HistoryEntry {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	h, _ := ec.State[HistoryStateKey].([]HistoryEntry)
	return append([]HistoryEntry(nil), h...)
}

// SwarmMetrics returns a copy of the metrics records recorded in State.
func (ec *ExecutionContext) SwarmMetrics() []MetricsRecord {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	m, _ := ec.State[MetricsStateKey].([]MetricsRecord)
	return append([]MetricsRecord(nil), m...)
}

func (ec *ExecutionContext) ensureMaps() {
	if ec.Metadata == nil {
		ec.Metadata = make(map[string]any)
	}
	if ec.State == nil {
		ec.State = make(map[string]any)
	}
}

// setMetadataDefault stores value under key unless a value is already present.
func (ec *ExecutionContext) setMetadataDefault(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.ensureMaps()
	if _, ok := ec.Metadata[key]; !ok {
		ec.Metadata[key] = value
	}
}

// recordRun appends the history entry and metrics record, keeping at most
// limit entries of each (oldest evicted first).
func (ec *ExecutionContext) recordRun(entry HistoryEntry, rec MetricsRecord, limit int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.ensureMaps()

	history, _ := ec.State[HistoryStateKey].([]HistoryEntry)
	ec.State[HistoryStateKey] = appendLimited(history, entry, limit)

	records, _ := ec.State[MetricsStateKey].([]MetricsRecord)
	ec.State[MetricsStateKey] = appendLimited(records, rec, limit)
}

// traceFields identifies one worker invocation within an operation.
type traceFields struct {
	parent         string
	worker         string
	operationID    string
	subOperationID string
	correlationID  string
}

func (t traceFields) apply(m map[string]any) {
	m[MetaSwarmParent] = t.parent
	m[MetaSubAgent] = t.worker
	m[MetaOperationID] = t.operationID
	m[MetaSubOperationID] = t.subOperationID
	m[MetaCorrelationID] = t.correlationID
}

// subContext builds the context handed to one worker attempt.
//
// Without isolation the parent itself is returned after its metadata is
// stamped with the trace fields. With isolation the worker gets a new context
// with a shallow metadata copy, the trace fields, and a deep copy of State.
func subContext(parent *ExecutionContext, isolate bool, t traceFields) *ExecutionContext {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	parent.ensureMaps()

	if !isolate {
		t.apply(parent.Metadata)
		return parent
	}

	metadata := make(map[string]any, len(parent.Metadata)+5)
	for k, v := range parent.Metadata {
		metadata[k] = v
	}
	t.apply(metadata)

	state, _ := deepCopy(parent.State).(map[string]any)
	if state == nil {
		state = make(map[string]any)
	}

	return &ExecutionContext{
		SessionID: parent.SessionID,
		UserID:    parent.UserID,
		Metadata:  metadata,
		State:     state,
		CreatedAt: time.Now(),
	}
}

// deepCopy returns a structural clone of v. Maps, slices, arrays and pointers
// are copied recursively; other values are copied by assignment.
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	return copyValue(reflect.ValueOf(v)).Interface()
}

func copyValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyValue(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyValue(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(copyValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(copyValue(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if out.Field(i).CanSet() {
				out.Field(i).Set(copyValue(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}
