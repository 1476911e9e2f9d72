package runner

import (
	"errors"
	"sync"
)

// MemoryStore keeps the most recent runs in memory only (no persistence).
type MemoryStore struct {
	maxCount int
	runs     []RunStatus
	mu       sync.Mutex
}

// NewMemoryStore creates a new in-memory store holding at most maxCount runs.
// maxCount <= 0 means unbounded.
func NewMemoryStore(maxCount int) *MemoryStore {
	return &MemoryStore{
		maxCount: maxCount,
		runs:     make([]RunStatus, 0),
	}
}

// History returns all runs as summaries.
func (s *MemoryStore) History() []RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]RunSummary, len(s.runs))
	for i, run := range s.runs {
		result[i] = run.RunSummary
	}
	return result
}

// Run returns the run with the given id.
func (s *MemoryStore) Run(id string) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, true
		}
	}
	return RunStatus{}, false
}

// Save stores a run in memory, evicting the oldest beyond maxCount.
func (s *MemoryStore) Save(run RunStatus) error {
	if run.ID == "" {
		return errors.New("cannot save run without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Prepend to keep most recent first
	s.runs = append([]RunStatus{run}, s.runs...)
	if s.maxCount > 0 && len(s.runs) > s.maxCount {
		s.runs = s.runs[:s.maxCount]
	}
	return nil
}
