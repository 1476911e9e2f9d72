package logging

import (
	"sync"
	"time"
)

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes"`
}

// LogCollector stores captured log records grouped by scope, typically a
// run id. Each scope keeps at most maxPerScope entries, dropping the oldest.
type LogCollector struct {
	mu          sync.RWMutex
	maxPerScope int
	logs        map[string][]LogEntry
}

// NewLogCollector creates a collector. maxPerScope <= 0 means unbounded.
func NewLogCollector(maxPerScope int) *LogCollector {
	return &LogCollector{
		maxPerScope: maxPerScope,
		logs:        make(map[string][]LogEntry),
	}
}

// AddLog adds a log entry to scope.
func (c *LogCollector) AddLog(scope string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := append(c.logs[scope], entry)
	if c.maxPerScope > 0 && len(logs) > c.maxPerScope {
		logs = append([]LogEntry(nil), logs[len(logs)-c.maxPerScope:]...)
	}
	c.logs[scope] = logs
}

// GetLogs returns a copy of the entries of scope, or nil if there are none.
func (c *LogCollector) GetLogs(scope string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs, exists := c.logs[scope]
	if !exists {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// Events returns the entries of scope whose message is one of messages.
func (c *LogCollector) Events(scope string, messages ...string) []LogEntry {
	want := make(map[string]bool, len(messages))
	for _, m := range messages {
		want[m] = true
	}

	var result []LogEntry
	for _, entry := range c.GetLogs(scope) {
		if want[entry.Message] {
			result = append(result, entry)
		}
	}
	return result
}

// GetAllLogs returns a copy of all entries grouped by scope.
func (c *LogCollector) GetAllLogs() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string][]LogEntry, len(c.logs))
	for scope, logs := range c.logs {
		logsCopy := make([]LogEntry, len(logs))
		copy(logsCopy, logs)
		result[scope] = logsCopy
	}
	return result
}

// Remove drops the entries of scope.
func (c *LogCollector) Remove(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.logs, scope)
}

// Clear removes all stored logs.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]LogEntry)
}
