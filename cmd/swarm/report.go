package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nomis52/goswarm/job"
)

// formatReport renders the human readable summary of a job result.
func formatReport(res *job.Result) string {
	var b strings.Builder
	if r := res.MassReport; r != nil {
		fmt.Fprintf(&b, "%s Mass swarm report\n", mark(r.Success))
		fmt.Fprintf(&b, "   Operation ID: %s\n", r.OperationID)
		fmt.Fprintf(&b, "   Correlation ID: %s\n", r.CorrelationID)
		fmt.Fprintf(&b, "   Success: %t\n", r.Success)
		fmt.Fprintf(&b, "   Tasks: %d/%d successful\n", r.SuccessfulTasks, r.TotalTasks)
		fmt.Fprintf(&b, "   Duration: %d ms\n", r.DurationMS)
		fmt.Fprintf(&b, "   p95 task duration: %d ms\n", r.Metrics.P95LatencyMS)
		fmt.Fprintf(&b, "   Success rate: %v\n", r.Metrics.SuccessRate)
		return b.String()
	}

	r := res.Report
	if r == nil {
		return ""
	}
	fmt.Fprintf(&b, "%s Swarm report\n", mark(r.Success))
	fmt.Fprintf(&b, "   Operation ID: %s\n", r.OperationID)
	fmt.Fprintf(&b, "   Correlation ID: %s\n", r.CorrelationID)
	fmt.Fprintf(&b, "   Success: %t\n", r.Success)
	fmt.Fprintf(&b, "   Agents: %d/%d successful\n", r.SuccessfulAgents, r.TotalAgents)
	fmt.Fprintf(&b, "   Duration: %d ms\n", r.DurationMS)
	fmt.Fprintf(&b, "   p95 sub-agent duration: %d ms\n", r.Metrics.P95LatencyMS)
	fmt.Fprintf(&b, "   Timeouts: %d\n", r.Metrics.TimeoutCount)
	fmt.Fprintf(&b, "   Retries used: %d\n", r.Metrics.RetriesUsed)
	fmt.Fprintf(&b, "   Success rate: %v\n", r.Metrics.SuccessRate)
	for _, sub := range r.Results {
		if !sub.Success {
			fmt.Fprintf(&b, "   ✗ %s: %s\n", sub.Agent, sub.Error)
		}
	}
	return b.String()
}

func mark(success bool) string {
	if success {
		return "✅"
	}
	return "❌"
}

// reportValue returns whichever report the result carries.
func reportValue(res *job.Result) any {
	if res.MassReport != nil {
		return res.MassReport
	}
	return res.Report
}

// writeJSON writes v as indented JSON, creating parent directories.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func newJSONEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}
