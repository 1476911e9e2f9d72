package cron

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	triggerSeparator = ";"
	jobSeparator     = ":"
	jobListSeparator = ","
)

// TriggerSpec is a parsed trigger: the jobs to run and the cron schedule.
type TriggerSpec struct {
	Jobs     []string `yaml:"jobs" json:"jobs"`
	CronSpec string   `yaml:"schedule" json:"schedule"`
}

// ParseTriggerSpecs parses a multi-trigger specification string into individual trigger specs.
// The format is: job1,job2:cron_expression;job3:cron_expression2
//
// Returns an error if:
//   - Any trigger is missing jobs or cron expression
//   - Any job name is not in availableJobs
//   - Any cron expression is invalid
//   - Any trigger has duplicate jobs
func ParseTriggerSpecs(spec string, availableJobs map[string]bool) ([]TriggerSpec, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("cron spec cannot be empty")
	}

	var specs []TriggerSpec
	for _, triggerStr := range strings.Split(spec, triggerSeparator) {
		triggerStr = strings.TrimSpace(triggerStr)
		if triggerStr == "" {
			continue
		}

		parts := strings.Split(triggerStr, jobSeparator)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid trigger spec: expected format 'jobs:cron', got '%s'", triggerStr)
		}
		jobsStr := strings.TrimSpace(parts[0])
		cronSpec := strings.TrimSpace(parts[1])
		if jobsStr == "" {
			return nil, fmt.Errorf("invalid trigger spec: missing jobs in '%s'", triggerStr)
		}
		if cronSpec == "" {
			return nil, fmt.Errorf("invalid trigger spec: missing cron schedule in '%s'", triggerStr)
		}

		ts := TriggerSpec{CronSpec: cronSpec}
		for _, j := range strings.Split(jobsStr, jobListSeparator) {
			if j = strings.TrimSpace(j); j != "" {
				ts.Jobs = append(ts.Jobs, j)
			}
		}
		if err := ValidateTriggerSpec(ts, availableJobs); err != nil {
			return nil, fmt.Errorf("invalid trigger spec: %w in '%s'", err, triggerStr)
		}
		specs = append(specs, ts)
	}

	if len(specs) == 0 {
		return nil, errors.New("no valid triggers found in cron spec")
	}
	return specs, nil
}

// ValidateTriggerSpec checks that ts names at least one job, that every job
// is known and listed once, and that the schedule parses.
func ValidateTriggerSpec(ts TriggerSpec, availableJobs map[string]bool) error {
	if len(ts.Jobs) == 0 {
		return errors.New("no valid jobs")
	}

	seen := make(map[string]bool, len(ts.Jobs))
	for _, j := range ts.Jobs {
		if seen[j] {
			return fmt.Errorf("duplicate job '%s'", j)
		}
		seen[j] = true

		if !availableJobs[j] {
			return fmt.Errorf("unknown job '%s' (available: %s)", j, formatAvailableJobs(availableJobs))
		}
	}

	if _, err := newParser().Parse(ts.CronSpec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", ts.CronSpec, err)
	}
	return nil
}

func formatAvailableJobs(availableJobs map[string]bool) string {
	jobs := make([]string, 0, len(availableJobs))
	for j := range availableJobs {
		jobs = append(jobs, j)
	}
	sort.Strings(jobs)
	return strings.Join(jobs, ", ")
}
