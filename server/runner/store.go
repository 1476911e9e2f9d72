package runner

// StateStore manages persistence of run history.
type StateStore interface {
	// History returns the summaries of the stored runs, most recent first.
	History() []RunSummary
	// Run returns the full record of one run.
	Run(id string) (RunStatus, bool)
	// Save persists a completed run.
	Save(RunStatus) error
}
