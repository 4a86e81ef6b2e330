package models

// SeedOutcome tells which branch produced a SeedResult
type SeedOutcome string

const (
	SeedOutcomeUnset     SeedOutcome = ""          // Zero value = unset/unknown
	SeedOutcomeOK        SeedOutcome = "ok"        // Two-hop crawl completed (possibly over fallback pages)
	SeedOutcomeEmergency SeedOutcome = "emergency" // Unrecoverable failure, manual-check record substituted
)

// String implements fmt.Stringer for logging
func (o SeedOutcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsValid returns true if the outcome is a known operational value
func (o SeedOutcome) IsValid() bool {
	switch o {
	case SeedOutcomeOK, SeedOutcomeEmergency:
		return true
	}
	return false
}

// RunState is the position of a bulk run in its lifecycle:
// idle -> validating -> batching -> (fetching_seed -> fetching_intermediates -> aggregating)* -> done
type RunState string

const (
	RunStateIdle                  RunState = "idle"
	RunStateValidating            RunState = "validating"
	RunStateBatching              RunState = "batching"
	RunStateFetchingSeed          RunState = "fetching_seed"
	RunStateFetchingIntermediates RunState = "fetching_intermediates"
	RunStateAggregating           RunState = "aggregating"
	RunStateDone                  RunState = "done"
)

// String implements fmt.Stringer for logging
func (s RunState) String() string {
	if s == "" {
		return string(RunStateIdle)
	}
	return string(s)
}

// IsTerminal reports whether the run has finished
func (s RunState) IsTerminal() bool {
	return s == RunStateDone
}

// RunProgress is a point-in-time view of a bulk run
type RunProgress struct {
	State         RunState `json:"state"`
	CurrentSeed   string   `json:"currentSeed,omitempty"`
	BatchIndex    int      `json:"batchIndex"` // 1-based, 0 before the first batch
	TotalBatches  int      `json:"totalBatches"`
	ProcessedURLs int      `json:"processedUrls"`
	TotalURLs     int      `json:"totalUrls"`
	LinksSoFar    int      `json:"linksSoFar"`
}
