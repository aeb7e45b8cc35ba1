package offline

import "time"

// State is the phase of the sync orchestrator.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateFlushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// SyncEvents provides hooks for observability during sync operations.
// Hooks run synchronously on the syncing goroutine and must not block.
type SyncEvents struct {
	OnStateChange func(from, to State)           // Called on every phase change
	OnFlush       func(FlushReport)              // Called after each flush pass
	OnComplete    func(report Report, err error) // Called when a cycle ends
}

// FlushReport counts what a flush pass did.
type FlushReport struct {
	Deleted int // deletes confirmed (or already gone remotely)
	Created int // creates confirmed and promoted
	Updated int // updates confirmed
	Dropped int // updates dropped because the record no longer exists remotely
	Failed  int // entries left pending after a failure
	Err     error
}

// Changed reports whether the pass altered the remote store or the journal.
func (r FlushReport) Changed() bool {
	return r.Deleted+r.Created+r.Updated+r.Dropped > 0
}

// Report summarizes one sync cycle.
type Report struct {
	Fetched   bool
	Records   int
	Flush     FlushReport
	Refetched bool
	Duration  time.Duration
}

// Status is a point-in-time summary for display.
type Status struct {
	State    State
	Online   bool
	Pending  PendingCounts
	Records  int
	LastSync time.Time
}
