package poll

import (
	"fmt"
	"time"
)

// State is where one search is within a cycle.
type State string

const (
	StatePending     State = "pending"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateClassifying State = "classifying"
	StatePersisting  State = "persisting"
	StateNotifying   State = "notifying"
	StateDone        State = "done"
	StateErrored     State = "errored"
	StateSkipped     State = "skipped" // Not started before the run deadline
)

// validTransitions lists the states reachable from each state. Errored is
// reachable from every non-terminal state.
var validTransitions = map[State][]State{
	StatePending:     {StateFetching, StateSkipped, StateErrored},
	StateFetching:    {StateExtracting, StateErrored},
	StateExtracting:  {StateClassifying, StateErrored},
	StateClassifying: {StatePersisting, StateErrored},
	StatePersisting:  {StateNotifying, StateErrored},
	StateNotifying:   {StateDone, StateErrored},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored || s == StateSkipped
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SearchReport is the outcome of one search in one cycle.
type SearchReport struct {
	StartedAt    time.Time `json:"started_at,omitzero"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	Name         string    `json:"name"`
	State        State     `json:"state"`
	FailureClass string    `json:"failure_class,omitempty"`
	NewIDs       []string  `json:"new_ids,omitempty"`
	Pages        int       `json:"pages"`
	Candidates   int       `json:"candidates"`
	Malformed    int       `json:"malformed"`
	Duplicates   int       `json:"duplicates"`
	New          int       `json:"new"`
	Notified     int       `json:"notified"`
	NotifyFailed int       `json:"notify_failed"`
	Truncated    bool      `json:"truncated"`
	Batched      bool      `json:"batched"`
}

func newSearchReport(name string) *SearchReport {
	return &SearchReport{Name: name, State: StatePending}
}

func (r *SearchReport) transition(to State) error {
	if !canTransition(r.State, to) {
		return fmt.Errorf("search %s: invalid transition %s -> %s", r.Name, r.State, to)
	}
	r.State = to
	return nil
}

// CycleReport is the outcome of one full pass over the enabled searches.
type CycleReport struct {
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	RunID         string          `json:"run_id"`
	Searches      []*SearchReport `json:"searches"`
	LedgerPurged  int64           `json:"ledger_purged"`
	RecordsPurged int64           `json:"records_purged"`
	Heartbeat     bool            `json:"heartbeat"`
}

// NewListings counts listings first seen in this cycle across all searches.
func (r *CycleReport) NewListings() int {
	n := 0
	for _, s := range r.Searches {
		n += s.New
	}
	return n
}

// Count returns how many searches ended in state.
func (r *CycleReport) Count(state State) int {
	n := 0
	for _, s := range r.Searches {
		if s.State == state {
			n++
		}
	}
	return n
}

// AllFailed reports whether searches ran and none of them reached Done.
func (r *CycleReport) AllFailed() bool {
	return len(r.Searches) > 0 && r.Count(StateDone) == 0
}

func (r *CycleReport) outcome() string {
	switch done := r.Count(StateDone); {
	case len(r.Searches) == 0:
		return "empty"
	case done == len(r.Searches):
		return "ok"
	case done == 0:
		return "failed"
	default:
		return "partial"
	}
}
