package parse

import (
	"fmt"
	"sort"
	"strings"
)

// Why a row was left out of the store.
type Reason string

const (
	ReasonMissingField  Reason = "missing_field"
	ReasonBadCoordinate Reason = "bad_coordinate"
	ReasonBadSequence   Reason = "bad_sequence"
	ReasonBadTime       Reason = "bad_time"
	ReasonUnknownLine   Reason = "unknown_line"
	ReasonUnknownTrip   Reason = "unknown_trip"
	ReasonUnknownStop   Reason = "unknown_stop"
	ReasonDuplicate     Reason = "duplicate"
)

// Import stages, in the order they run.
const (
	StageStops     = "stops"
	StageLines     = "lines"
	StageTrips     = "trips"
	StageStopTimes = "stop_times"
)

// Row counts for a single entity. Read == Imported + Skipped once
// the stage has completed, and Skipped is the sum of Reasons.
type EntitySummary struct {
	Entity   string         `json:"entity"`
	Read     int            `json:"read"`
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	Reasons  map[Reason]int `json:"reasons"`
}

func NewEntitySummary(entity string) *EntitySummary {
	return &EntitySummary{
		Entity:  entity,
		Reasons: map[Reason]int{},
	}
}

func (s *EntitySummary) skip(reason Reason, n int) {
	if n <= 0 {
		return
	}
	s.Skipped += n
	s.Reasons[reason] += n
}

func (s *EntitySummary) String() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "%-11s read %d, imported %d, skipped %d", s.Entity+":", s.Read, s.Imported, s.Skipped)

	if len(s.Reasons) > 0 {
		reasons := make([]string, 0, len(s.Reasons))
		for r := range s.Reasons {
			reasons = append(reasons, string(r))
		}
		sort.Strings(reasons)

		parts := make([]string, 0, len(reasons))
		for _, r := range reasons {
			parts = append(parts, fmt.Sprintf("%s=%d", r, s.Reasons[Reason(r)]))
		}
		fmt.Fprintf(b, " (%s)", strings.Join(parts, ", "))
	}

	return b.String()
}

// Summary of an import run, one entry per stage that was started.
type Summary struct {
	Entities []*EntitySummary `json:"entities"`
}

// Returns the summary for an entity, or nil if its stage never ran.
func (s *Summary) Entity(entity string) *EntitySummary {
	for _, e := range s.Entities {
		if e.Entity == entity {
			return e
		}
	}
	return nil
}

func (s *Summary) Imported() int {
	n := 0
	for _, e := range s.Entities {
		n += e.Imported
	}
	return n
}

func (s *Summary) Skipped() int {
	n := 0
	for _, e := range s.Entities {
		n += e.Skipped
	}
	return n
}

func (s *Summary) String() string {
	lines := make([]string, 0, len(s.Entities)+1)
	for _, e := range s.Entities {
		lines = append(lines, e.String())
	}
	lines = append(lines, fmt.Sprintf("total: imported %d, skipped %d", s.Imported(), s.Skipped()))
	return strings.Join(lines, "\n")
}

// Storage failure during an import stage. Rows committed before the
// failure stay in the store.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
