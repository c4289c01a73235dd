package sync

import (
	"reflect"
	"sort"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// Neutral field names shared by adapters and the reconciler
const (
	FieldTitle     = "title"
	FieldNotes     = "notes"
	FieldDueAt     = "due_at"
	FieldCompleted = "completed"
	FieldLocation  = "location"
	FieldStart     = "start"
	FieldEnd       = "end"
	FieldAttendees = "attendees"
)

// taskFields flattens a task into the neutral field map
func taskFields(t *core.Task) map[string]any {
	fields := map[string]any{
		FieldTitle:     t.Title,
		FieldNotes:     t.Notes,
		FieldCompleted: t.Completed,
	}
	if t.DueAt != nil {
		fields[FieldDueAt] = t.DueAt.UTC().Format(time.RFC3339)
	}
	return fields
}

// eventFields flattens an event into the neutral field map
func eventFields(e *core.Event) map[string]any {
	fields := map[string]any{
		FieldTitle:    e.Title,
		FieldLocation: e.Location,
	}
	if e.Start != nil {
		fields[FieldStart] = e.Start.UTC().Format(time.RFC3339)
	}
	if e.End != nil {
		fields[FieldEnd] = e.End.UTC().Format(time.RFC3339)
	}
	if len(e.Attendees) > 0 {
		attendees := make([]any, len(e.Attendees))
		for i, a := range e.Attendees {
			attendees[i] = a
		}
		fields[FieldAttendees] = attendees
	}
	return fields
}

// diffFields returns the fields in current that differ from base.
// A field missing from current but present in base does not count; the
// neutral field maps omit unset optional fields rather than nulling them.
func diffFields(base, current map[string]any) map[string]any {
	diff := make(map[string]any)
	for k, v := range current {
		if bv, ok := base[k]; !ok || !reflect.DeepEqual(bv, v) {
			diff[k] = v
		}
	}
	return diff
}

// unionKeys returns the sorted union of the keys of both maps
func unionKeys(a, b map[string]any) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// applyTaskFields overlays a field map onto a task. Only present fields
// are touched, so a merge diff applies cleanly.
func applyTaskFields(t *core.Task, fields map[string]any) {
	if v, ok := fields[FieldTitle].(string); ok {
		t.Title = v
	}
	if v, ok := fields[FieldNotes].(string); ok {
		t.Notes = v
	}
	if v, ok := fields[FieldCompleted].(bool); ok {
		t.Completed = v
	}
	if v, ok := fields[FieldDueAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			t.DueAt = &ts
		}
	}
}

// applyEventFields overlays a field map onto an event
func applyEventFields(e *core.Event, fields map[string]any) {
	if v, ok := fields[FieldTitle].(string); ok {
		e.Title = v
	}
	if v, ok := fields[FieldLocation].(string); ok {
		e.Location = v
	}
	if v, ok := fields[FieldStart].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			e.Start = &ts
		}
	}
	if v, ok := fields[FieldEnd].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			e.End = &ts
		}
	}
	if v, ok := fields[FieldAttendees].([]any); ok {
		attendees := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				attendees = append(attendees, s)
			}
		}
		e.Attendees = attendees
	}
}
