package storage

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/daygrid/daygrid/internal/core"
)

// PlannerStore is the local CRUD layer for tasks and events. The sync
// orchestrator reads and writes through it when applying resolutions;
// a not-found error means the external item points at a now-deleted
// local entity.
type PlannerStore struct {
	db *DB
}

// NewPlannerStore creates a new planner store
func NewPlannerStore(db *DB) *PlannerStore {
	return &PlannerStore{db: db}
}

// CreateTask creates a task
func (s *PlannerStore) CreateTask(task *core.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.conn.Exec(`
		INSERT INTO tasks (id, title, notes, due_at, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Title, task.Notes, task.DueAt, task.Completed, task.CreatedAt, task.UpdatedAt)

	return err
}

// GetTask returns a task by ID
func (s *PlannerStore) GetTask(id core.EntityID) (*core.Task, error) {
	task := &core.Task{}
	var notes sql.NullString
	var dueAt sql.NullTime

	err := s.db.conn.QueryRow(`
		SELECT id, title, notes, due_at, completed, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Title, &notes, &dueAt, &task.Completed, &task.CreatedAt, &task.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	task.Notes = notes.String
	if dueAt.Valid {
		task.DueAt = &dueAt.Time
	}

	return task, nil
}

// UpdateTask updates a task
func (s *PlannerStore) UpdateTask(task *core.Task) error {
	task.UpdatedAt = time.Now().UTC()

	res, err := s.db.conn.Exec(`
		UPDATE tasks SET title = ?, notes = ?, due_at = ?, completed = ?, updated_at = ?
		WHERE id = ?
	`, task.Title, task.Notes, task.DueAt, task.Completed, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrTaskNotFound
	}
	return nil
}

// DeleteTask deletes a task
func (s *PlannerStore) DeleteTask(id core.EntityID) error {
	_, err := s.db.conn.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// CreateEvent creates an event
func (s *PlannerStore) CreateEvent(event *core.Event) error {
	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now

	attendees, _ := json.Marshal(event.Attendees)

	_, err := s.db.conn.Exec(`
		INSERT INTO events (id, title, location, start_at, end_at, attendees, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.Title, event.Location, event.Start, event.End, string(attendees), event.CreatedAt, event.UpdatedAt)

	return err
}

// GetEvent returns an event by ID
func (s *PlannerStore) GetEvent(id core.EntityID) (*core.Event, error) {
	event := &core.Event{}
	var location, attendees sql.NullString
	var start, end sql.NullTime

	err := s.db.conn.QueryRow(`
		SELECT id, title, location, start_at, end_at, attendees, created_at, updated_at
		FROM events WHERE id = ?
	`, id).Scan(&event.ID, &event.Title, &location, &start, &end, &attendees, &event.CreatedAt, &event.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, core.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	event.Location = location.String
	if start.Valid {
		event.Start = &start.Time
	}
	if end.Valid {
		event.End = &end.Time
	}
	if attendees.Valid && attendees.String != "" {
		json.Unmarshal([]byte(attendees.String), &event.Attendees)
	}

	return event, nil
}

// ListEvents returns all events in a time window, ordered by start.
// Unbounded events are included when the window is open on that side.
func (s *PlannerStore) ListEvents(from, to *time.Time) ([]*core.Event, error) {
	q := `
		SELECT id, title, location, start_at, end_at, attendees, created_at, updated_at
		FROM events
	`
	var clauses []string
	var args []any
	if from != nil {
		clauses = append(clauses, "end_at >= ?")
		args = append(args, from.UTC())
	}
	if to != nil {
		clauses = append(clauses, "start_at < ?")
		args = append(args, to.UTC())
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY start_at ASC"

	rows, err := s.db.conn.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*core.Event
	for rows.Next() {
		event := &core.Event{}
		var location, attendees sql.NullString
		var start, end sql.NullTime

		err := rows.Scan(&event.ID, &event.Title, &location, &start, &end,
			&attendees, &event.CreatedAt, &event.UpdatedAt)
		if err != nil {
			return nil, err
		}

		event.Location = location.String
		if start.Valid {
			event.Start = &start.Time
		}
		if end.Valid {
			event.End = &end.Time
		}
		if attendees.Valid && attendees.String != "" {
			json.Unmarshal([]byte(attendees.String), &event.Attendees)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// UpdateEvent updates an event
func (s *PlannerStore) UpdateEvent(event *core.Event) error {
	event.UpdatedAt = time.Now().UTC()

	attendees, _ := json.Marshal(event.Attendees)

	res, err := s.db.conn.Exec(`
		UPDATE events SET title = ?, location = ?, start_at = ?, end_at = ?, attendees = ?, updated_at = ?
		WHERE id = ?
	`, event.Title, event.Location, event.Start, event.End, string(attendees), event.UpdatedAt, event.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrEventNotFound
	}
	return nil
}

// DeleteEvent deletes an event
func (s *PlannerStore) DeleteEvent(id core.EntityID) error {
	_, err := s.db.conn.Exec(`DELETE FROM events WHERE id = ?`, id)
	return err
}
