// Package testutil provides shared testing utilities for Daygrid.
package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/storage"
)

// TestDB creates an in-memory SQLite database for testing.
// The database is automatically closed when the test completes.
func TestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return db
}

// TestContext returns a context with a timeout for tests.
// The context is automatically cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// ConnectionFixture returns a connection ready to persist. Overrides go
// through the returned pointer before Create.
func ConnectionFixture() *core.Connection {
	return &core.Connection{
		ID:       core.ConnectionID("conn-" + RandomID()),
		UserID:   "user-1",
		Service:  core.ServiceGoogleCalendar,
		Name:     "Test Calendar",
		IsActive: true,
		Config: core.SyncConfig{
			AutoSync:   false,
			Interval:   15 * time.Minute,
			Direction:  core.DirectionBoth,
			SyncTasks:  true,
			SyncEvents: true,
			Strategy:   core.StrategyLatest,
		},
		Status: core.ConnStatusIdle,
	}
}

// TaskFixture returns a task ready to persist
func TaskFixture() *core.Task {
	due := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	return &core.Task{
		ID:    core.EntityID("task-" + RandomID()),
		Title: "Write report",
		Notes: "quarterly numbers",
		DueAt: &due,
	}
}

// EventFixture returns a one-hour event starting at the given time
func EventFixture(start time.Time) *core.Event {
	s := start.UTC().Truncate(time.Second)
	e := s.Add(time.Hour)
	return &core.Event{
		ID:        core.EntityID("event-" + RandomID()),
		Title:     "Team standup",
		Location:  "Room 4",
		Start:     &s,
		End:       &e,
		Attendees: []string{"alex@example.com"},
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
