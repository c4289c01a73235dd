package storage

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/credentials"
)

// testDB creates an in-memory database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
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

func testConnection(t *testing.T, db *DB) *core.Connection {
	t.Helper()
	conn := &core.Connection{
		ID:       core.ConnectionID("conn-1"),
		UserID:   "user-1",
		Service:  core.ServiceGoogleCalendar,
		Name:     "Work Calendar",
		IsActive: true,
		Config: core.SyncConfig{
			Direction:  core.DirectionBoth,
			SyncTasks:  true,
			SyncEvents: true,
			Strategy:   core.StrategyLatest,
			Interval:   15 * time.Minute,
		},
		Status: core.ConnStatusIdle,
	}
	if err := NewConnectionStore(db).Create(conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

// =============================================================================
// DB Tests
// =============================================================================

func TestDB_Open_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.conn == nil {
		t.Error("db.conn should not be nil")
	}
}

func TestDB_Migrate_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// =============================================================================
// ConnectionStore Tests
// =============================================================================

func TestConnectionStore_CreateAndGet(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewConnectionStore(db)

	got, err := store.Get(conn.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Work Calendar" {
		t.Errorf("Name = %q, want Work Calendar", got.Name)
	}
	if got.Service != core.ServiceGoogleCalendar {
		t.Errorf("Service = %q", got.Service)
	}
	if got.Config.Strategy != core.StrategyLatest {
		t.Errorf("Config.Strategy = %q, want latest", got.Config.Strategy)
	}
	if !got.IsActive {
		t.Error("connection should be active")
	}
}

func TestConnectionStore_Get_NotFound(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db)

	_, err := store.Get("missing")
	if !errors.Is(err, core.ErrConnectionNotFound) {
		t.Errorf("Get() error = %v, want ErrConnectionNotFound", err)
	}
}

func TestConnectionStore_GetActive(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db)
	conn := testConnection(t, db)

	inactive := *conn
	inactive.ID = "conn-2"
	inactive.IsActive = false
	if err := store.Create(&inactive); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	active, err := store.GetActive()
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != conn.ID {
		t.Errorf("GetActive() = %d connections, want only %s", len(active), conn.ID)
	}
}

func TestConnectionStore_UpdateSyncStatus(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db)
	conn := testConnection(t, db)

	now := time.Now().UTC().Truncate(time.Second)
	if err := store.UpdateSyncStatus(conn.ID, core.ConnStatusIdle, "", &now); err != nil {
		t.Fatalf("UpdateSyncStatus() error = %v", err)
	}

	got, err := store.Get(conn.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt = %v, want %v", got.LastSyncAt, now)
	}

	// A status change without a sync time keeps the old timestamp
	if err := store.UpdateSyncStatus(conn.ID, core.ConnStatusError, "token expired", nil); err != nil {
		t.Fatalf("UpdateSyncStatus() error = %v", err)
	}
	got, _ = store.Get(conn.ID)
	if got.Status != core.ConnStatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.LastError != "token expired" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(now) {
		t.Errorf("LastSyncAt was clobbered: %v", got.LastSyncAt)
	}
}

func TestConnectionStore_RecordAuthFailure(t *testing.T) {
	db := testDB(t)
	store := NewConnectionStore(db)
	conn := testConnection(t, db)

	for i := 1; i <= 2; i++ {
		deactivated, err := store.RecordAuthFailure(conn.ID, 3)
		if err != nil {
			t.Fatalf("RecordAuthFailure() error = %v", err)
		}
		if deactivated {
			t.Fatalf("deactivated after %d failures, threshold is 3", i)
		}
	}

	deactivated, err := store.RecordAuthFailure(conn.ID, 3)
	if err != nil {
		t.Fatalf("RecordAuthFailure() error = %v", err)
	}
	if !deactivated {
		t.Error("third failure should deactivate")
	}

	got, _ := store.Get(conn.ID)
	if got.IsActive {
		t.Error("connection should be inactive after hitting the threshold")
	}

	if err := store.ResetAuthFailures(conn.ID); err != nil {
		t.Fatalf("ResetAuthFailures() error = %v", err)
	}
	got, _ = store.Get(conn.ID)
	if got.AuthFailures != 0 {
		t.Errorf("AuthFailures = %d after reset, want 0", got.AuthFailures)
	}
}

// =============================================================================
// ExternalItemStore Tests
// =============================================================================

func TestExternalItemStore_Link(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewExternalItemStore(db)

	item, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", map[string]any{"title": "a"}, nil)
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if item.Version != 1 {
		t.Errorf("Version = %d, want 1", item.Version)
	}

	// Same pair again: idempotent, returns the existing item
	again, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", nil, nil)
	if err != nil {
		t.Fatalf("repeat Link() error = %v", err)
	}
	if again.ID != item.ID {
		t.Errorf("repeat Link() returned a different item: %s vs %s", again.ID, item.ID)
	}

	// Same external ID bound to a different entity: refused
	if _, err := store.Link(conn.ID, "task-2", core.KindTask, "ext-1", nil, nil); !errors.Is(err, core.ErrDuplicateLink) {
		t.Errorf("conflicting Link() error = %v, want ErrDuplicateLink", err)
	}
}

func TestExternalItemStore_RecordSync_BumpsVersion(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewExternalItemStore(db)

	item, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", map[string]any{"title": "a"}, nil)
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	modified := time.Now().UTC().Truncate(time.Second)
	if err := store.RecordSync(item, map[string]any{"title": "b"}, &modified); err != nil {
		t.Fatalf("RecordSync() error = %v", err)
	}
	if item.Version != 2 {
		t.Errorf("Version = %d, want 2", item.Version)
	}

	got, err := store.GetByExternalID(conn.ID, "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if got.Snapshot["title"] != "b" {
		t.Errorf("Snapshot title = %v, want b", got.Snapshot["title"])
	}
	if got.Version != 2 {
		t.Errorf("stored Version = %d, want 2", got.Version)
	}
}

func TestExternalItemStore_RecordSync_StaleWrite(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewExternalItemStore(db)

	item, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", nil, nil)
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	// A second reader loads the same version, then the first one writes
	stale, err := store.GetByExternalID(conn.ID, "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if err := store.RecordSync(item, map[string]any{"title": "x"}, nil); err != nil {
		t.Fatalf("RecordSync() error = %v", err)
	}

	err = store.RecordSync(stale, map[string]any{"title": "y"}, nil)
	if !errors.Is(err, core.ErrStaleWrite) {
		t.Errorf("stale RecordSync() error = %v, want ErrStaleWrite", err)
	}

	// The winning write is untouched
	got, _ := store.GetByExternalID(conn.ID, "ext-1")
	if got.Snapshot["title"] != "x" {
		t.Errorf("Snapshot title = %v, want x", got.Snapshot["title"])
	}
}

func TestExternalItemStore_MarkExternalDeleted(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewExternalItemStore(db)

	item, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", nil, nil)
	if err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if err := store.MarkExternalDeleted(item.ID); err != nil {
		t.Fatalf("MarkExternalDeleted() error = %v", err)
	}

	items, err := store.ListByConnection(conn.ID)
	if err != nil {
		t.Fatalf("ListByConnection() error = %v", err)
	}
	if len(items) != 0 {
		t.Errorf("deleted item still listed: %d items", len(items))
	}

	if err := store.MarkExternalDeleted("missing"); !errors.Is(err, core.ErrExternalItemNotFound) {
		t.Errorf("MarkExternalDeleted(missing) error = %v, want ErrExternalItemNotFound", err)
	}
}

func TestExternalItemStore_CascadeOnConnectionDelete(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewExternalItemStore(db)

	if _, err := store.Link(conn.ID, "task-1", core.KindTask, "ext-1", nil, nil); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	if err := NewConnectionStore(db).Delete(conn.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.GetByExternalID(conn.ID, "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if got != nil {
		t.Error("registry entry survived connection deletion")
	}
}

// =============================================================================
// JobStore Tests
// =============================================================================

func TestJobStore_PriorityOrdering(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	if _, err := store.Enqueue(conn.ID, core.OpIncrementalSync, nil, 100, 3); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	urgent, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	next, err := store.DequeueNext(conn.ID)
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if next == nil || next.ID != urgent.ID {
		t.Errorf("DequeueNext() picked the wrong job; want the priority-10 one")
	}
}

func TestJobStore_DequeueNext_NothingDue(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	job, err := store.DequeueNext(conn.ID)
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if job != nil {
		t.Errorf("DequeueNext() on empty queue = %+v, want nil", job)
	}
}

func TestJobStore_ClaimIsExclusive(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	job, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	// A second claim on the same job loses
	copyJob := *job
	copyJob.Status = core.JobPending
	if err := store.MarkRunning(&copyJob); !errors.Is(err, core.ErrJobImmutable) {
		t.Errorf("second MarkRunning() error = %v, want ErrJobImmutable", err)
	}
}

func TestJobStore_MarkFailed_Backoff(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	base := 10 * time.Second
	job, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	before := time.Now().UTC()
	retrying, err := store.MarkFailed(job, "network down", base, time.Hour)
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if !retrying {
		t.Fatal("first failure of three attempts should retry")
	}
	if job.Status != core.JobPending {
		t.Errorf("Status = %q, want pending", job.Status)
	}
	if job.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", job.Attempts)
	}

	// attempt 1 failed: delay is base * 2^0
	delay := job.ScheduledAt.Sub(before)
	if delay < base-time.Second || delay > base+time.Second {
		t.Errorf("first retry delay = %v, want ~%v", delay, base)
	}

	// Not due yet, so the queue hides it
	next, err := store.DequeueNext(conn.ID)
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if next != nil {
		t.Error("backed-off job should not be due immediately")
	}
}

func TestJobStore_MarkFailed_DelayDoubles(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	base := 10 * time.Second
	job, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 5)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	var delays []time.Duration
	for i := 0; i < 3; i++ {
		if err := store.MarkRunning(job); err != nil {
			t.Fatalf("MarkRunning() attempt %d error = %v", i+1, err)
		}
		before := time.Now().UTC()
		retrying, err := store.MarkFailed(job, "still down", base, time.Hour)
		if err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}
		if !retrying {
			t.Fatalf("attempt %d of 5 should retry", i+1)
		}
		delays = append(delays, job.ScheduledAt.Sub(before))
	}

	for i, want := range []time.Duration{base, 2 * base, 4 * base} {
		if delays[i] < want-time.Second || delays[i] > want+time.Second {
			t.Errorf("delay after attempt %d = %v, want ~%v", i+1, delays[i], want)
		}
	}
}

func TestJobStore_MarkFailed_CapAndTerminal(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	base := 10 * time.Second
	cap := 15 * time.Second
	job, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// Attempt 1: base delay
	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if _, err := store.MarkFailed(job, "down", base, cap); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	// Attempt 2: 2*base would be 20s, capped to 15s
	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	before := time.Now().UTC()
	retrying, err := store.MarkFailed(job, "down", base, cap)
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if !retrying {
		t.Fatal("second of three attempts should retry")
	}
	delay := job.ScheduledAt.Sub(before)
	if delay > cap+time.Second {
		t.Errorf("capped delay = %v, want <= %v", delay, cap)
	}

	// Attempt 3: exhausted, terminal
	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	retrying, err = store.MarkFailed(job, "down", base, cap)
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if retrying {
		t.Error("third failure should be terminal")
	}
	if job.Status != core.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", job.Attempts)
	}
	if job.LastError != "down" {
		t.Errorf("LastError = %q", job.LastError)
	}
}

func TestJobStore_MarkFailedTerminal(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	job, err := store.Enqueue(conn.ID, core.OpPullOne, nil, 20, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := store.MarkRunning(job); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}

	if err := store.MarkFailedTerminal(job, "missing external_id"); err != nil {
		t.Fatalf("MarkFailedTerminal() error = %v", err)
	}
	if job.Status != core.JobFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}

	// No requeue despite attempts remaining
	next, err := store.DequeueNext(conn.ID)
	if err != nil {
		t.Fatalf("DequeueNext() error = %v", err)
	}
	if next != nil {
		t.Error("terminally failed job came back as pending")
	}
}

func TestJobStore_Cancel(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewJobStore(db)

	job, err := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := store.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	got, err := store.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != core.JobCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}

	// Running and finished jobs cannot be cancelled
	running, _ := store.Enqueue(conn.ID, core.OpFullSync, nil, 10, 3)
	if err := store.MarkRunning(running); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := store.Cancel(running.ID); !errors.Is(err, core.ErrJobImmutable) {
		t.Errorf("Cancel(running) error = %v, want ErrJobImmutable", err)
	}
	if err := store.Cancel(job.ID); !errors.Is(err, core.ErrJobImmutable) {
		t.Errorf("Cancel(cancelled) error = %v, want ErrJobImmutable", err)
	}
}

// =============================================================================
// RecordStore Tests
// =============================================================================

func TestRecordStore_AppendAndList(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewRecordStore(db)

	rec := &core.SyncRecord{
		JobID:          "job-1",
		ConnectionID:   conn.ID,
		ItemsProcessed: 5,
		ItemsCreated:   2,
		ItemsUpdated:   3,
		Attempts:       1,
		StartedAt:      time.Now().UTC().Add(-time.Minute),
	}
	if err := store.Append(rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if rec.ID == "" {
		t.Error("Append() should assign an ID")
	}

	records, err := store.ListByConnection(conn.ID, 10)
	if err != nil {
		t.Fatalf("ListByConnection() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListByConnection() = %d records, want 1", len(records))
	}
	if records[0].ItemsProcessed != 5 || records[0].ItemsUpdated != 3 {
		t.Errorf("counters = %+v", records[0])
	}
}

func TestRecordStore_ManualConflicts(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewRecordStore(db)

	deferred := core.Conflict{
		EntityID:   "task-1",
		EntityKind: core.KindTask,
		ExternalID: "ext-1",
		Fields:     []string{"title"},
		Local:      map[string]any{"title": "mine"},
		External:   map[string]any{"title": "theirs"},
		Suggested:  &core.Resolution{Action: core.ResolutionDeferred},
	}
	resolved := core.Conflict{
		EntityID:   "task-2",
		EntityKind: core.KindTask,
		ExternalID: "ext-2",
		Fields:     []string{"notes"},
		Suggested:  &core.Resolution{Action: core.ResolutionKeepLocal},
	}

	rec := &core.SyncRecord{
		JobID:        "job-1",
		ConnectionID: conn.ID,
		Conflicts:    []core.Conflict{deferred, resolved},
		StartedAt:    time.Now().UTC(),
	}
	if err := store.Append(rec); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	conflicts, err := store.ManualConflicts(conn.ID, 10)
	if err != nil {
		t.Fatalf("ManualConflicts() error = %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("ManualConflicts() = %d, want 1 (only the deferred one)", len(conflicts))
	}
	if conflicts[0].EntityID != "task-1" {
		t.Errorf("EntityID = %q, want task-1", conflicts[0].EntityID)
	}
}

// =============================================================================
// PlannerStore Tests
// =============================================================================

func TestPlannerStore_TaskCRUD(t *testing.T) {
	db := testDB(t)
	store := NewPlannerStore(db)

	due := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	task := &core.Task{ID: "task-1", Title: "File taxes", DueAt: &due}
	if err := store.CreateTask(task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	got, err := store.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Title != "File taxes" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.DueAt == nil || !got.DueAt.Equal(due) {
		t.Errorf("DueAt = %v, want %v", got.DueAt, due)
	}

	got.Completed = true
	if err := store.UpdateTask(got); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	got, _ = store.GetTask("task-1")
	if !got.Completed {
		t.Error("task should be completed after update")
	}

	if err := store.DeleteTask("task-1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if _, err := store.GetTask("task-1"); !errors.Is(err, core.ErrTaskNotFound) {
		t.Errorf("GetTask() after delete error = %v, want ErrTaskNotFound", err)
	}
}

func TestPlannerStore_EventCRUD(t *testing.T) {
	db := testDB(t)
	store := NewPlannerStore(db)

	start := time.Now().UTC().Truncate(time.Second)
	end := start.Add(time.Hour)
	event := &core.Event{
		ID:        "event-1",
		Title:     "Planning",
		Start:     &start,
		End:       &end,
		Attendees: []string{"a@example.com", "b@example.com"},
	}
	if err := store.CreateEvent(event); err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}

	got, err := store.GetEvent("event-1")
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if len(got.Attendees) != 2 {
		t.Errorf("Attendees = %v", got.Attendees)
	}
	if got.Start == nil || !got.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", got.Start, start)
	}

	if err := store.DeleteEvent("event-1"); err != nil {
		t.Fatalf("DeleteEvent() error = %v", err)
	}
	if _, err := store.GetEvent("event-1"); !errors.Is(err, core.ErrEventNotFound) {
		t.Errorf("GetEvent() after delete error = %v, want ErrEventNotFound", err)
	}
}

func TestPlannerStore_ListEvents_Window(t *testing.T) {
	db := testDB(t)
	store := NewPlannerStore(db)

	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, id := range []core.EntityID{"morning", "midday", "evening"} {
		start := base.Add(time.Duration(i*4) * time.Hour)
		end := start.Add(time.Hour)
		err := store.CreateEvent(&core.Event{ID: id, Title: string(id), Start: &start, End: &end})
		if err != nil {
			t.Fatalf("CreateEvent(%s) error = %v", id, err)
		}
	}

	all, err := store.ListEvents(nil, nil)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListEvents(nil, nil) = %d events, want 3", len(all))
	}
	if all[0].ID != "morning" || all[2].ID != "evening" {
		t.Errorf("events not ordered by start: %v, %v", all[0].ID, all[2].ID)
	}

	from := base.Add(2 * time.Hour)
	to := base.Add(6 * time.Hour)
	window, err := store.ListEvents(&from, &to)
	if err != nil {
		t.Fatalf("ListEvents(window) error = %v", err)
	}
	if len(window) != 1 || window[0].ID != "midday" {
		t.Errorf("ListEvents(window) = %v, want just midday", window)
	}
}

// =============================================================================
// CredentialStore Tests
// =============================================================================

func TestCredentialStore_RoundTrip(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewCredentialStore(db, credentials.NewSealer("hunter2"))

	token := &oauth2.Token{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := store.Store(conn.ID, token); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := store.Get(conn.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessToken != "access-abc" || got.RefreshToken != "refresh-xyz" {
		t.Errorf("token = %+v", got)
	}

	// Replacing works
	token.AccessToken = "access-def"
	if err := store.Store(conn.ID, token); err != nil {
		t.Fatalf("second Store() error = %v", err)
	}
	got, _ = store.Get(conn.ID)
	if got.AccessToken != "access-def" {
		t.Errorf("AccessToken = %q after replace", got.AccessToken)
	}
}

func TestCredentialStore_WrongPassphrase(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)

	good := NewCredentialStore(db, credentials.NewSealer("correct"))
	if err := good.Store(conn.ID, &oauth2.Token{AccessToken: "abc"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	bad := NewCredentialStore(db, credentials.NewSealer("wrong"))
	if _, err := bad.Get(conn.ID); !errors.Is(err, core.ErrDecryptionFailed) {
		t.Errorf("Get() with wrong passphrase error = %v, want ErrDecryptionFailed", err)
	}
}

func TestCredentialStore_ExpiredWithoutRefresh(t *testing.T) {
	db := testDB(t)
	conn := testConnection(t, db)
	store := NewCredentialStore(db, credentials.NewSealer("hunter2"))

	token := &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}
	if err := store.Store(conn.ID, token); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if _, err := store.Get(conn.ID); !errors.Is(err, core.ErrCredentialExpired) {
		t.Errorf("Get() error = %v, want ErrCredentialExpired", err)
	}
}

func TestCredentialStore_NotFound(t *testing.T) {
	db := testDB(t)
	store := NewCredentialStore(db, credentials.NewSealer("hunter2"))

	if _, err := store.Get("missing"); !errors.Is(err, core.ErrCredentialNotFound) {
		t.Errorf("Get() error = %v, want ErrCredentialNotFound", err)
	}
}
