package optimistic

import (
	"errors"
	"testing"

	"github.com/daygrid/daygrid/internal/core"
)

func TestApply_VisibleImmediately(t *testing.T) {
	m := NewManager()

	err := m.Apply("tmp-1", OpCreate, core.KindTask, "task-1", map[string]any{"title": "Draft"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got, ok := m.Get("task-1")
	if !ok {
		t.Fatal("entity not visible after Apply()")
	}
	if got.Fields["title"] != "Draft" {
		t.Errorf("title = %v, want Draft", got.Fields["title"])
	}
	if got.Kind != core.KindTask {
		t.Errorf("Kind = %q, want task", got.Kind)
	}
	if !m.Pending("tmp-1") {
		t.Error("entry should be pending")
	}
}

func TestApply_DuplicateTempID(t *testing.T) {
	m := NewManager()

	if err := m.Apply("tmp-1", OpCreate, core.KindTask, "task-1", nil); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	err := m.Apply("tmp-1", OpUpdate, core.KindTask, "task-1", nil)
	if !errors.Is(err, ErrDuplicateTempID) {
		t.Errorf("second Apply() error = %v, want ErrDuplicateTempID", err)
	}
}

func TestCommit_ReplacesWithAuthoritative(t *testing.T) {
	m := NewManager()

	m.Apply("tmp-1", OpCreate, core.KindTask, "task-1", map[string]any{"title": "local"})
	m.Commit("tmp-1", map[string]any{"title": "server", "completed": false})

	got, _ := m.Get("task-1")
	if got.Fields["title"] != "server" {
		t.Errorf("title = %v, want the authoritative value", got.Fields["title"])
	}
	if m.Pending("tmp-1") {
		t.Error("entry should be resolved after Commit()")
	}
}

func TestCommit_Idempotent(t *testing.T) {
	m := NewManager()

	m.Apply("tmp-1", OpCreate, core.KindTask, "task-1", map[string]any{"title": "local"})
	m.Commit("tmp-1", map[string]any{"title": "server"})

	// A retried confirmation with different payload must not re-apply
	m.Commit("tmp-1", map[string]any{"title": "stale retry"})

	got, _ := m.Get("task-1")
	if got.Fields["title"] != "server" {
		t.Errorf("title = %v after duplicate Commit(), want server", got.Fields["title"])
	}
	if m.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", m.PendingCount())
	}
}

func TestRollback_RestoresBefore(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "task-1", Kind: core.KindTask, Fields: map[string]any{"title": "original"}}})

	m.Apply("tmp-1", OpUpdate, core.KindTask, "task-1", map[string]any{"title": "edited"})
	got, _ := m.Get("task-1")
	if got.Fields["title"] != "edited" {
		t.Fatalf("title = %v before rollback, want edited", got.Fields["title"])
	}

	m.Rollback("tmp-1")
	got, _ = m.Get("task-1")
	if got.Fields["title"] != "original" {
		t.Errorf("title = %v after rollback, want original", got.Fields["title"])
	}
	if m.Pending("tmp-1") {
		t.Error("entry should be resolved after Rollback()")
	}
}

func TestRollback_PureCreateDisappears(t *testing.T) {
	m := NewManager()

	m.Apply("tmp-1", OpCreate, core.KindTask, "task-1", map[string]any{"title": "ghost"})
	m.Rollback("tmp-1")

	if _, ok := m.Get("task-1"); ok {
		t.Error("rolled-back create should leave no visible entity")
	}
}

func TestRollback_Idempotent(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "task-1", Kind: core.KindTask, Fields: map[string]any{"title": "original"}}})

	m.Apply("tmp-1", OpUpdate, core.KindTask, "task-1", map[string]any{"title": "edited"})
	m.Rollback("tmp-1")
	m.Rollback("tmp-1") // no-op

	got, ok := m.Get("task-1")
	if !ok || got.Fields["title"] != "original" {
		t.Errorf("state disturbed by duplicate rollback: %+v", got)
	}
}

func TestApply_DeleteThenRollback(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "event-1", Kind: core.KindEvent, Fields: map[string]any{"title": "Standup"}}})

	m.Apply("tmp-del", OpDelete, core.KindEvent, "event-1", nil)
	if _, ok := m.Get("event-1"); ok {
		t.Fatal("deleted entity still visible")
	}

	m.Rollback("tmp-del")
	got, ok := m.Get("event-1")
	if !ok {
		t.Fatal("rollback of a delete should restore the entity")
	}
	if got.Fields["title"] != "Standup" {
		t.Errorf("title = %v after restore", got.Fields["title"])
	}
}

func TestApply_DeleteThenCommit(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "event-1", Kind: core.KindEvent, Fields: map[string]any{"title": "Standup"}}})

	m.Apply("tmp-del", OpDelete, core.KindEvent, "event-1", nil)
	m.Commit("tmp-del", nil)

	if _, ok := m.Get("event-1"); ok {
		t.Error("committed delete should remove the entity for good")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "task-1", Kind: core.KindTask, Fields: map[string]any{"title": "x"}}})

	snap := m.Snapshot()
	if snap["task-1"]["kind"] != "task" {
		t.Errorf("snapshot kind = %v", snap["task-1"]["kind"])
	}

	snap["task-1"]["title"] = "mutated"
	got, _ := m.Get("task-1")
	if got.Fields["title"] != "x" {
		t.Error("mutating the snapshot leaked into the manager")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	m := NewManager()
	m.Seed([]Entity{{ID: "task-1", Kind: core.KindTask, Fields: map[string]any{"title": "x"}}})

	got, _ := m.Get("task-1")
	got.Fields["title"] = "mutated"

	fresh, _ := m.Get("task-1")
	if fresh.Fields["title"] != "x" {
		t.Error("mutating a Get() result leaked into the manager")
	}
}
