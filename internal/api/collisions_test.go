package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/testutil"
)

func TestListCollisions(t *testing.T) {
	s := newTestServer(t)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	a := testutil.EventFixture(base)
	b := testutil.EventFixture(base.Add(30 * time.Minute)) // overlaps a
	c := testutil.EventFixture(base.Add(3 * time.Hour))    // clear
	for _, ev := range []*core.Event{a, b, c} {
		if err := s.planner.CreateEvent(ev); err != nil {
			t.Fatalf("CreateEvent() error = %v", err)
		}
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/collisions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[struct {
		Collisions []core.Conflict `json:"collisions"`
	}](t, rec)
	if len(resp.Collisions) != 1 {
		t.Fatalf("got %d collisions, want 1", len(resp.Collisions))
	}
}

func TestListCollisions_Window(t *testing.T) {
	s := newTestServer(t)

	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	a := testutil.EventFixture(base)
	b := testutil.EventFixture(base.Add(30 * time.Minute))
	for _, ev := range []*core.Event{a, b} {
		if err := s.planner.CreateEvent(ev); err != nil {
			t.Fatalf("CreateEvent() error = %v", err)
		}
	}

	// Window entirely after the events
	path := fmt.Sprintf("/api/v1/collisions?from=%s", base.Add(24*time.Hour).Format(time.RFC3339))
	rec := doJSON(t, s, http.MethodGet, path, nil)
	resp := decode[struct {
		Collisions []core.Conflict `json:"collisions"`
	}](t, rec)
	if len(resp.Collisions) != 0 {
		t.Errorf("got %d collisions outside the window, want 0", len(resp.Collisions))
	}
}

func TestListCollisions_BadWindow(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/collisions?from=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
