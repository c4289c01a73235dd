package api

import (
	"net/http"
	"time"

	"github.com/daygrid/daygrid/internal/collision"
	"github.com/daygrid/daygrid/internal/core"
)

// handleListCollisions reports overlapping events in an optional
// ?from=&to= RFC3339 window
func (s *Server) handleListCollisions(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = &t
	}

	events, err := s.planner.ListEvents(from, to)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	spans := make([]collision.Span, 0, len(events))
	for _, ev := range events {
		spans = append(spans, collision.Span{
			ID:        ev.ID,
			Kind:      core.KindEvent,
			Start:     ev.Start,
			End:       ev.End,
			Attendees: ev.Attendees,
		})
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"collisions": collision.DetectAll(spans),
	})
}
