package googlecal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/daygrid/daygrid/internal/core"
	"github.com/daygrid/daygrid/internal/logging"
	"github.com/daygrid/daygrid/internal/storage"
	daysync "github.com/daygrid/daygrid/internal/sync"
)

const calendarID = "primary"

// Adapter implements the provider boundary for Google Calendar. It maps
// calendar events to the neutral field set; tasks are not a Google
// Calendar concept and are rejected.
type Adapter struct {
	oauth *OAuthClient
	creds *storage.CredentialStore
	log   *logging.Logger
}

// New creates a Google Calendar adapter
func New(oauth *OAuthClient, creds *storage.CredentialStore) *Adapter {
	return &Adapter{
		oauth: oauth,
		creds: creds,
		log:   logging.WithField("adapter", "google_calendar"),
	}
}

// Service identifies this adapter
func (a *Adapter) Service() core.Service {
	return core.ServiceGoogleCalendar
}

// PullChanges returns events changed since the given time
func (a *Adapter) PullChanges(ctx context.Context, conn *core.Connection, since *time.Time) ([]daysync.ExternalRecord, error) {
	svc, err := a.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(calendarID).
		Context(ctx).
		SingleEvents(true).
		ShowDeleted(true).
		MaxResults(250)
	if since != nil {
		call = call.UpdatedMin(since.UTC().Format(time.RFC3339))
	} else {
		// Bound a first sync to a sane window around now
		call = call.TimeMin(time.Now().AddDate(0, -3, 0).Format(time.RFC3339)).
			TimeMax(time.Now().AddDate(1, 0, 0).Format(time.RFC3339))
	}

	var records []daysync.ExternalRecord
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		result, err := call.Do()
		if err != nil {
			return nil, a.mapError(err)
		}

		for _, ev := range result.Items {
			records = append(records, toRecord(ev))
		}

		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}

	a.log.Debug("pulled %d events for connection %s", len(records), conn.ID)
	return records, nil
}

// PushChange creates or updates a calendar event from the neutral fields
func (a *Adapter) PushChange(ctx context.Context, conn *core.Connection, kind core.EntityKind, externalID string, fields map[string]any) (*daysync.ExternalRecord, error) {
	if kind != core.KindEvent {
		return nil, fmt.Errorf("google calendar cannot store %s entities", kind)
	}

	svc, err := a.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	event := fromFields(fields)

	var pushed *calendar.Event
	if externalID == "" {
		pushed, err = svc.Events.Insert(calendarID, event).Context(ctx).Do()
	} else {
		pushed, err = svc.Events.Patch(calendarID, externalID, event).Context(ctx).Do()
	}
	if err != nil {
		return nil, a.mapError(err)
	}

	rec := toRecord(pushed)
	return &rec, nil
}

// DeleteRemote removes a calendar event. An already-gone event is not an
// error; the desired state holds either way.
func (a *Adapter) DeleteRemote(ctx context.Context, conn *core.Connection, externalID string) error {
	svc, err := a.service(ctx, conn)
	if err != nil {
		return err
	}

	err = svc.Events.Delete(calendarID, externalID).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return a.mapError(err)
	}
	return nil
}

// service builds an API client for a connection, refreshing and re-storing
// the token when the access token rolled over
func (a *Adapter) service(ctx context.Context, conn *core.Connection) (*calendar.Service, error) {
	token, err := a.creds.Get(conn.ID)
	if err != nil {
		return nil, err
	}

	fresh, err := a.oauth.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialExpired, err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := a.creds.Store(conn.ID, fresh); err != nil {
			a.log.Warn("persist refreshed token: %v", err)
		}
	}

	return a.oauth.CalendarService(ctx, fresh)
}

// mapError translates provider errors into the orchestrator's taxonomy
func (a *Adapter) mapError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %v", core.ErrCredentialExpired, err)
		}
	}
	return err
}

// toRecord maps a calendar event into the neutral field set
func toRecord(ev *calendar.Event) daysync.ExternalRecord {
	rec := daysync.ExternalRecord{
		ExternalID: ev.Id,
		Kind:       core.KindEvent,
		Deleted:    ev.Status == "cancelled",
		Fields:     map[string]any{},
	}

	if ev.Updated != "" {
		if t, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
			rec.ModifiedAt = t.UTC()
		}
	}
	if rec.Deleted {
		return rec
	}

	rec.Fields[daysync.FieldTitle] = ev.Summary
	rec.Fields[daysync.FieldLocation] = ev.Location
	if t, ok := eventTime(ev.Start); ok {
		rec.Fields[daysync.FieldStart] = t.Format(time.RFC3339)
	}
	if t, ok := eventTime(ev.End); ok {
		rec.Fields[daysync.FieldEnd] = t.Format(time.RFC3339)
	}
	if len(ev.Attendees) > 0 {
		attendees := make([]any, 0, len(ev.Attendees))
		for _, at := range ev.Attendees {
			if at.Email != "" {
				attendees = append(attendees, at.Email)
			}
		}
		rec.Fields[daysync.FieldAttendees] = attendees
	}

	return rec
}

// fromFields builds an event for insert or patch. Only present fields are
// set, so a patch touches nothing the caller did not change.
func fromFields(fields map[string]any) *calendar.Event {
	ev := &calendar.Event{}

	if v, ok := fields[daysync.FieldTitle].(string); ok {
		ev.Summary = v
	}
	if v, ok := fields[daysync.FieldLocation].(string); ok {
		ev.Location = v
	}
	if v, ok := fields[daysync.FieldStart].(string); ok {
		ev.Start = &calendar.EventDateTime{DateTime: v}
	}
	if v, ok := fields[daysync.FieldEnd].(string); ok {
		ev.End = &calendar.EventDateTime{DateTime: v}
	}
	if v, ok := fields[daysync.FieldAttendees].([]any); ok {
		for _, raw := range v {
			if email, ok := raw.(string); ok {
				ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
			}
		}
	}

	return ev
}

// eventTime parses either a timed or an all-day boundary
func eventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t.UTC(), true
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
