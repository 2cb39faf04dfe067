package googlecal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hearthlabs/hearthsync/internal/model"
)

const listPageSize = 250

// listQuery parameterizes one page of an incremental events listing.
type listQuery struct {
	updatedMin time.Time
	syncToken  string
	pageToken  string
}

// eventsAPI is the subset of the Calendar v3 events surface used by the
// adapter. Defining it as an interface allows mock injection in tests.
type eventsAPI interface {
	listPage(ctx context.Context, calendarID string, q listQuery) (*calendar.Events, error)
	insert(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error)
	update(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error)
	get(ctx context.Context, calendarID, eventID string) (*calendar.Event, error)
	delete(ctx context.Context, calendarID, eventID string) error
}

// serviceAPI implements eventsAPI on a real *calendar.Service.
type serviceAPI struct {
	svc *calendar.Service
}

func (s *serviceAPI) listPage(ctx context.Context, calendarID string, q listQuery) (*calendar.Events, error) {
	call := s.svc.Events.List(calendarID).
		Context(ctx).
		ShowDeleted(true).
		MaxResults(listPageSize)

	// The provider forbids combining a sync token with time bounds.
	if q.syncToken != "" {
		call = call.SyncToken(q.syncToken)
	} else if !q.updatedMin.IsZero() {
		call = call.UpdatedMin(q.updatedMin.UTC().Format(time.RFC3339))
	}
	if q.pageToken != "" {
		call = call.PageToken(q.pageToken)
	}
	return call.Do()
}

func (s *serviceAPI) insert(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	return s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
}

func (s *serviceAPI) update(ctx context.Context, calendarID, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	return s.svc.Events.Update(calendarID, eventID, ev).Context(ctx).Do()
}

func (s *serviceAPI) get(ctx context.Context, calendarID, eventID string) (*calendar.Event, error) {
	return s.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
}

func (s *serviceAPI) delete(ctx context.Context, calendarID, eventID string) error {
	return s.svc.Events.Delete(calendarID, eventID).Context(ctx).Do()
}

// Adapter provides sync-engine–oriented operations on Google Calendar events.
// Create one with [NewAdapter] or [NewAdapterWithAPI].
type Adapter struct {
	api     eventsAPI
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdapter creates an Adapter backed by a real Calendar service,
// capability-scoped to event read/write only. credentialsFile is a service
// account key JSON; timeout bounds every individual API call.
func NewAdapter(ctx context.Context, credentialsFile string, timeout time.Duration, logger *slog.Logger) (*Adapter, error) {
	svc, err := calendar.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(calendar.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create Calendar service: %w", err)
	}
	return &Adapter{api: &serviceAPI{svc: svc}, timeout: timeout, logger: logger}, nil
}

// NewAdapterWithAPI creates an Adapter with a caller-supplied events API.
// Intended for testing with a mock [eventsAPI] implementation.
func NewAdapterWithAPI(api eventsAPI, timeout time.Duration, logger *slog.Logger) *Adapter {
	return &Adapter{api: api, timeout: timeout, logger: logger}
}

// ListChangedSince fetches all events changed after since, using the
// provider's sync token when one is supplied and falling back to a
// time-bounded query when the token has expired. Malformed payloads are
// skipped and reported as per-item errors; they never fail the listing.
func (a *Adapter) ListChangedSince(ctx context.Context, calendarID string, since time.Time, syncToken string) (model.RemoteChanges, error) {
	changes, err := a.listAll(ctx, calendarID, listQuery{updatedMin: since, syncToken: syncToken})
	if syncToken != "" && isGone(err) {
		a.logger.Info("sync token expired, falling back to time-bounded listing", "calendar_id", calendarID)
		changes, err = a.listAll(ctx, calendarID, listQuery{updatedMin: since})
		changes.TokenExpired = true
	}
	if err != nil {
		return model.RemoteChanges{}, fmt.Errorf("list changed events in %s: %w", calendarID, err)
	}
	return changes, nil
}

func (a *Adapter) listAll(ctx context.Context, calendarID string, q listQuery) (model.RemoteChanges, error) {
	var changes model.RemoteChanges

	for {
		var page *calendar.Events
		err := Retry(ctx, defaultMaxAttempts, func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			var callErr error
			page, callErr = a.api.listPage(callCtx, calendarID, q)
			return callErr
		})
		if err != nil {
			return model.RemoteChanges{}, err
		}

		for _, item := range page.Items {
			rev, convErr := toRemoteEvent(item)
			if convErr != nil {
				a.logger.Warn("skipping malformed remote event", "error", convErr)
				changes.ItemErrors = append(changes.ItemErrors, convErr.Error())
				continue
			}
			changes.Events = append(changes.Events, rev)
		}

		if page.NextPageToken == "" {
			changes.NextSyncToken = page.NextSyncToken
			return changes, nil
		}
		q.pageToken = page.NextPageToken
	}
}

// Get fetches one event by provider ID, or (nil, nil) when it does not exist.
func (a *Adapter) Get(ctx context.Context, calendarID, externalID string) (*model.RemoteEvent, error) {
	var apiEvent *calendar.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		var callErr error
		apiEvent, callErr = a.api.get(callCtx, calendarID, externalID)
		return callErr
	})
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s from %s: %w", externalID, calendarID, err)
	}

	rev, err := toRemoteEvent(apiEvent)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// Create inserts a new event and returns the provider's record of it,
// including the assigned external ID.
func (a *Adapter) Create(ctx context.Context, calendarID string, fields model.EventFields) (model.RemoteEvent, error) {
	var created *calendar.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		var callErr error
		created, callErr = a.api.insert(callCtx, calendarID, fieldsToAPIEvent(fields))
		return callErr
	})
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("create event %q in %s: %w", fields.Title, calendarID, err)
	}
	return toRemoteEvent(created)
}

// Update replaces the event's fields and returns the provider's new record.
func (a *Adapter) Update(ctx context.Context, calendarID, externalID string, fields model.EventFields) (model.RemoteEvent, error) {
	var updated *calendar.Event
	err := Retry(ctx, defaultMaxAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		var callErr error
		updated, callErr = a.api.update(callCtx, calendarID, externalID, fieldsToAPIEvent(fields))
		return callErr
	})
	if err != nil {
		return model.RemoteEvent{}, fmt.Errorf("update event %s in %s: %w", externalID, calendarID, err)
	}
	return toRemoteEvent(updated)
}

// Delete removes the event from the provider. Deleting an event that is
// already gone succeeds.
func (a *Adapter) Delete(ctx context.Context, calendarID, externalID string) error {
	err := Retry(ctx, defaultMaxAttempts, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.api.delete(callCtx, calendarID, externalID)
	})
	if isNotFound(err) || isGone(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete event %s from %s: %w", externalID, calendarID, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isGone(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusGone
}
