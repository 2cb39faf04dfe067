package googlecal

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/hearthlabs/hearthsync/internal/model"
)

// fakeAPI scripts responses, page by page, and records calls.
type fakeAPI struct {
	pages      []*calendar.Events
	listErrs   []error // consumed before pages, one per call
	listCalls  []listQuery
	deleteErr  error
	deleted    []string
	inserted   []*calendar.Event
	updated    map[string]*calendar.Event
	getResult  *calendar.Event
	getErr     error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updated: make(map[string]*calendar.Event)}
}

func (f *fakeAPI) listPage(_ context.Context, _ string, q listQuery) (*calendar.Events, error) {
	f.listCalls = append(f.listCalls, q)
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.pages) == 0 {
		return &calendar.Events{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeAPI) insert(_ context.Context, _ string, ev *calendar.Event) (*calendar.Event, error) {
	cp := *ev
	cp.Id = "goog-new"
	cp.Updated = "2026-03-01T10:00:00Z"
	f.inserted = append(f.inserted, &cp)
	return &cp, nil
}

func (f *fakeAPI) update(_ context.Context, _ string, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	cp := *ev
	cp.Id = eventID
	cp.Updated = "2026-03-01T11:00:00Z"
	f.updated[eventID] = &cp
	return &cp, nil
}

func (f *fakeAPI) get(_ context.Context, _ string, eventID string) (*calendar.Event, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getResult, nil
}

func (f *fakeAPI) delete(_ context.Context, _ string, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func testAdapter(api eventsAPI) *Adapter {
	return NewAdapterWithAPI(api, 15*time.Second, slog.Default())
}

// ---------------------------------------------------------------------------
// ListChangedSince
// ---------------------------------------------------------------------------

func TestListChangedSince_Paginates(t *testing.T) {
	api := newFakeAPI()
	api.pages = []*calendar.Events{
		{Items: []*calendar.Event{timedAPIEvent()}, NextPageToken: "page-2"},
		{Items: []*calendar.Event{func() *calendar.Event {
			ev := timedAPIEvent()
			ev.Id = "goog-2"
			return ev
		}()}, NextSyncToken: "cursor-1"},
	}

	changes, err := testAdapter(api).ListChangedSince(context.Background(), "cal-1", time.Time{}, "")
	if err != nil {
		t.Fatalf("ListChangedSince: %v", err)
	}
	if len(changes.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(changes.Events))
	}
	if changes.NextSyncToken != "cursor-1" {
		t.Errorf("NextSyncToken = %q, want cursor-1", changes.NextSyncToken)
	}
	if len(api.listCalls) != 2 || api.listCalls[1].pageToken != "page-2" {
		t.Errorf("pagination calls = %+v", api.listCalls)
	}
}

func TestListChangedSince_UsesSyncToken(t *testing.T) {
	api := newFakeAPI()
	api.pages = []*calendar.Events{{NextSyncToken: "cursor-2"}}

	_, err := testAdapter(api).ListChangedSince(context.Background(), "cal-1", time.Now(), "cursor-1")
	if err != nil {
		t.Fatalf("ListChangedSince: %v", err)
	}
	if api.listCalls[0].syncToken != "cursor-1" {
		t.Errorf("syncToken = %q, want cursor-1", api.listCalls[0].syncToken)
	}
}

func TestListChangedSince_ExpiredTokenFallsBack(t *testing.T) {
	api := newFakeAPI()
	api.listErrs = []error{&googleapi.Error{Code: http.StatusGone}}
	api.pages = []*calendar.Events{{Items: []*calendar.Event{timedAPIEvent()}, NextSyncToken: "cursor-fresh"}}

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	changes, err := testAdapter(api).ListChangedSince(context.Background(), "cal-1", since, "stale")
	if err != nil {
		t.Fatalf("ListChangedSince: %v", err)
	}
	if len(changes.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(changes.Events))
	}

	// Second call must have dropped the token and used the time bound.
	last := api.listCalls[len(api.listCalls)-1]
	if last.syncToken != "" {
		t.Errorf("fallback call still carried sync token %q", last.syncToken)
	}
	if !last.updatedMin.Equal(since) {
		t.Errorf("fallback updatedMin = %v, want %v", last.updatedMin, since)
	}
	if !changes.TokenExpired {
		t.Error("TokenExpired not reported after 410 fallback")
	}
}

func TestListChangedSince_FreshTokenNotExpired(t *testing.T) {
	api := newFakeAPI()
	api.pages = []*calendar.Events{{NextSyncToken: "cursor-2"}}

	changes, err := testAdapter(api).ListChangedSince(context.Background(), "cal-1", time.Now(), "cursor-1")
	if err != nil {
		t.Fatalf("ListChangedSince: %v", err)
	}
	if changes.TokenExpired {
		t.Error("TokenExpired reported for an accepted token")
	}
}

func TestListChangedSince_SkipsMalformedItems(t *testing.T) {
	bad := timedAPIEvent()
	bad.Start = &calendar.EventDateTime{DateTime: "noon"}
	api := newFakeAPI()
	api.pages = []*calendar.Events{{Items: []*calendar.Event{bad, timedAPIEvent()}}}

	changes, err := testAdapter(api).ListChangedSince(context.Background(), "cal-1", time.Time{}, "")
	if err != nil {
		t.Fatalf("ListChangedSince: %v", err)
	}
	if len(changes.Events) != 1 {
		t.Errorf("events = %d, want 1 (malformed skipped)", len(changes.Events))
	}
	if len(changes.ItemErrors) != 1 {
		t.Errorf("item errors = %d, want 1", len(changes.ItemErrors))
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestCreate_ReturnsAssignedID(t *testing.T) {
	api := newFakeAPI()
	rev, err := testAdapter(api).Create(context.Background(), "cal-1", sampleFields())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rev.ExternalID != "goog-new" {
		t.Errorf("ExternalID = %q, want goog-new", rev.ExternalID)
	}
	if len(api.inserted) != 1 {
		t.Errorf("inserted = %d, want 1", len(api.inserted))
	}
}

func TestUpdate_PushesFields(t *testing.T) {
	api := newFakeAPI()
	f := sampleFields()
	f.Title = "Soccer practice (away game)"

	rev, err := testAdapter(api).Update(context.Background(), "cal-1", "goog-1", f)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rev.Title != "Soccer practice (away game)" {
		t.Errorf("Title = %q", rev.Title)
	}
	if api.updated["goog-1"] == nil {
		t.Error("update not dispatched to the API")
	}
}

func TestDelete_ToleratesAlreadyGone(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusGone} {
		api := newFakeAPI()
		api.deleteErr = &googleapi.Error{Code: code}
		if err := testAdapter(api).Delete(context.Background(), "cal-1", "goog-1"); err != nil {
			t.Errorf("Delete with %d: %v, want nil", code, err)
		}
	}
}

func TestDelete_Dispatches(t *testing.T) {
	api := newFakeAPI()
	if err := testAdapter(api).Delete(context.Background(), "cal-1", "goog-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "goog-1" {
		t.Errorf("deleted = %v", api.deleted)
	}
}

func TestGet_NotFoundIsNil(t *testing.T) {
	api := newFakeAPI()
	api.getErr = &googleapi.Error{Code: http.StatusNotFound}
	rev, err := testAdapter(api).Get(context.Background(), "cal-1", "goog-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rev != nil {
		t.Errorf("got %+v, want nil", rev)
	}
}

func sampleFields() model.EventFields {
	end := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return model.EventFields{
		Title:   "Soccer practice",
		StartAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndAt:   &end,
	}
}
