package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/hearthlabs/hearthsync/internal/model"
	"github.com/hearthlabs/hearthsync/internal/store"
)

// --- Mock Event Store --------------------------------------------------------

type mockEvents struct {
	mu     stdsync.Mutex
	events map[string]*model.CalendarEvent // ID → event
	errOn  string                          // method name that should fail
}

func newMockEvents(events ...*model.CalendarEvent) *mockEvents {
	m := &mockEvents{events: make(map[string]*model.CalendarEvent)}
	for _, ev := range events {
		cp := *ev
		m.events[ev.ID] = &cp
	}
	return m
}

func (m *mockEvents) fail(method string) { m.errOn = method }

func (m *mockEvents) GetEvent(_ context.Context, id string) (*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "GetEvent" {
		return nil, fmt.Errorf("mock: GetEvent failed")
	}
	ev, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *mockEvents) GetEventByExternalID(_ context.Context, userID, externalID string) (*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "GetEventByExternalID" {
		return nil, fmt.Errorf("mock: GetEventByExternalID failed")
	}
	for _, ev := range m.events {
		if ev.UserID == userID && ev.ExternalID == externalID {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockEvents) ListEventsChangedSince(_ context.Context, userID string, since time.Time) ([]*model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "ListEventsChangedSince" {
		return nil, fmt.Errorf("mock: ListEventsChangedSince failed")
	}
	var result []*model.CalendarEvent
	for _, ev := range m.events {
		if ev.UserID == userID && ev.UpdatedAt.After(since) {
			cp := *ev
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockEvents) UpsertEvent(_ context.Context, ev *model.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "UpsertEvent" {
		return fmt.Errorf("mock: UpsertEvent failed")
	}
	cp := *ev
	m.events[ev.ID] = &cp
	return nil
}

func (m *mockEvents) TombstoneEvent(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "TombstoneEvent" {
		return fmt.Errorf("mock: TombstoneEvent failed")
	}
	ev, ok := m.events[id]
	if !ok {
		return store.ErrNotFound
	}
	ev.DeletedAt = &now
	ev.UpdatedAt = now
	return nil
}

func (m *mockEvents) get(id string) *model.CalendarEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

func (m *mockEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockEvents) byExternalID(externalID string) *model.CalendarEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ExternalID == externalID {
			cp := *ev
			return &cp
		}
	}
	return nil
}

// --- Mock Remote Calendar ----------------------------------------------------

type mockRemote struct {
	mu      stdsync.Mutex
	changes model.RemoteChanges // returned by ListChangedSince
	byID    map[string]*model.RemoteEvent
	nextID  int
	errOn   string

	creates int
	updates int
	deletes []string
	lists   []listCall
}

type listCall struct {
	since     time.Time
	syncToken string
}

func newMockRemote(changed ...model.RemoteEvent) *mockRemote {
	m := &mockRemote{byID: make(map[string]*model.RemoteEvent)}
	m.changes.Events = changed
	for i := range changed {
		cp := changed[i]
		m.byID[cp.ExternalID] = &cp
	}
	return m
}

func (m *mockRemote) fail(method string) { m.errOn = method }

func (m *mockRemote) ListChangedSince(_ context.Context, _ string, since time.Time, syncToken string) (model.RemoteChanges, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "ListChangedSince" {
		return model.RemoteChanges{}, fmt.Errorf("mock: ListChangedSince failed")
	}
	m.lists = append(m.lists, listCall{since: since, syncToken: syncToken})
	return m.changes, nil
}

func (m *mockRemote) Get(_ context.Context, _, externalID string) (*model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "Get" {
		return nil, fmt.Errorf("mock: Get failed")
	}
	rev, ok := m.byID[externalID]
	if !ok {
		return nil, nil
	}
	cp := *rev
	return &cp, nil
}

func (m *mockRemote) Create(_ context.Context, _ string, fields model.EventFields) (model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "Create" {
		return model.RemoteEvent{}, fmt.Errorf("mock: Create failed")
	}
	m.nextID++
	m.creates++
	rev := model.RemoteEvent{
		ExternalID:  fmt.Sprintf("gcal-%d", m.nextID),
		Title:       fields.Title,
		StartAt:     fields.StartAt,
		EndAt:       fields.EndAt,
		Location:    fields.Location,
		Description: fields.Description,
		Recurrence:  fields.Recurrence,
	}
	m.byID[rev.ExternalID] = &rev
	return rev, nil
}

func (m *mockRemote) Update(_ context.Context, _, externalID string, fields model.EventFields) (model.RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "Update" {
		return model.RemoteEvent{}, fmt.Errorf("mock: Update failed")
	}
	m.updates++
	rev := model.RemoteEvent{
		ExternalID:  externalID,
		Title:       fields.Title,
		StartAt:     fields.StartAt,
		EndAt:       fields.EndAt,
		Location:    fields.Location,
		Description: fields.Description,
		Recurrence:  fields.Recurrence,
	}
	m.byID[externalID] = &rev
	// The provider's change feed echoes our own write.
	for i := range m.changes.Events {
		if m.changes.Events[i].ExternalID == externalID {
			m.changes.Events[i] = rev
		}
	}
	return rev, nil
}

func (m *mockRemote) Delete(_ context.Context, _, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "Delete" {
		return fmt.Errorf("mock: Delete failed")
	}
	m.deletes = append(m.deletes, externalID)
	delete(m.byID, externalID)
	return nil
}

func (m *mockRemote) get(externalID string) *model.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.byID[externalID]
	if !ok {
		return nil
	}
	cp := *rev
	return &cp
}

// --- Mock Preference Store ---------------------------------------------------

type mockPrefs struct {
	mu    stdsync.Mutex
	prefs map[string]*store.Preferences
	errOn string
}

func newMockPrefs(prefs ...*store.Preferences) *mockPrefs {
	m := &mockPrefs{prefs: make(map[string]*store.Preferences)}
	for _, p := range prefs {
		cp := *p
		m.prefs[p.UserID] = &cp
	}
	return m
}

func (m *mockPrefs) GetPreferences(_ context.Context, userID string) (*store.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "GetPreferences" {
		return nil, fmt.Errorf("mock: GetPreferences failed")
	}
	p, ok := m.prefs[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPrefs) ListPreferences(_ context.Context) ([]*store.Preferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "ListPreferences" {
		return nil, fmt.Errorf("mock: ListPreferences failed")
	}
	var result []*store.Preferences
	for _, p := range m.prefs {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockPrefs) SaveSyncToken(_ context.Context, userID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "SaveSyncToken" {
		return fmt.Errorf("mock: SaveSyncToken failed")
	}
	p, ok := m.prefs[userID]
	if !ok {
		return store.ErrNotFound
	}
	p.SyncToken = token
	return nil
}

func (m *mockPrefs) syncToken(userID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[userID]; ok {
		return p.SyncToken
	}
	return ""
}

// --- Mock Conflict Store -----------------------------------------------------

type mockConflicts struct {
	mu        stdsync.Mutex
	conflicts map[string]*store.Conflict
	errOn     string
}

func newMockConflicts(conflicts ...*store.Conflict) *mockConflicts {
	m := &mockConflicts{conflicts: make(map[string]*store.Conflict)}
	for _, c := range conflicts {
		cp := *c
		m.conflicts[c.ID] = &cp
	}
	return m
}

func (m *mockConflicts) CreateConflict(_ context.Context, c *store.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "CreateConflict" {
		return fmt.Errorf("mock: CreateConflict failed")
	}
	cp := *c
	m.conflicts[c.ID] = &cp
	return nil
}

func (m *mockConflicts) GetConflict(_ context.Context, id string) (*store.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *mockConflicts) ListPendingConflicts(_ context.Context, userID string) ([]*store.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.Conflict
	for _, c := range m.conflicts {
		if c.UserID == userID && !c.Resolved() {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *mockConflicts) HasPendingConflict(_ context.Context, userID, localEventID, remoteExternalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		if c.UserID == userID && c.LocalEventID == localEventID && c.RemoteExternalID == remoteExternalID && !c.Resolved() {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConflicts) ResolveConflict(_ context.Context, id string, resolution model.Resolution, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return store.ErrNotFound
	}
	if c.Resolved() {
		return store.ErrAlreadyResolved
	}
	c.Resolution = resolution
	c.ResolvedAt = &now
	return nil
}

func (m *mockConflicts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conflicts)
}

func (m *mockConflicts) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.conflicts {
		if !c.Resolved() {
			n++
		}
	}
	return n
}

func (m *mockConflicts) first() *store.Conflict {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conflicts {
		cp := *c
		return &cp
	}
	return nil
}

// --- Mock Run Store ----------------------------------------------------------

type mockRuns struct {
	mu    stdsync.Mutex
	runs  []*store.Run
	errOn string
}

func newMockRuns() *mockRuns {
	return &mockRuns{}
}

func (m *mockRuns) seed(runs ...*store.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, runs...)
}

func (m *mockRuns) AppendRun(_ context.Context, r *store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == "AppendRun" {
		return fmt.Errorf("mock: AppendRun failed")
	}
	cp := *r
	cp.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockRuns) LastSuccessfulFinish(_ context.Context, userID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, r := range m.runs {
		if r.UserID == userID && r.Success && r.FinishedAt.After(latest) {
			latest = r.FinishedAt
		}
	}
	return latest, nil
}

func (m *mockRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *mockRuns) last() *store.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil
	}
	cp := *m.runs[len(m.runs)-1]
	return &cp
}
