package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope       = "hearthsync/sync"
	spanRun         = "sync.run"
	metricRuns      = "hearthsync.sync.runs"
	metricCreated   = "hearthsync.sync.events.created"
	metricUpdated   = "hearthsync.sync.events.updated"
	metricDeleted   = "hearthsync.sync.events.deleted"
	metricConflicts = "hearthsync.sync.conflicts"
	metricErrors    = "hearthsync.sync.errors"
)

// State is the scheduler's view of one user's sync lifecycle.
type State string

const (
	StateIdle     State = "idle"     // waiting for the next eligible tick
	StateChecking State = "checking" // gates being evaluated
	StateSyncing  State = "syncing"  // a run is in flight
)

// DefaultCooldown is the minimum gap between consecutive sync attempts for
// one user, regardless of the configured frequency. It absorbs tight retry
// loops after failed runs.
const DefaultCooldown = 60 * time.Second

// Syncer runs one full sync pass for a user. Implemented by [Orchestrator].
type Syncer interface {
	PerformFullSync(ctx context.Context, userID string) (Result, error)
}

// UserStatus is a point-in-time snapshot of one user's scheduler state.
type UserStatus struct {
	UserID       string
	State        State
	LastAttempt  time.Time
	LastFinished time.Time
	LastSuccess  time.Time
	LastResult   *Result
}

type userState struct {
	state        State
	lastAttempt  time.Time
	lastFinished time.Time
	lastSuccess  time.Time
	lastResult   *Result
}

// Scheduler drives periodic sync runs. A fixed wall-clock tick walks all
// users with stored preferences; each user syncs only when enabled, past
// their configured frequency, past the cooldown, and not already in flight.
// Manual triggers through [Scheduler.SyncNow] bypass the frequency and
// cooldown gates but never the in-flight one.
type Scheduler struct {
	syncer   Syncer
	prefs    PreferenceStore
	tick     time.Duration
	cooldown time.Duration
	log      *slog.Logger

	cron *cron.Cron

	mu        stdsync.Mutex
	users     map[string]*userState
	listeners []func(UserStatus)

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer       trace.Tracer
	cntRuns      metric.Int64Counter
	cntCreated   metric.Int64Counter
	cntUpdated   metric.Int64Counter
	cntDeleted   metric.Int64Counter
	cntConflicts metric.Int64Counter
	cntErrors    metric.Int64Counter
}

// NewScheduler creates a Scheduler ticking at the given interval. A zero or
// negative tick defaults to one minute.
func NewScheduler(syncer Syncer, prefs PreferenceStore, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Minute
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Scheduler{
		syncer:   syncer,
		prefs:    prefs,
		tick:     tick,
		cooldown: DefaultCooldown,
		log:      logger,
		users:    make(map[string]*userState),

		tracer:       tracer,
		cntRuns:      mustCounter(metricRuns, "Number of sync runs started"),
		cntCreated:   mustCounter(metricCreated, "Number of events created during sync"),
		cntUpdated:   mustCounter(metricUpdated, "Number of events updated during sync"),
		cntDeleted:   mustCounter(metricDeleted, "Number of events deleted during sync"),
		cntConflicts: mustCounter(metricConflicts, "Number of conflicts detected during sync"),
		cntErrors:    mustCounter(metricErrors, "Number of errors encountered during sync"),
	}
}

// Subscribe registers a listener invoked after every state transition with a
// snapshot of the user's status. Listeners run on the scheduler's goroutines
// and must not block.
func (s *Scheduler) Subscribe(fn func(UserStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Status returns a snapshot of every user the scheduler has seen.
func (s *Scheduler) Status() []UserStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UserStatus, 0, len(s.users))
	for id, st := range s.users {
		out = append(out, snapshotLocked(id, st))
	}
	return out
}

// StatusFor returns the snapshot for one user, or a zero-valued idle status
// if the scheduler has never attempted them.
func (s *Scheduler) StatusFor(userID string) UserStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.users[userID]; ok {
		return snapshotLocked(userID, st)
	}
	return UserStatus{UserID: userID, State: StateIdle}
}

func snapshotLocked(userID string, st *userState) UserStatus {
	return UserStatus{
		UserID:       userID,
		State:        st.state,
		LastAttempt:  st.lastAttempt,
		LastFinished: st.lastFinished,
		LastSuccess:  st.lastSuccess,
		LastResult:   st.lastResult,
	}
}

// Run starts the tick loop and blocks until ctx is cancelled. The first pass
// runs immediately rather than waiting a full tick.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.tick), func() { s.tickAll(ctx) }); err != nil {
		return fmt.Errorf("registering sync tick: %w", err)
	}

	s.tickAll(ctx)
	s.cron.Start()

	<-ctx.Done()
	s.log.Info("sync scheduler shutting down")

	// Wait for in-flight runs started by the cron goroutine.
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// tickAll evaluates gates for every user with stored preferences and starts
// a run for each eligible one.
func (s *Scheduler) tickAll(ctx context.Context) {
	all, err := s.prefs.ListPreferences(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("listing preferences for tick", "error", err)
		}
		return
	}

	for _, p := range all {
		if !p.SyncEnabled {
			continue
		}
		if ok, reason := s.claim(p.UserID, time.Duration(p.FrequencyMinutes)*time.Minute); !ok {
			s.log.Debug("sync skipped", "user_id", p.UserID, "reason", reason)
			continue
		}
		s.runUser(ctx, p.UserID)
	}
}

// SyncNow triggers an immediate run for one user, skipping the frequency and
// cooldown gates. Returns [ErrSyncInFlight] if a run is already active.
func (s *Scheduler) SyncNow(ctx context.Context, userID string) (Result, error) {
	s.mu.Lock()
	st := s.stateLocked(userID)
	if st.state == StateSyncing {
		s.mu.Unlock()
		return Result{}, fmt.Errorf("user %q: %w", userID, ErrSyncInFlight)
	}
	st.state = StateSyncing
	st.lastAttempt = time.Now()
	s.notifyLocked(userID, st)
	s.mu.Unlock()

	return s.finishUser(ctx, userID)
}

// claim evaluates the frequency, cooldown, and in-flight gates for one user
// and, when all pass, transitions them to syncing. The returned reason names
// the gate that blocked the attempt.
func (s *Scheduler) claim(userID string, frequency time.Duration) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stateLocked(userID)
	if st.state == StateSyncing {
		return false, "in flight"
	}
	st.state = StateChecking
	now := time.Now()

	if st.lastAttempt.Add(s.cooldown).After(now) {
		st.state = StateIdle
		return false, "cooldown"
	}
	// The frequency window is measured from the last successful run. After a
	// failure only the cooldown gates the retry.
	if !st.lastSuccess.IsZero() && st.lastSuccess.Add(frequency).After(now) {
		st.state = StateIdle
		return false, "frequency"
	}

	st.state = StateSyncing
	st.lastAttempt = now
	s.notifyLocked(userID, st)
	return true, ""
}

// runUser executes one run asynchronously from the tick loop.
func (s *Scheduler) runUser(ctx context.Context, userID string) {
	go func() {
		if _, err := s.finishUser(ctx, userID); err != nil {
			s.log.Error("scheduled sync failed", "user_id", userID, "error", err)
		}
	}()
}

// finishUser runs the orchestrator for a user already claimed as syncing,
// records instruments, and transitions back to idle.
func (s *Scheduler) finishUser(ctx context.Context, userID string) (Result, error) {
	ctx, span := s.tracer.Start(ctx, spanRun, trace.WithAttributes(attribute.String("sync.user_id", userID)))
	defer span.End()

	s.cntRuns.Add(ctx, 1)
	res, err := s.syncer.PerformFullSync(ctx, userID)

	if res.EventsCreated > 0 {
		s.cntCreated.Add(ctx, int64(res.EventsCreated))
	}
	if res.EventsUpdated > 0 {
		s.cntUpdated.Add(ctx, int64(res.EventsUpdated))
	}
	if res.EventsDeleted > 0 {
		s.cntDeleted.Add(ctx, int64(res.EventsDeleted))
	}
	if res.ConflictsDetected > 0 {
		s.cntConflicts.Add(ctx, int64(res.ConflictsDetected))
	}
	if len(res.Errors) > 0 {
		s.cntErrors.Add(ctx, int64(len(res.Errors)))
	}
	span.SetAttributes(
		attribute.Bool("sync.success", res.Success),
		attribute.Int("sync.processed", res.EventsProcessed),
		attribute.Int("sync.conflicts", res.ConflictsDetected),
	)
	if err != nil {
		span.RecordError(err)
	}

	s.mu.Lock()
	st := s.stateLocked(userID)
	st.state = StateIdle
	st.lastFinished = time.Now()
	if err == nil && res.Success {
		st.lastSuccess = st.lastFinished
	}
	st.lastResult = &res
	s.notifyLocked(userID, st)
	s.mu.Unlock()

	return res, err
}

func (s *Scheduler) stateLocked(userID string) *userState {
	st, ok := s.users[userID]
	if !ok {
		st = &userState{state: StateIdle}
		s.users[userID] = st
	}
	return st
}

func (s *Scheduler) notifyLocked(userID string, st *userState) {
	snap := snapshotLocked(userID, st)
	for _, fn := range s.listeners {
		fn(snap)
	}
}
