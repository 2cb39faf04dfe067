package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hearthlabs/hearthsync/internal/model"
	"github.com/hearthlabs/hearthsync/internal/store"
	syncpkg "github.com/hearthlabs/hearthsync/internal/sync"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// SettingsStore is the slice of the store the API reads and writes directly.
// Implemented by [store.Store].
type SettingsStore interface {
	GetPreferences(ctx context.Context, userID string) (*store.Preferences, error)
	UpsertPreferences(ctx context.Context, userID string, upd store.PreferencesUpdate, now time.Time) (*store.Preferences, error)
	ListRecentRuns(ctx context.Context, userID string, limit int) ([]*store.Run, error)
}

// SyncService triggers sync runs. Implemented by [sync.Scheduler].
type SyncService interface {
	SyncNow(ctx context.Context, userID string) (syncpkg.Result, error)
}

// ConflictService surfaces and resolves conflicts. Implemented by
// [sync.Orchestrator].
type ConflictService interface {
	PendingConflicts(ctx context.Context, userID string) ([]*store.Conflict, error)
	ResolveConflict(ctx context.Context, userID, conflictID string, resolution model.Resolution) error
}

// Handler implements the API handlers.
type Handler struct {
	store     SettingsStore
	syncer    SyncService
	conflicts ConflictService
	version   string
}

// NewHandler creates a Handler.
func NewHandler(s SettingsStore, syncer SyncService, conflicts ConflictService, version string) *Handler {
	return &Handler{
		store:     s,
		syncer:    syncer,
		conflicts: conflicts,
		version:   version,
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health returns the service health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: h.version})
}

type syncResultResponse struct {
	Success           bool     `json:"success"`
	EventsProcessed   int      `json:"events_processed"`
	EventsCreated     int      `json:"events_created"`
	EventsUpdated     int      `json:"events_updated"`
	EventsDeleted     int      `json:"events_deleted"`
	ConflictsDetected int      `json:"conflicts_detected"`
	Errors            []string `json:"errors"`
}

func toSyncResultResponse(res syncpkg.Result) syncResultResponse {
	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}
	return syncResultResponse{
		Success:           res.Success,
		EventsProcessed:   res.EventsProcessed,
		EventsCreated:     res.EventsCreated,
		EventsUpdated:     res.EventsUpdated,
		EventsDeleted:     res.EventsDeleted,
		ConflictsDetected: res.ConflictsDetected,
		Errors:            errs,
	}
}

// TriggerSync handles POST /api/v1/users/{userID}/sync.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	res, err := h.syncer.SyncNow(r.Context(), userID)
	if err != nil {
		slog.Error("manual sync failed", "user_id", userID, "error", err)
		MapError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncResultResponse(res))
}

type conflictResponse struct {
	ID               string         `json:"id"`
	LocalEventID     string         `json:"local_event_id"`
	RemoteExternalID string         `json:"remote_external_id"`
	LocalSnapshot    model.Snapshot `json:"local_snapshot"`
	RemoteSnapshot   model.Snapshot `json:"remote_snapshot"`
	DetectedAt       time.Time      `json:"detected_at"`
}

// ListConflicts handles GET /api/v1/users/{userID}/conflicts.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	pending, err := h.conflicts.PendingConflicts(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}

	out := make([]conflictResponse, 0, len(pending))
	for _, c := range pending {
		out = append(out, conflictResponse{
			ID:               c.ID,
			LocalEventID:     c.LocalEventID,
			RemoteExternalID: c.RemoteExternalID,
			LocalSnapshot:    c.LocalSnapshot,
			RemoteSnapshot:   c.RemoteSnapshot,
			DetectedAt:       c.DetectedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

// ResolveConflict handles POST /api/v1/users/{userID}/conflicts/{conflictID}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	conflictID := chi.URLParam(r, "conflictID")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	resolution := model.Resolution(req.Resolution)
	if !resolution.Valid() {
		WriteProblem(w, r, http.StatusUnprocessableEntity,
			fmt.Sprintf("Unknown resolution %q: use keep_local, keep_remote, or merge", req.Resolution))
		return
	}

	if err := h.conflicts.ResolveConflict(r.Context(), userID, conflictID, resolution); err != nil {
		MapError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type preferencesResponse struct {
	UserID           string    `json:"user_id"`
	SyncEnabled      bool      `json:"sync_enabled"`
	FrequencyMinutes int       `json:"frequency_minutes"`
	Direction        string    `json:"direction"`
	CalendarID       string    `json:"calendar_id"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toPreferencesResponse(p *store.Preferences) preferencesResponse {
	return preferencesResponse{
		UserID:           p.UserID,
		SyncEnabled:      p.SyncEnabled,
		FrequencyMinutes: p.FrequencyMinutes,
		Direction:        string(p.Direction),
		CalendarID:       p.CalendarID,
		UpdatedAt:        p.UpdatedAt,
	}
}

// GetPreferences handles GET /api/v1/users/{userID}/preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	p, err := h.store.GetPreferences(r.Context(), userID)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if p == nil {
		WriteProblem(w, r, http.StatusNotFound, "Sync preferences not configured for this user")
		return
	}
	writeJSON(w, http.StatusOK, toPreferencesResponse(p))
}

type preferencesRequest struct {
	SyncEnabled      *bool   `json:"sync_enabled"`
	FrequencyMinutes *int    `json:"frequency_minutes"`
	Direction        *string `json:"direction"`
	CalendarID       *string `json:"calendar_id"`
}

// PutPreferences handles PUT /api/v1/users/{userID}/preferences. Absent
// fields keep their stored values, so a client can flip one knob at a time.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req preferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	upd := store.PreferencesUpdate{
		SyncEnabled:      req.SyncEnabled,
		FrequencyMinutes: req.FrequencyMinutes,
		CalendarID:       req.CalendarID,
	}
	if req.FrequencyMinutes != nil &&
		(*req.FrequencyMinutes < store.MinFrequencyMinutes || *req.FrequencyMinutes > store.MaxFrequencyMinutes) {
		WriteProblem(w, r, http.StatusUnprocessableEntity,
			fmt.Sprintf("frequency_minutes must be between %d and %d", store.MinFrequencyMinutes, store.MaxFrequencyMinutes))
		return
	}
	if req.Direction != nil {
		d := model.SyncDirection(*req.Direction)
		if !d.Valid() {
			WriteProblem(w, r, http.StatusUnprocessableEntity,
				fmt.Sprintf("Unknown direction %q: use bidirectional, remote_to_local, or local_to_remote", *req.Direction))
			return
		}
		upd.Direction = &d
	}

	p, err := h.store.UpsertPreferences(r.Context(), userID, upd, time.Now())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPreferencesResponse(p))
}

type runResponse struct {
	ID                int64     `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Success           bool      `json:"success"`
	EventsProcessed   int       `json:"events_processed"`
	EventsCreated     int       `json:"events_created"`
	EventsUpdated     int       `json:"events_updated"`
	EventsDeleted     int       `json:"events_deleted"`
	ConflictsDetected int       `json:"conflicts_detected"`
	Errors            []string  `json:"errors"`
}

// ListRuns handles GET /api/v1/users/{userID}/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid limit %q", raw))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.store.ListRecentRuns(r.Context(), userID, limit)
	if err != nil {
		MapError(w, r, err)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		errs := run.Errors
		if errs == nil {
			errs = []string{}
		}
		out = append(out, runResponse{
			ID:                run.ID,
			StartedAt:         run.StartedAt,
			FinishedAt:        run.FinishedAt,
			Success:           run.Success,
			EventsProcessed:   run.EventsProcessed,
			EventsCreated:     run.EventsCreated,
			EventsUpdated:     run.EventsUpdated,
			EventsDeleted:     run.EventsDeleted,
			ConflictsDetected: run.ConflictsDetected,
			Errors:            errs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
