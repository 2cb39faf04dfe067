package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	syncpkg "github.com/hearthlabs/hearthsync/internal/sync"

	"github.com/hearthlabs/hearthsync/internal/store"
)

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// problemTypes maps HTTP status codes to RFC 7807 type URIs and titles.
var problemTypes = map[int]struct {
	typeURI string
	title   string
}{
	http.StatusBadRequest: {
		typeURI: "https://hearthlabs.dev/errors/bad-request",
		title:   "Bad Request",
	},
	http.StatusNotFound: {
		typeURI: "https://hearthlabs.dev/errors/not-found",
		title:   "Not Found",
	},
	http.StatusConflict: {
		typeURI: "https://hearthlabs.dev/errors/conflict",
		title:   "Conflict",
	},
	http.StatusUnprocessableEntity: {
		typeURI: "https://hearthlabs.dev/errors/validation-error",
		title:   "Validation Error",
	},
	http.StatusInternalServerError: {
		typeURI: "https://hearthlabs.dev/errors/internal-error",
		title:   "Internal Server Error",
	},
}

// WriteProblem writes an RFC 7807 Problem Details response.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	pt, ok := problemTypes[status]
	if !ok {
		pt = struct {
			typeURI string
			title   string
		}{
			typeURI: "https://hearthlabs.dev/errors/unknown",
			title:   http.StatusText(status),
		}
	}

	p := Problem{
		Type:     pt.typeURI,
		Title:    pt.title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		WriteProblem(w, r, http.StatusNotFound, "Resource not found")
	case errors.Is(err, store.ErrAlreadyResolved):
		WriteProblem(w, r, http.StatusConflict, "Conflict is already resolved")
	case errors.Is(err, syncpkg.ErrSyncInFlight):
		WriteProblem(w, r, http.StatusConflict, "A sync is already running for this user")
	case errors.Is(err, syncpkg.ErrNotConfigured):
		WriteProblem(w, r, http.StatusConflict, "Sync is not configured for this user")
	default:
		// Never expose internal error details to the client.
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}
