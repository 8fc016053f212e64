package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination and journal filters from the query
// string. Defaults: limit=50 (max 500), offset=0. Malformed values are
// ignored.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
		Kind:   domain.IntentKind(q.Get("kind")),
		Actor:  strings.TrimSpace(q.Get("actor")),
	}
	if v := q.Get("listing_id"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			opts.ListingID = &id
		}
	}
	if v := q.Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := q.Get("until"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}
	return opts
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// listingID parses the {id} path parameter. On failure it writes a 400 and
// returns ok=false.
func listingID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing id")
		return 0, false
	}
	return id, true
}

// intentStatus maps an intent error to an HTTP status code.
func intentStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIntentInFlight), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrReadUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrIdentityUnavailable):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmptyComment):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConfirmationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrAbandoned):
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
