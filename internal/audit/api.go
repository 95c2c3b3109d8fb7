// Package audit keeps a tamper-evident, hash-chained log of every domain
// event.
package audit

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/errors"
	"github.com/psique-app/platform/internal/shared/httpx"
)

// Handler provides HTTP handlers for the audit module
type Handler struct {
	store Store
}

// NewHandler creates a new audit handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Routes registers the audit routes. Callers mount it behind
// auth.Middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireAdmin)

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)

	return r
}

// ListEntries lists audit entries with filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ListFilter{
		Action:       strings.TrimSpace(q.Get("action")),
		ResourceType: strings.TrimSpace(q.Get("resourceType")),
	}

	actorID, err := httpx.QueryID(r, "actorId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	filter.ActorID = actorID

	if filter.From, err = parseTime(q.Get("from"), "from"); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if filter.To, err = parseTime(q.Get("to"), "to"); err != nil {
		httpx.WriteError(w, err)
		return
	}

	if filter.Limit, err = parseInt(q.Get("limit"), "limit"); err != nil {
		httpx.WriteError(w, err)
		return
	}
	if filter.Offset, err = parseInt(q.Get("offset"), "offset"); err != nil {
		httpx.WriteError(w, err)
		return
	}

	entries, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"data":   entries,
		"total":  total,
		"limit":  filter.EffectiveLimit(),
		"offset": filter.Offset,
	})
}

// VerifyChain recomputes the whole chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.Chain(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, Verify(entries))
}

func parseTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.BadRequest("invalid " + name + ": expected RFC 3339")
	}
	return &t, nil
}

func parseInt(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.BadRequest("invalid " + name)
	}
	return n, nil
}
