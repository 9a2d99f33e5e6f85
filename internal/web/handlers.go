package web

import (
	"net/http"
	"strconv"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/memory"
)

// Handlers contains HTTP route handlers for the API.
type Handlers struct {
	svc     Services
	version string
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": h.version})
}

// HandleStreams handles GET /streams: list streams, optionally filtered by status.
func (h *Handlers) HandleStreams(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && status != string(memory.StatusActive) && status != string(memory.StatusArchived) {
		renderError(w, errors.NewInvalidRequest("status must be active or archived"))
		return
	}

	streams := h.svc.Memory.List()
	if status != "" {
		filtered := streams[:0]
		for _, s := range streams {
			if string(s.Status) == status {
				filtered = append(filtered, s)
			}
		}
		streams = filtered
	}
	renderJSON(w, http.StatusOK, map[string]any{"streams": streams})
}

// HandleStream handles GET /streams/{id}: a stream with its frames.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stream, ok := h.svc.Memory.Get(id)
	if !ok {
		renderError(w, errors.NewNotFound(id))
		return
	}
	renderJSON(w, http.StatusOK, stream)
}

// HandleMemory handles GET /streams/{id}/memory?tier=short|medium: a rendered memory tier.
func (h *Handlers) HandleMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.svc.Memory.Get(id); !ok {
		renderError(w, errors.NewNotFound(id))
		return
	}

	tier := r.URL.Query().Get("tier")
	var text string
	switch tier {
	case "", "short":
		tier = "short"
		text = h.svc.Memory.ShortTerm(id, parseIntParam(r, "limit", memory.DefaultShortTermLimit))
	case "medium":
		text = h.svc.Memory.MediumTerm(id)
	default:
		renderError(w, errors.NewInvalidRequest("tier must be short or medium"))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"tier": tier, "text": text})
}

// HandlePeek handles GET /streams/{id}/peek: the cross-stream summary.
func (h *Handlers) HandlePeek(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"text": h.svc.Memory.SharePeek(r.PathValue("id"))})
}

// HandleArchive handles POST /streams/{id}/archive.
func (h *Handlers) HandleArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.Memory.Archive(r.Context(), id); err != nil {
		renderError(w, err)
		return
	}
	stream, _ := h.svc.Memory.Get(id)
	renderJSON(w, http.StatusOK, map[string]any{
		"stream_id":   stream.ID,
		"status":      stream.Status,
		"archived_at": stream.ArchivedAt,
	})
}

// HandleLongTerm handles GET /memory/long?q=: archived streams matching q.
func (h *Handlers) HandleLongTerm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		renderError(w, errors.NewInvalidRequest("q is required"))
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"text": h.svc.Memory.LongTerm(r.Context(), q)})
}

// HandleDecisions handles GET /decisions: the decision log, most recent first.
func (h *Handlers) HandleDecisions(w http.ResponseWriter, r *http.Request) {
	decisions := h.svc.Supervisor.Decisions()
	if limit := parseIntParam(r, "limit", 0); limit > 0 && len(decisions) > limit {
		decisions = decisions[:limit]
	}
	renderJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

// HandlePolicies handles GET /policies.
func (h *Handlers) HandlePolicies(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"policies": h.svc.Supervisor.Policies()})
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
