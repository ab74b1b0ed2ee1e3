package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/marketagent/internal/repo"
)

const (
	defaultOutcomeLimit = 50
	maxOutcomeLimit     = 500
)

// ListOutcomes возвращает последние итоги задач.
// GET /api/v1/outcomes?limit=...
func (h *Handler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		NotFound(w, "outcome journal is not configured")
		return
	}

	limit := defaultOutcomeLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxOutcomeLimit)
	}

	outcomes, err := h.outcomes.ListRecent(r.Context(), limit)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	List(w, outcomes, len(outcomes))
}

// GetOutcome возвращает последний итог по task id.
// GET /api/v1/outcomes/{taskID}
func (h *Handler) GetOutcome(w http.ResponseWriter, r *http.Request) {
	if h.outcomes == nil {
		NotFound(w, "outcome journal is not configured")
		return
	}

	outcome, err := h.outcomes.GetLatest(r.Context(), chi.URLParam(r, "taskID"))
	if errors.Is(err, repo.ErrNotFound) {
		NotFound(w, "outcome not found")
		return
	}
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, outcome)
}
