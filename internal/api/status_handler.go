package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shaiso/marketagent/internal/agent"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/token"
)

// StatusResponse — ответ /api/v1/status.
type StatusResponse struct {
	Agent     agent.Stats     `json:"agent"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Auth      token.Status    `json:"auth"`
	Breaker   string          `json:"breaker,omitempty"`
	Uptime    string          `json:"uptime"`
}

// Health отвечает 200, пока процесс жив.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "ok %s", time.Since(h.started).Round(time.Second))
}

// Status возвращает состояние агента, scheduler'а и сессии.
// GET /api/v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Uptime: time.Since(h.started).Round(time.Second).String(),
	}
	if h.agent != nil {
		resp.Agent = h.agent.Stats()
	}
	if h.scheduler != nil {
		resp.Scheduler = h.scheduler.Stats()
	}
	if h.session != nil {
		resp.Auth = h.session.Status(r.Context())
	}
	if h.breaker != nil {
		resp.Breaker = h.breaker()
	}

	Success(w, resp)
}

// TriggerPoll запускает внеочередной poll cycle и ждёт его завершения.
// POST /api/v1/poll
func (h *Handler) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	if h.agent == nil {
		NotFound(w, "agent is not configured")
		return
	}

	err := h.agent.RunOnce(r.Context())
	switch {
	case errors.Is(err, agent.ErrPollInProgress):
		Conflict(w, "poll already in progress")
	case err != nil:
		h.logger.Warn("manual poll failed", "error", err)
		BadGateway(w, err.Error())
	default:
		Success(w, h.agent.Stats())
	}
}

// ResetScheduler возвращает интервал poll к минимальному.
// POST /api/v1/scheduler/reset
func (h *Handler) ResetScheduler(w http.ResponseWriter, _ *http.Request) {
	if h.scheduler == nil {
		NotFound(w, "scheduler is not configured")
		return
	}

	h.scheduler.Reset()
	Success(w, h.scheduler.Stats())
}
