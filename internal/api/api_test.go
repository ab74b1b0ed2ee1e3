package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/marketagent/internal/agent"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/repo"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/telemetry"
	"github.com/shaiso/marketagent/internal/token"
)

// --- Fakes ---

type fakeAgent struct {
	stats   agent.Stats
	runErr  error
	runs    atomic.Int32
	panicky bool
}

func (a *fakeAgent) Stats() agent.Stats { return a.stats }

func (a *fakeAgent) RunOnce(context.Context) error {
	if a.panicky {
		panic("boom")
	}
	a.runs.Add(1)
	return a.runErr
}

type fakeSession struct{}

func (fakeSession) Status(context.Context) token.Status {
	return token.Status{Authenticated: true, UserID: "u-42", ExpiresIn: "12m 5s"}
}

type fakeOutcomes struct {
	items     []domain.Outcome
	lastLimit int
	err       error
}

func (o *fakeOutcomes) ListRecent(_ context.Context, limit int) ([]domain.Outcome, error) {
	o.lastLimit = limit
	return o.items, o.err
}

func (o *fakeOutcomes) GetLatest(_ context.Context, taskID string) (*domain.Outcome, error) {
	for _, item := range o.items {
		if item.TaskID == taskID {
			return &item, nil
		}
	}
	return nil, repo.ErrNotFound
}

func newTestHandler(a *fakeAgent, outcomes OutcomeStore) (*Handler, *scheduler.Scheduler) {
	sched := scheduler.New(scheduler.DefaultConfig())
	h := NewHandler(Config{
		Agent:        a,
		Scheduler:    sched,
		Session:      fakeSession{},
		Outcomes:     outcomes,
		BreakerState: func() string { return "closed" },
		Gatherer:     prometheus.NewRegistry(),
		Logger:       telemetry.Discard(),
	})
	return h, sched
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// --- Tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{}, nil)

	rec := do(t, h.Routes(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "ok") {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	a := &fakeAgent{stats: agent.Stats{AgentID: "agent-1", Running: true, Polls: 3, TasksSucceeded: 2}}
	h, sched := newTestHandler(a, nil)
	sched.OnNoTask()

	rec := do(t, h.Routes(), http.MethodGet, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data StatusResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	got := resp.Data
	if got.Agent.AgentID != "agent-1" || got.Agent.Polls != 3 || !got.Agent.Running {
		t.Errorf("agent = %+v", got.Agent)
	}
	if got.Scheduler.CurrentIntervalMs != 7500 || got.Scheduler.ConsecutiveEmptyPolls != 1 {
		t.Errorf("scheduler = %+v", got.Scheduler)
	}
	if !got.Auth.Authenticated || got.Auth.UserID != "u-42" {
		t.Errorf("auth = %+v", got.Auth)
	}
	if got.Breaker != "closed" {
		t.Errorf("breaker = %q", got.Breaker)
	}
}

func TestTriggerPoll(t *testing.T) {
	tests := []struct {
		name   string
		runErr error
		want   int
	}{
		{"ok", nil, http.StatusOK},
		{"in progress", agent.ErrPollInProgress, http.StatusConflict},
		{"backend down", errors.New("poll: backend unavailable"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAgent{runErr: tt.runErr}
			h, _ := newTestHandler(a, nil)

			rec := do(t, h.Routes(), http.MethodPost, "/api/v1/poll")
			if rec.Code != tt.want {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if a.runs.Load() != 1 {
				t.Errorf("RunOnce called %d times", a.runs.Load())
			}
		})
	}
}

func TestTriggerPoll_WrongMethod(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{}, nil)

	rec := do(t, h.Routes(), http.MethodGet, "/api/v1/poll")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
}

func TestResetScheduler(t *testing.T) {
	h, sched := newTestHandler(&fakeAgent{}, nil)
	sched.OnNoTask()
	sched.OnNoTask()

	rec := do(t, h.Routes(), http.MethodPost, "/api/v1/scheduler/reset")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if sched.CurrentInterval() != 5*time.Second {
		t.Errorf("interval = %v, want 5s", sched.CurrentInterval())
	}
}

func TestOutcomes(t *testing.T) {
	store := &fakeOutcomes{items: []domain.Outcome{
		{TaskID: "t-2", Status: domain.TaskStatusFailed, Error: "boom"},
		{TaskID: "t-1", Status: domain.TaskStatusSucceeded},
	}}
	h, _ := newTestHandler(&fakeAgent{}, store)
	routes := h.Routes()

	rec := do(t, routes, http.MethodGet, "/api/v1/outcomes?limit=1000")
	if rec.Code != http.StatusOK {
		t.Fatalf("list code = %d", rec.Code)
	}
	if store.lastLimit != maxOutcomeLimit {
		t.Errorf("limit = %d, want clamp to %d", store.lastLimit, maxOutcomeLimit)
	}
	var list struct {
		Data  []domain.Outcome `json:"data"`
		Total int              `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil || list.Total != 2 {
		t.Errorf("list = %+v (%v)", list, err)
	}

	if rec := do(t, routes, http.MethodGet, "/api/v1/outcomes?limit=abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d", rec.Code)
	}

	rec = do(t, routes, http.MethodGet, "/api/v1/outcomes/t-2")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"boom"`) {
		t.Errorf("get = %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, routes, http.MethodGet, "/api/v1/outcomes/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("missing code = %d", rec.Code)
	}
}

func TestOutcomes_NotConfigured(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{}, nil)

	rec := do(t, h.Routes(), http.MethodGet, "/api/v1/outcomes")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)
	m.Polls.WithLabelValues("empty").Inc()

	h := NewHandler(Config{Gatherer: reg, Logger: telemetry.Discard()})

	rec := do(t, h.Routes(), http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `marketagent_polls_total{result="empty"} 1`) {
		t.Errorf("metrics = %d\n%s", rec.Code, rec.Body.String())
	}
}

func TestRecovery(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{panicky: true}, nil)

	rec := do(t, h.Routes(), http.MethodPost, "/api/v1/poll")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(ErrCodeInternalError)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestUnknownRoute(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{}, nil)

	rec := do(t, h.Routes(), http.MethodGet, "/nope")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), string(ErrCodeNotFound)) {
		t.Errorf("code = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_StartShutdown(t *testing.T) {
	h, _ := newTestHandler(&fakeAgent{}, nil)
	srv := NewServer("127.0.0.1:0", h)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
