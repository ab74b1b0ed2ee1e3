package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/marketagent/internal/domain"
)

// Stats — счётчики агента для status API.
type Stats struct {
	AgentID        string          `json:"agent_id"`
	Running        bool            `json:"running"`
	Polls          int64           `json:"polls"`
	TasksSucceeded int64           `json:"tasks_succeeded"`
	TasksFailed    int64           `json:"tasks_failed"`
	TasksRejected  int64           `json:"tasks_rejected"`
	LastPollAt     *time.Time      `json:"last_poll_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	LastOutcome    *domain.Outcome `json:"last_outcome,omitempty"`
}

type statsCounters struct {
	polls      atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	rejected   atomic.Int64
	lastPollAt atomic.Int64

	mu          sync.Mutex
	lastError   string
	lastOutcome *domain.Outcome
}

func (s *statsCounters) record(outcome *domain.Outcome) {
	switch outcome.Status {
	case domain.TaskStatusSucceeded:
		s.succeeded.Add(1)
	case domain.TaskStatusRejected:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}

	snapshot := *outcome
	s.mu.Lock()
	s.lastOutcome = &snapshot
	s.mu.Unlock()
}

func (s *statsCounters) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// Stats возвращает снимок счётчиков.
func (a *Agent) Stats() Stats {
	st := Stats{
		AgentID:        a.id,
		Running:        a.IsRunning(),
		Polls:          a.stats.polls.Load(),
		TasksSucceeded: a.stats.succeeded.Load(),
		TasksFailed:    a.stats.failed.Load(),
		TasksRejected:  a.stats.rejected.Load(),
	}

	if ms := a.stats.lastPollAt.Load(); ms > 0 {
		t := time.UnixMilli(ms)
		st.LastPollAt = &t
	}

	a.stats.mu.Lock()
	st.LastError = a.stats.lastError
	st.LastOutcome = a.stats.lastOutcome
	a.stats.mu.Unlock()

	return st
}
