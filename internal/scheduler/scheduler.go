package scheduler

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

// Значения по умолчанию.
const (
	DefaultMinInterval        = 5 * time.Second
	DefaultMaxInterval        = 60 * time.Second
	DefaultBackoffMultiplier  = 1.5
	DefaultErrorBackoffFactor = 1.5

	// MaxConsecutiveErrors — после стольких ошибок подряд интервал сбрасывается к минимуму.
	MaxConsecutiveErrors = 10
)

// Config — конфигурация Scheduler.
type Config struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// BackoffMultiplier — рост интервала после пустого опроса.
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`

	// ErrorBackoffFactor — дополнительный множитель при ошибке; всегда > 1,
	// иначе используется DefaultErrorBackoffFactor.
	ErrorBackoffFactor float64 `mapstructure:"error_backoff_factor"`

	// ResetOnActivity — сбрасывать интервал к минимуму при найденной задаче.
	ResetOnActivity bool `mapstructure:"reset_on_activity"`

	// Now — источник времени (для тестов). По умолчанию time.Now.
	Now func() time.Time `mapstructure:"-"`
}

// DefaultConfig возвращает конфигурацию по умолчанию: 5s..60s, x1.5, сброс при активности.
func DefaultConfig() Config {
	return Config{
		MinInterval:        DefaultMinInterval,
		MaxInterval:        DefaultMaxInterval,
		BackoffMultiplier:  DefaultBackoffMultiplier,
		ErrorBackoffFactor: DefaultErrorBackoffFactor,
		ResetOnActivity:    true,
	}
}

// State — изменяемое состояние планировщика.
type State struct {
	CurrentInterval       time.Duration
	ConsecutiveEmptyPolls int
	ConsecutiveErrors     int
	LastActivity          time.Time
}

// Stats — снимок состояния для status API и логов.
type Stats struct {
	CurrentInterval          time.Duration `json:"-"`
	CurrentIntervalMs        int64         `json:"current_interval_ms"`
	CurrentIntervalFormatted string        `json:"current_interval"`
	ConsecutiveEmptyPolls    int           `json:"consecutive_empty_polls"`
	ConsecutiveErrors        int           `json:"consecutive_errors"`
	TimeSinceLastActivity    time.Duration `json:"-"`
	TimeSinceLastActivityMs  int64         `json:"time_since_last_activity_ms"`
	IsIdle                   bool          `json:"is_idle"`
	IsActive                 bool          `json:"is_active"`
}

// Scheduler — адаптивный планировщик интервала опроса.
type Scheduler struct {
	cfg      Config
	errorMul float64

	mu    sync.Mutex
	state State
}

// New создаёт Scheduler. Нулевые поля Config заменяются значениями по умолчанию.
func New(cfg Config) *Scheduler {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.ErrorBackoffFactor <= 1 {
		cfg.ErrorBackoffFactor = DefaultErrorBackoffFactor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Scheduler{
		cfg:      cfg,
		errorMul: cfg.BackoffMultiplier * cfg.ErrorBackoffFactor,
	}
	s.state = s.initial()
	return s
}

// Config возвращает итоговую конфигурацию (с подставленными значениями по умолчанию).
func (s *Scheduler) Config() Config {
	return s.cfg
}

func (s *Scheduler) initial() State {
	return State{
		CurrentInterval: s.cfg.MinInterval,
		LastActivity:    s.cfg.Now(),
	}
}

// OnTaskFound фиксирует найденную работу.
func (s *Scheduler) OnTaskFound() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.ResetOnActivity {
		s.state.CurrentInterval = s.cfg.MinInterval
	}
	s.state.ConsecutiveEmptyPolls = 0
	s.state.ConsecutiveErrors = 0
	s.state.LastActivity = s.cfg.Now()
}

// OnNoTask фиксирует пустой опрос.
func (s *Scheduler) OnNoTask() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CurrentInterval = s.grow(s.state.CurrentInterval, s.cfg.BackoffMultiplier)
	s.state.ConsecutiveEmptyPolls++
	s.state.ConsecutiveErrors = 0
}

// OnError фиксирует ошибку опроса или выполнения.
// Ошибка сама по себе не влияет на расчёт: важен только факт сбоя.
func (s *Scheduler) OnError(_ error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ConsecutiveErrors++
	if s.state.ConsecutiveErrors >= MaxConsecutiveErrors {
		s.state.CurrentInterval = s.cfg.MinInterval
		s.state.ConsecutiveErrors = 0
		return
	}
	s.state.CurrentInterval = s.grow(s.state.CurrentInterval, s.errorMul)
}

// Reset возвращает планировщик в начальное состояние.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.initial()
}

// CurrentInterval возвращает задержку до следующего опроса.
func (s *Scheduler) CurrentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentInterval
}

// IsIdle — интервал достиг максимума.
func (s *Scheduler) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentInterval >= s.cfg.MaxInterval
}

// IsActive — интервал на минимуме.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentInterval <= s.cfg.MinInterval
}

// State возвращает копию текущего состояния.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats возвращает снимок состояния.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	since := s.cfg.Now().Sub(st.LastActivity)
	if since < 0 {
		since = 0
	}

	return Stats{
		CurrentInterval:          st.CurrentInterval,
		CurrentIntervalMs:        st.CurrentInterval.Milliseconds(),
		CurrentIntervalFormatted: FormatInterval(st.CurrentInterval),
		ConsecutiveEmptyPolls:    st.ConsecutiveEmptyPolls,
		ConsecutiveErrors:        st.ConsecutiveErrors,
		TimeSinceLastActivity:    since,
		TimeSinceLastActivityMs:  since.Milliseconds(),
		IsIdle:                   st.CurrentInterval >= s.cfg.MaxInterval,
		IsActive:                 st.CurrentInterval <= s.cfg.MinInterval,
	}
}

// grow умножает интервал с округлением до миллисекунды и ограничивает MaxInterval.
func (s *Scheduler) grow(current time.Duration, mul float64) time.Duration {
	ms := math.Round(float64(current.Milliseconds()) * mul)
	next := time.Duration(ms) * time.Millisecond
	if next > s.cfg.MaxInterval {
		return s.cfg.MaxInterval
	}
	return next
}

// FormatInterval форматирует интервал для человека: "750ms", "7.5s", "1m 30s".
func FormatInterval(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
	default:
		minutes := int(d / time.Minute)
		seconds := int((d % time.Minute) / time.Second)
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}
