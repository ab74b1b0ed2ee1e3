package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shaiso/marketagent/internal/telemetry"
)

const (
	refreshFlightKey      = "refresh"
	defaultRefreshTimeout = 15 * time.Second
)

// Refresher обменивает refresh-токен на новую пару.
// Возвращает ErrRefreshRejected (обёрнутую), если backend отклонил refresh-токен.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (Credentials, error)
}

// Session — владелец кэшированных credentials агента.
type Session struct {
	store     Store
	refresher Refresher
	validator *Validator
	threshold time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	group singleflight.Group

	mu     sync.Mutex
	cached Credentials
	loaded bool
}

// SessionConfig — конфигурация Session.
type SessionConfig struct {
	Store     Store
	Refresher Refresher

	// Validator (опционально; если nil — NewValidator()).
	Validator *Validator

	// RefreshThreshold — порог проактивного refresh (default: 5m).
	RefreshThreshold time.Duration

	// RefreshTimeout — таймаут одного запроса refresh (default: 15s).
	RefreshTimeout time.Duration

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// NewSession создаёт Session.
func NewSession(cfg SessionConfig) *Session {
	validator := cfg.Validator
	if validator == nil {
		validator = NewValidator()
	}

	threshold := cfg.RefreshThreshold
	if threshold <= 0 {
		threshold = DefaultExpiringSoonThreshold
	}

	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore(Credentials{})
	}

	return &Session{
		store:     store,
		refresher: cfg.Refresher,
		validator: validator,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// Validator возвращает Validator сессии.
func (s *Session) Validator() *Validator {
	return s.validator
}

// AccessToken возвращает действующий access-токен.
//
//   - токен валиден и не истекает скоро — возвращается как есть
//   - токен истекает скоро — проактивный refresh; при временной ошибке
//     refresh возвращается ещё действующий токен
//   - токена нет, он некорректен или истёк — refresh обязателен
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	creds, err := s.current(ctx)
	if err != nil {
		return "", err
	}

	claims := s.validator.ValidateSafe(creds.AccessToken)
	if claims != nil && !s.validator.IsExpiringSoon(claims, s.threshold) {
		return creds.AccessToken, nil
	}

	token, err := s.Refresh(ctx)
	if err != nil {
		if claims != nil && !errors.Is(err, ErrUnauthenticated) {
			s.logger.Warn("proactive token refresh failed, using current token",
				"expires_in", s.validator.FormatTimeRemaining(claims),
				"error", err,
			)
			return creds.AccessToken, nil
		}
		return "", err
	}
	return token, nil
}

// Refresh обновляет пару токенов. Конкурентные вызовы разделяют один запрос.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	ch := s.group.DoChan(refreshFlightKey, func() (any, error) {
		// Запрос не должен обрываться из-за отмены контекста первого вызвавшего:
		// его результат ждут и другие.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.doRefresh(refreshCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			s.logger.Debug("token refresh shared between callers")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) doRefresh(ctx context.Context) (string, error) {
	if s.refresher == nil {
		return "", fmt.Errorf("%w: no refresher configured", ErrUnauthenticated)
	}

	creds, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	if creds.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token", ErrUnauthenticated)
	}

	s.logger.Debug("refreshing access token")

	fresh, err := s.refresher.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			s.metrics.TokenRefreshes.WithLabelValues("rejected").Inc()
			s.logger.Warn("refresh token rejected, clearing stored credentials", "error", err)
			if clearErr := s.Clear(ctx); clearErr != nil {
				s.logger.Error("failed to clear credentials", "error", clearErr)
			}
			return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		s.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("refresh token: %w", err)
	}

	if _, err := s.validator.Validate(fresh.AccessToken); err != nil {
		s.metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", fmt.Errorf("refreshed access token is unusable: %w", err)
	}

	// Backend может не ротировать refresh-токен и не присылать данные пользователя
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = creds.RefreshToken
	}
	if len(fresh.User) == 0 {
		fresh.User = creds.User
	}

	if err := s.store.Save(ctx, fresh); err != nil {
		// Токен остаётся в памяти; в хранилище он не попал
		s.logger.Error("failed to persist refreshed credentials", "error", err)
	}

	s.mu.Lock()
	s.cached = fresh
	s.loaded = true
	s.mu.Unlock()

	s.metrics.TokenRefreshes.WithLabelValues("success").Inc()
	s.logger.Info("access token refreshed")

	return fresh.AccessToken, nil
}

// Invalidate помечает текущий access-токен как недействительный
// (например, backend ответил 401). Refresh-токен сохраняется.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached.AccessToken = ""
}

// Save сохраняет новые credentials (вход пользователя).
func (s *Session) Save(ctx context.Context, creds Credentials) error {
	if err := s.store.Save(ctx, creds); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.mu.Lock()
	s.cached = creds
	s.loaded = true
	s.mu.Unlock()
	return nil
}

// Clear удаляет credentials из кэша и хранилища.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = Credentials{}
	s.loaded = true
	s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Status — снимок состояния аутентификации для status API и CLI.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Role          string `json:"role,omitempty"`
	ExpiresIn     string `json:"expires_in,omitempty"`
	ExpiringSoon  bool   `json:"expiring_soon"`
	HasRefresh    bool   `json:"has_refresh_token"`
}

// Status возвращает состояние сессии без сетевых вызовов.
func (s *Session) Status(ctx context.Context) Status {
	creds, err := s.current(ctx)
	if err != nil {
		return Status{}
	}

	st := Status{HasRefresh: creds.RefreshToken != ""}
	claims := s.validator.ValidateSafe(creds.AccessToken)
	if claims == nil {
		return st
	}

	st.Authenticated = true
	st.UserID = UserID(claims)
	st.Role = Role(claims)
	st.ExpiresIn = s.validator.FormatTimeRemaining(claims)
	st.ExpiringSoon = s.validator.IsExpiringSoon(claims, s.threshold)
	return st
}

// current возвращает кэшированные credentials, при первом обращении читая их из Store.
func (s *Session) current(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	if s.loaded {
		creds := s.cached
		s.mu.Unlock()
		if creds.IsEmpty() {
			return Credentials{}, ErrUnauthenticated
		}
		return creds, nil
	}
	s.mu.Unlock()

	creds, err := s.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return Credentials{}, ErrUnauthenticated
		}
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	s.mu.Lock()
	if !s.loaded {
		s.cached = creds
		s.loaded = true
	}
	creds = s.cached
	s.mu.Unlock()

	return creds, nil
}
