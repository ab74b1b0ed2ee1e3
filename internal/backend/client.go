package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/telemetry"
	"github.com/shaiso/marketagent/internal/token"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// pollGrace — запас сверх серверного timeout long-poll.
	pollGrace = 10 * time.Second

	pathPoll     = "/api/agent/tasks/poll"
	pathTasks    = "/api/agent/tasks/"
	pathRefresh  = "/api/auth/refresh"
	maxErrorBody = 4 << 10
)

// --- Request/response types ---

type pollResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type completeRequest struct {
	Result any `json:"result"`
}

type failRequest struct {
	Error string `json:"error"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	User         json.RawMessage `json:"user,omitempty"`
}

// BreakerConfig — настройки circuit breaker.
type BreakerConfig struct {
	// MaxRequests — пробные запросы в состоянии half-open (default: 1).
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Interval — период сброса счётчиков в closed (0 — не сбрасывать).
	Interval time.Duration `mapstructure:"interval"`

	// Timeout — сколько breaker остаётся open (default: 30s).
	Timeout time.Duration `mapstructure:"timeout"`

	// ConsecutiveFailures — порог размыкания (default: 5).
	ConsecutiveFailures uint32 `mapstructure:"consecutive_failures"`
}

// Config — конфигурация Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client

	// RequestTimeout — таймаут обычных запросов (default: 30s).
	RequestTimeout time.Duration

	Breaker BreakerConfig
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Client — клиент backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// NewClient создаёт Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	c := &Client{
		baseURL:    base,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     logger,
		metrics:    metrics,
	}
	c.cb = c.newBreaker(cfg.Breaker)

	return c, nil
}

func (c *Client) newBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	threshold := cfg.ConsecutiveFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.metrics.BreakerState.Set(float64(to))
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// isBreakerSuccess — отказом считаются только проблемы самого backend'а.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrUnauthorized) || errors.Is(err, token.ErrRefreshRejected) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Temporary()
	}
	return false
}

// BreakerState возвращает текущее состояние circuit breaker ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

// --- Tasks ---

// Poll ждёт задачи не дольше timeout (секундная точность на стороне backend).
// Пустой слайс означает, что работы нет.
func (c *Client) Poll(ctx context.Context, accessToken string, timeout time.Duration) ([]domain.Task, error) {
	params := url.Values{}
	params.Set("timeout", strconv.Itoa(int(timeout/time.Second)))

	ctx, cancel := context.WithTimeout(ctx, timeout+pollGrace)
	defer cancel()

	var resp pollResponse
	status, err := c.call(ctx, http.MethodGet, pathPoll+"?"+params.Encode(), accessToken, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("poll tasks: %w", err)
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return resp.Tasks, nil
}

// Complete сообщает об успешном выполнении task.
func (c *Client) Complete(ctx context.Context, accessToken, taskID string, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := pathTasks + url.PathEscape(taskID) + "/complete"
	if _, err := c.call(ctx, http.MethodPost, path, accessToken, completeRequest{Result: result}, nil); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	return nil
}

// Fail сообщает о неудаче task с человекочитаемой причиной.
func (c *Client) Fail(ctx context.Context, accessToken, taskID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	path := pathTasks + url.PathEscape(taskID) + "/fail"
	if _, err := c.call(ctx, http.MethodPost, path, accessToken, failRequest{Error: reason}, nil); err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	return nil
}

// --- Auth ---

// RefreshToken обменивает refresh-токен на новую пару.
// 400/401/403 означают, что refresh-токен отозван или истёк: возвращается token.ErrRefreshRejected.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (token.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp refreshResponse
	_, err := c.call(ctx, http.MethodPost, pathRefresh, "", refreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return token.Credentials{}, fmt.Errorf("%w: %w", token.ErrRefreshRejected, err)
			}
		}
		if errors.Is(err, ErrUnauthorized) {
			return token.Credentials{}, fmt.Errorf("%w: %w", token.ErrRefreshRejected, err)
		}
		return token.Credentials{}, fmt.Errorf("refresh token: %w", err)
	}

	if resp.AccessToken == "" {
		return token.Credentials{}, fmt.Errorf("refresh token: empty access_token in response")
	}

	return token.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	}, nil
}

// --- HTTP helpers ---

// call выполняет запрос через circuit breaker и декодирует JSON-ответ в result.
// Возвращает HTTP-статус успешного ответа.
func (c *Client) call(ctx context.Context, method, path, accessToken string, body, result any) (int, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, method, path, accessToken, body, result)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return 0, err
	}
	return res.(int), nil
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, body, result any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode == http.StatusNoContent || result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// checkError превращает ответ >= 400 в ошибку.
// Понимает {"error":"msg"}, {"error":{"code","message"}} и {"message":"msg"}.
func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var raw struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(data, &raw) != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	apiErr.Message = raw.Message
	if len(raw.Error) > 0 {
		var msg string
		var obj struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(raw.Error, &msg) == nil:
			apiErr.Message = msg
		case json.Unmarshal(raw.Error, &obj) == nil:
			apiErr.Code = obj.Code
			apiErr.Message = obj.Message
		}
	}
	return apiErr
}
