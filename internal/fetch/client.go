package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/telemetry"
)

const (
	defaultTimeout = 30 * time.Second

	// maxResponseBody — ограничение на размер читаемого ответа.
	maxResponseBody = 10 << 20

	// maxErrorBody — сколько байт тела ответа попадает в текст ошибки.
	maxErrorBody = 512

	// HeaderRequestID — заголовок с идентификатором попытки.
	HeaderRequestID = "X-Request-ID"
)

// Config — конфигурация Client.
type Config struct {
	// HTTPClient (опционально; по умолчанию http.Client без общего таймаута:
	// таймаут задаётся на каждую попытку).
	HTTPClient *http.Client

	// Retry — политика по умолчанию для всех вызовов.
	Retry domain.RetryPolicy

	// RetryableStatuses — HTTP-статусы, при которых попытка повторяется.
	RetryableStatuses []int

	// TransientPatterns — фрагменты сообщений временных сетевых ошибок.
	TransientPatterns []string

	// Timeout — таймаут одной попытки (default: 30s).
	Timeout time.Duration

	// Limiter (опционально) — ограничение темпа попыток.
	Limiter *rate.Limiter

	UserAgent string
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// Client — HTTP-клиент с повторами.
type Client struct {
	http       *http.Client
	retry      domain.RetryPolicy
	classifier *Classifier
	timeout    time.Duration
	limiter    *rate.Limiter
	userAgent  string
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// New создаёт Client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}

	return &Client{
		http:       httpClient,
		retry:      cfg.Retry.WithDefaults(),
		classifier: NewClassifier(cfg.RetryableStatuses, cfg.TransientPatterns),
		timeout:    timeout,
		limiter:    cfg.Limiter,
		userAgent:  cfg.UserAgent,
		logger:     logger,
		metrics:    metrics,
	}
}

// Options — параметры одного вызова.
type Options struct {
	// Method — HTTP-метод (пустой = GET).
	Method string

	Header http.Header
	Body   []byte

	// Retry переопределяет политику клиента для этого вызова.
	Retry *domain.RetryPolicy

	// Timeout переопределяет таймаут одной попытки.
	Timeout time.Duration
}

// Result — итог логического вызова.
type Result struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte

	// Attempts — сколько попыток понадобилось.
	Attempts int

	// TotalTime — полное время, включая ожидание между попытками.
	TotalTime time.Duration
}

// OK возвращает true для 2xx/3xx.
func (r *Result) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 400
}

// JSON декодирует тело ответа в v.
func (r *Result) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryableError помечает попытку, которую стоит повторить.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Fetch выполняет HTTP-вызов с повторами.
//
// Возвращает:
//   - (*Result, nil) — ответ 2xx/3xx
//   - (*Result, *domain.HTTPStatusError) — терминальный статус, без повторов
//   - (nil, *domain.NetworkError) — все попытки исчерпаны
//   - (nil, *domain.UnexpectedError) — детерминированная ошибка
func (c *Client) Fetch(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	policy := c.retry
	if opts.Retry != nil {
		policy = opts.Retry.WithDefaults()
	}
	return c.do(ctx, rawURL, opts, policy)
}

// FetchOnce выполняет ровно одну попытку без повторов.
func (c *Client) FetchOnce(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	policy := c.retry
	policy.MaxRetries = 0
	return c.do(ctx, rawURL, opts, policy)
}

// Get выполняет GET.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Result, error) {
	return c.Fetch(ctx, rawURL, Options{Method: http.MethodGet, Header: header})
}

// Post сериализует body в JSON и выполняет POST.
func (c *Client) Post(ctx context.Context, rawURL string, body any, header http.Header) (*Result, error) {
	return c.sendJSON(ctx, http.MethodPost, rawURL, body, header)
}

// Put сериализует body в JSON и выполняет PUT.
func (c *Client) Put(ctx context.Context, rawURL string, body any, header http.Header) (*Result, error) {
	return c.sendJSON(ctx, http.MethodPut, rawURL, body, header)
}

// Delete выполняет DELETE.
func (c *Client) Delete(ctx context.Context, rawURL string, header http.Header) (*Result, error) {
	return c.Fetch(ctx, rawURL, Options{Method: http.MethodDelete, Header: header})
}

// Ping проверяет доступность URL запросом HEAD. Любая ошибка даёт false.
func (c *Client) Ping(ctx context.Context, rawURL string) bool {
	res, err := c.FetchOnce(ctx, rawURL, Options{Method: http.MethodHead})
	return err == nil && res.OK()
}

func (c *Client) sendJSON(ctx context.Context, method, rawURL string, body any, header http.Header) (*Result, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, &domain.UnexpectedError{Op: "encode body", Cause: err}
		}
	}

	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")

	return c.Fetch(ctx, rawURL, Options{Method: method, Header: h, Body: data})
}

func (c *Client) do(ctx context.Context, rawURL string, opts Options, policy domain.RetryPolicy) (*Result, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	if err := checkURL(rawURL); err != nil {
		c.metrics.FetchAttempts.WithLabelValues("terminal").Inc()
		return nil, &domain.UnexpectedError{Op: "fetch", Cause: err}
	}

	start := time.Now()
	var (
		attempts int
		result   *Result
		lastErr  error
		terminal error
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(policy.MaxAttempts())),
		retry.DelayType(func(_ uint, _ error, _ retry.DelayContext) time.Duration {
			return policy.Delay(attempts - 1)
		}),
		retry.RetryIf(func(err error) bool {
			var re *retryableError
			return errors.As(err, &re)
		}),
	)

	// Ошибка retry-go не используется: итог определяется по attempts/lastErr/terminal.
	_ = r.Do(func() error {
		attempts++
		res, retryable, err := c.attempt(ctx, method, rawURL, opts)
		result = res

		switch {
		case err == nil:
			lastErr = nil
			c.metrics.FetchAttempts.WithLabelValues("success").Inc()
			return nil

		case retryable:
			lastErr = err
			c.metrics.FetchAttempts.WithLabelValues("retryable").Inc()
			if attempts < policy.MaxAttempts() {
				c.logger.Debug("fetch attempt failed, retrying",
					"method", method,
					"url", redact(rawURL),
					"attempt", attempts,
					"delay", policy.Delay(attempts-1),
					"error", err,
				)
			}
			return &retryableError{err: err}

		default:
			terminal = err
			c.metrics.FetchAttempts.WithLabelValues("terminal").Inc()
			return err
		}
	})

	elapsed := time.Since(start)
	c.metrics.FetchDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	if result != nil {
		result.Attempts = attempts
		result.TotalTime = elapsed
	}

	switch {
	case terminal != nil:
		return result, terminal
	case lastErr == nil && result != nil:
		return result, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("fetch interrupted after %d attempts: %w", attempts, ctx.Err())
	default:
		c.logger.Warn("fetch failed, retries exhausted",
			"method", method,
			"url", redact(rawURL),
			"attempts", attempts,
			"error", lastErr,
		)
		return nil, &domain.NetworkError{Attempts: attempts, Cause: lastErr}
	}
}

// attempt выполняет одну попытку. Возвращает результат (если ответ получен),
// признак retryable и ошибку.
func (c *Client) attempt(ctx context.Context, method, rawURL string, opts Options) (*Result, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, false, fmt.Errorf("rate limiter: %w", err)
		}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, body)
	if err != nil {
		return nil, false, &domain.UnexpectedError{Op: "build request", Cause: err}
	}

	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get(HeaderRequestID) == "" {
		req.Header.Set(HeaderRequestID, uuid.NewString())
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		retryable, classified := c.classifyTransport(ctx, timeout, err)
		return nil, retryable, classified
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		retryable, classified := c.classifyTransport(ctx, timeout, err)
		return nil, retryable, classified
	}

	res := &Result{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       data,
	}

	if res.OK() {
		return res, false, nil
	}

	statusErr := &domain.HTTPStatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       truncate(string(data), maxErrorBody),
	}
	return res, c.classifier.IsRetryableStatus(resp.StatusCode), statusErr
}

// classifyTransport превращает ошибку транспорта в ошибку таксономии.
func (c *Client) classifyTransport(ctx context.Context, timeout time.Duration, err error) (bool, error) {
	// Отмена вызывающим — не повторяем
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return true, &domain.TimeoutError{After: timeout, Cause: err}
	}

	if c.classifier.IsTransient(err) {
		return true, err
	}

	return false, &domain.UnexpectedError{Op: "send request", Cause: err}
}

// checkURL отсекает URL, запрос по которым заведомо невозможен.
func checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported protocol scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

// redact убирает query и userinfo из URL для логов.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
