package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/marketagent/internal/api"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/scheduler"
)

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

// --- Client ---

// Client — HTTP-клиент status API запущенного агента.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для status API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 90 * time.Second, // poll может ждать long-poll backend'а
		},
	}
}

// Status возвращает состояние агента.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/status", &st)
	return &st, err
}

// Poll запускает внеочередной poll cycle.
func (c *Client) Poll(ctx context.Context) error {
	return c.doData(ctx, http.MethodPost, "/api/v1/poll", nil)
}

// ResetScheduler сбрасывает интервал poll к минимуму.
func (c *Client) ResetScheduler(ctx context.Context) (*scheduler.Stats, error) {
	var st scheduler.Stats
	err := c.doData(ctx, http.MethodPost, "/api/v1/scheduler/reset", &st)
	return &st, err
}

// ListOutcomes возвращает последние итоги задач.
func (c *Client) ListOutcomes(ctx context.Context, limit int) ([]domain.Outcome, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/outcomes?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return nil, err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var outcomes []domain.Outcome
	if err := json.Unmarshal(lr.Data, &outcomes); err != nil {
		return nil, fmt.Errorf("failed to decode outcomes: %w", err)
	}
	return outcomes, nil
}

// --- HTTP helpers ---

func (c *Client) doData(ctx context.Context, method, path string, result any) error {
	resp, err := c.do(ctx, method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent status API unreachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
