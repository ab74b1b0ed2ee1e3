package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shaiso/marketagent/internal/api"
	"github.com/shaiso/marketagent/internal/config"
	"github.com/shaiso/marketagent/internal/domain"
	"github.com/shaiso/marketagent/internal/fetch"
	"github.com/shaiso/marketagent/internal/guard"
	"github.com/shaiso/marketagent/internal/mq"
	"github.com/shaiso/marketagent/internal/repo"
	"github.com/shaiso/marketagent/internal/scheduler"
	"github.com/shaiso/marketagent/internal/telemetry"
	"github.com/shaiso/marketagent/internal/token"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(raw) + ".signature"
}

// execute запускает корневую команду и возвращает stdout и stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	root := NewRootCmd("test")
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// --- check ---

func TestParseInstruction(t *testing.T) {
	plain, err := ParseInstruction([]byte(`{"url":"https://www.vinted.fr/api/items","method":"post"}`))
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if plain.URL != "https://www.vinted.fr/api/items" || plain.EffectiveMethod() != "POST" {
		t.Errorf("plain = %+v", plain)
	}

	task, err := ParseInstruction([]byte(`{"id":"t-1","instruction":{"url":"https://ebay.fr/x"}}`))
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if task.URL != "https://ebay.fr/x" || task.EffectiveMethod() != "GET" {
		t.Errorf("task = %+v", task)
	}

	if _, err := ParseInstruction([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

func TestCheck(t *testing.T) {
	v := guard.NewDefault()

	ok := Check(v, domain.Instruction{URL: "https://www.vinted.fr/api/v2/items"})
	if !ok.Accepted || ok.Rule != "" || ok.Method != "GET" {
		t.Errorf("accepted = %+v", ok)
	}

	bad := Check(v, domain.Instruction{URL: "http://www.vinted.fr/api/v2/items"})
	if bad.Accepted || bad.Rule != guard.RuleProtocol || !strings.HasPrefix(bad.Reason, guard.MsgProtocol) {
		t.Errorf("rejected = %+v", bad)
	}

	evil := Check(v, domain.Instruction{URL: "https://evil.example.com/"})
	if evil.Accepted || evil.Rule != guard.RuleDomain {
		t.Errorf("rejected = %+v", evil)
	}
}

func TestCheckCmd(t *testing.T) {
	accepted := writeFile(t, "ok.json", `{"url":"https://www.vinted.fr/api/v2/items","method":"GET"}`)
	stdout, _, err := execute(t, "check", accepted, "--json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	var res CheckResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if !res.Accepted {
		t.Errorf("res = %+v", res)
	}

	rejected := writeFile(t, "bad.json", `{"url":"https://www.vinted.fr/x","method":"CONNECT"}`)
	stdout, _, err = execute(t, "check", rejected)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(stdout, guard.RuleMethod) {
		t.Errorf("table output should name the rule:\n%s", stdout)
	}
}

func TestCheckCmd_MissingFile(t *testing.T) {
	_, _, err := execute(t, "check", filepath.Join(t.TempDir(), "missing.json"))
	if err == nil || !strings.Contains(err.Error(), "missing.json") {
		t.Errorf("err = %v", err)
	}
}

// --- token ---

func TestInspectToken(t *testing.T) {
	v := token.NewValidator(token.WithClock(func() time.Time { return fixedNow }))

	valid := makeToken(t, map[string]any{"user_id": "u-42", "role": "seller", "exp": fixedNow.Add(12*time.Minute + 5*time.Second).Unix()})
	info, err := InspectToken(v, valid)
	if err != nil {
		t.Fatalf("InspectToken: %v", err)
	}
	if !info.Valid || info.UserID != "u-42" || info.Role != "seller" || info.Remaining != "12m 5s" {
		t.Errorf("info = %+v", info)
	}
	if !info.ExpiresAt.Equal(fixedNow.Add(12*time.Minute + 5*time.Second)) {
		t.Errorf("expires_at = %v", info.ExpiresAt)
	}

	expired := makeToken(t, map[string]any{"user_id": "u-42", "exp": fixedNow.Add(-time.Minute).Unix()})
	info, err = InspectToken(v, expired)
	if err != nil {
		t.Fatalf("InspectToken expired: %v", err)
	}
	if info.Valid || info.Error != token.MsgExpired || info.Remaining != token.MsgExpiredShort {
		t.Errorf("expired info = %+v", info)
	}

	if _, err := InspectToken(v, "a.!!!.c"); err == nil {
		t.Error("expected decode error")
	}
}

func TestTokenInspectCmd(t *testing.T) {
	tok := makeToken(t, map[string]any{"user_id": "u-7", "exp": time.Now().Add(time.Hour).Unix()})

	stdout, _, err := execute(t, "token", "inspect", tok, "--json")
	if err != nil {
		t.Fatalf("token inspect: %v", err)
	}
	var info TokenInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.UserID != "u-7" || !info.Valid {
		t.Errorf("info = %+v", info)
	}
}

func TestSeedStore(t *testing.T) {
	ctx := context.Background()

	empty := token.NewMemoryStore(token.Credentials{})
	if err := seedStore(ctx, empty, config.TokenConfig{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	creds, err := empty.Load(ctx)
	if err != nil || creds.AccessToken != "a" || creds.RefreshToken != "r" {
		t.Errorf("seeded = %+v (%v)", creds, err)
	}

	existing := token.NewMemoryStore(token.Credentials{AccessToken: "kept"})
	if err := seedStore(ctx, existing, config.TokenConfig{AccessToken: "new"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if creds, _ := existing.Load(ctx); creds.AccessToken != "kept" {
		t.Errorf("existing credentials overwritten: %+v", creds)
	}
}

func TestOpenStore_Memory(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), &config.Config{Token: config.TokenConfig{Store: config.StoreMemory}})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeFn()

	if _, err := store.Load(context.Background()); !errors.Is(err, token.ErrNoCredentials) {
		t.Errorf("fresh memory store Load = %v", err)
	}
}

func TestNewApp_RequiresBackend(t *testing.T) {
	_, err := NewApp(context.Background(), &config.Config{}, telemetry.Discard())
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

// --- ping ---

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := fetch.New(fetch.Config{Logger: telemetry.Discard()})

	up := Ping(context.Background(), client, domain.Instruction{URL: srv.URL, Method: http.MethodHead}, false)
	if !up.Reachable || up.StatusCode != http.StatusOK || up.Attempts != 1 || up.Error != "" {
		t.Errorf("up = %+v", up)
	}

	down := Ping(context.Background(), client, domain.Instruction{URL: srv.URL + "/missing"}, true)
	if down.Reachable || down.StatusCode != http.StatusNotFound || down.Error == "" {
		t.Errorf("down = %+v", down)
	}

	broken := Ping(context.Background(), client, domain.Instruction{URL: "ftp://example.com"}, false)
	if broken.Reachable || broken.Error == "" {
		t.Errorf("broken = %+v", broken)
	}
}

func TestPingCmd_GuardRejects(t *testing.T) {
	_, _, err := execute(t, "ping", "http://127.0.0.1:1/")
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}
}

// --- status API client ---

type stubOutcomes struct{ items []domain.Outcome }

func (s stubOutcomes) ListRecent(context.Context, int) ([]domain.Outcome, error) {
	return s.items, nil
}

func (s stubOutcomes) GetLatest(context.Context, string) (*domain.Outcome, error) {
	return nil, repo.ErrNotFound
}

func newStatusServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := api.NewHandler(api.Config{
		Scheduler: scheduler.New(scheduler.DefaultConfig()),
		Outcomes: stubOutcomes{items: []domain.Outcome{
			{TaskID: "t-1", Status: domain.TaskStatusSucceeded, Attempts: 2, Duration: 1500 * time.Millisecond},
			{TaskID: "t-2", Status: domain.TaskStatusRejected, Kind: domain.KindValidation, Error: guard.MsgDomain},
		}},
		Gatherer: prometheus.NewRegistry(),
		Logger:   telemetry.Discard(),
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Status(t *testing.T) {
	srv := newStatusServer(t)

	st, err := NewClient(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Scheduler.CurrentIntervalMs != 5000 || st.Uptime == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestClient_Outcomes(t *testing.T) {
	srv := newStatusServer(t)

	outcomes, err := NewClient(srv.URL).ListOutcomes(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOutcomes: %v", err)
	}
	if len(outcomes) != 2 || outcomes[1].Kind != domain.KindValidation {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := newStatusServer(t)

	err := NewClient(srv.URL).Poll(context.Background())
	if err == nil || !strings.Contains(err.Error(), string(api.ErrCodeNotFound)) {
		t.Errorf("err = %v", err)
	}
}

func TestOutcomesCmd(t *testing.T) {
	srv := newStatusServer(t)

	stdout, _, err := execute(t, "outcomes", "--status-url", srv.URL)
	if err != nil {
		t.Fatalf("outcomes: %v", err)
	}
	for _, want := range []string{"TASK", "t-1", "SUCCEEDED", "1.5s", "t-2", "REJECTED", guard.MsgDomain} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}
}

func TestStatusCmd_Unreachable(t *testing.T) {
	_, _, err := execute(t, "status", "--status-url", "http://127.0.0.1:1")
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("err = %v", err)
	}
}

// --- events ---

func TestPrintOutcomeEvent(t *testing.T) {
	var stdout, stderr bytes.Buffer
	handler := PrintOutcomeEvent(NewOutputTo(&stdout, &stderr, false))

	payload, _ := json.Marshal(domain.Outcome{TaskID: "t-9", Status: domain.TaskStatusFailed, Kind: domain.KindNetwork, Attempts: 4})
	if err := handler(context.Background(), &mq.Event{ID: "e-1", Type: mq.EventTaskOutcome, Payload: payload}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if line := stdout.String(); !strings.Contains(line, "t-9\tFAILED\tnetwork\t4") {
		t.Errorf("line = %q", line)
	}

	stdout.Reset()
	if err := handler(context.Background(), &mq.Event{ID: "e-2", Type: "agent.started"}); err != nil || stdout.Len() != 0 {
		t.Errorf("foreign event should be skipped: %v %q", err, stdout.String())
	}

	if err := handler(context.Background(), &mq.Event{ID: "e-3", Type: mq.EventTaskOutcome, Payload: json.RawMessage(`[]`)}); err != nil {
		t.Errorf("broken payload should not be requeued: %v", err)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestOutput_Table(t *testing.T) {
	var stdout bytes.Buffer
	out := NewOutputTo(&stdout, &bytes.Buffer{}, false)
	out.Print([]string{"ID", "STATUS"}, [][]string{{"t-1", "SUCCEEDED"}}, nil)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "--") || !strings.Contains(lines[2], "SUCCEEDED") {
		t.Errorf("table = %q", stdout.String())
	}
}
