package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := setupLogger(&buf, "INFO", "json")
	WithTaskID(logger, "task-1").Info("task started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["task_id"] != "task-1" {
		t.Errorf("expected task_id attribute, got %v", entry["task_id"])
	}
}

func TestSetupLogger_TextFiltersDebug(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	logger := setupLogger(&buf, "WARN", "text")
	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at WARN level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("warn message should be logged")
	}
}

func TestFromContext(t *testing.T) {
	logger := Discard()
	ctx := WithLogger(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Error("should return logger from context")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Error("should fall back to default logger")
	}
}

func TestNewMetrics_Registry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Polls.WithLabelValues("empty").Inc()
	m.Polls.WithLabelValues("empty").Inc()

	if got := testutil.ToFloat64(m.Polls.WithLabelValues("empty")); got != 2 {
		t.Errorf("expected 2 empty polls, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("metrics should be registered in the given registry")
	}
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	// Два независимых набора не должны конфликтовать при регистрации
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.Tasks.WithLabelValues("SUCCEEDED").Inc()
	b.Tasks.WithLabelValues("SUCCEEDED").Inc()
}
