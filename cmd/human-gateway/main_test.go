// ABOUTME: Tests for CLI helpers in the human-gateway entry point
// ABOUTME: Covers logger setup, colorized handler output and payload summaries

package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/2389/human-gateway/internal/config"
)

func TestSetupLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "request_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &rec); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out, err)
	}
	if rec["msg"] != "shown" || rec["request_id"] != "abc" {
		t.Errorf("unexpected record %v", rec)
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "broker").WithGroup("req").Debug("settled", "id", "r1")

	out := buf.String()
	for _, want := range []string{"DBG ", "settled", "component=broker", "req.id=r1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected newline-terminated line, got %q", out)
	}
}

func TestColorHandlerLevel(t *testing.T) {
	h := &colorHandler{level: slog.LevelWarn}
	if h.Enabled(t.Context(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(t.Context(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"question":"Dinner?"}`, "Dinner?"},
		{`{"query":"release notes"}`, "release notes"},
		{`{"decision_needed":"ship?","options":["yes","no"]}`, "ship?"},
		{`{"other":1}`, `{"other":1}`},
		{`not json`, `not json`},
	}
	for _, tt := range tests {
		if got := summarize(json.RawMessage(tt.payload)); got != tt.want {
			t.Errorf("summarize(%s) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
