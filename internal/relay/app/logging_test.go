package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLogHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newLogHandler(&buf, "warn", "json"))

	log.Info("dropped")
	log.Warn("kept", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not a single JSON line: %q", buf.String())
	}
	if line["msg"] != "kept" || line["k"] != "v" {
		t.Errorf("line = %v", line)
	}
}

func TestNewLogHandler_Levels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		h := newLogHandler(&bytes.Buffer{}, in, "text")
		if !h.Enabled(context.Background(), want) {
			t.Errorf("%q: level %v should be enabled", in, want)
		}
		if want > slog.LevelDebug && h.Enabled(context.Background(), want-4) {
			t.Errorf("%q: level below %v should be disabled", in, want)
		}
	}
}
