package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"debug":   LogLevelDebug,
	} {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("parseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLogger_FormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogLevelWarn, "json")

	logger.Info("hidden")
	logger.Warn("drill reload failed", "path", "/tmp/d.yaml")

	out := strings.TrimSpace(buf.String())
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(out), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", out, err)
	}
	if rec["msg"] != "drill reload failed" || rec["path"] != "/tmp/d.yaml" {
		t.Fatalf("unexpected record %v", rec)
	}

	buf.Reset()
	newLogger(&buf, LogLevelDebug, "text").Debug("tick", "hz", 60)
	if !strings.Contains(buf.String(), "msg=tick") || !strings.Contains(buf.String(), "hz=60") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}
