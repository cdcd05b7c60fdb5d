package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var jsonBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json", false).Info("session.login.ok", "role", "scientist")
	if !strings.HasPrefix(jsonBuf.String(), "{") || !strings.Contains(jsonBuf.String(), `"role":"scientist"`) {
		t.Fatalf("json output=%q", jsonBuf.String())
	}

	var prettyBuf bytes.Buffer
	log := newLogger(&prettyBuf, "warn", "pretty", false)
	log.Info("dropped")
	log.Warn("session.repair", "token_present", true)
	out := prettyBuf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line leaked past warn level: %q", out)
	}
	if !strings.Contains(out, "lvl=[WARN] msg=session.repair") || !strings.Contains(out, "token_present=true") {
		t.Fatalf("pretty output=%q", out)
	}
	if slog.Default() != log {
		t.Fatalf("newLogger did not install the default logger")
	}
}
