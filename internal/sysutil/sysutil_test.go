package sysutil

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", tc.in, got, tc.want)
		}
	}
}

func restoreLogging(t *testing.T) {
	t.Helper()
	lvl, logger, ctxLogger := zerolog.GlobalLevel(), log.Logger, zerolog.DefaultContextLogger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = logger
		zerolog.DefaultContextLogger = ctxLogger
	})
}

func TestSetupLogging_JSON(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	SetupLogging(&buf, "warn", false)

	log.Info().Msg("hidden")
	log.Warn().Str("order_id", "o1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line at warn level, got %d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if m["service"] != "loyaltyd" || m["order_id"] != "o1" || m["message"] != "shown" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["time"]; !ok {
		t.Fatalf("missing timestamp: %v", m)
	}

	// loggers looked up from a bare context fall back to the global one
	buf.Reset()
	zerolog.Ctx(context.Background()).Error().Msg("from ctx")
	if !strings.Contains(buf.String(), "from ctx") {
		t.Fatalf("context logger not wired: %q", buf.String())
	}
}

func TestSetupLogging_Pretty(t *testing.T) {
	restoreLogging(t)
	var buf bytes.Buffer
	SetupLogging(&buf, "debug", true)
	log.Debug().Msg("hello")
	out := buf.String()
	if !strings.Contains(out, "hello") || strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func TestSignalContext(t *testing.T) {
	ctx, cancel := SignalContext(context.Background())
	defer cancel()
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := FirstNonEmpty("", " "); got != "" {
		t.Fatalf("got %q", got)
	}
}
