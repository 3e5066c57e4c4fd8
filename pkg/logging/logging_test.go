package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTrimIsRuneSafe(t *testing.T) {
	if got := Trim("  héllo wörld  ", 5); got != "héllo..." {
		t.Fatalf("Trim = %q", got)
	}
	if got := Trim("short", 10); got != "short" {
		t.Fatalf("Trim = %q", got)
	}
}

func TestNewWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veriflow.log")
	l := New(Options{Level: "debug", Format: "json", File: path})
	l.Info("run finished", "status", "accepted")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"status":"accepted"`) || !strings.Contains(line, `"service":"veriflow"`) {
		t.Fatalf("unexpected log line %q", line)
	}
}

func TestSetLoggerIgnoresNil(t *testing.T) {
	custom := Discard()
	SetLogger(custom)
	SetLogger(nil)
	if Logger() != custom {
		t.Fatal("SetLogger(nil) replaced the logger")
	}
}
