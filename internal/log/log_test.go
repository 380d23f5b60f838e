package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/robfig/cron/v3"
)

var _ cron.Logger = CronLogger()

func capture(t *testing.T, lvl Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(lvl)
	t.Cleanup(func() {
		SetOutput(discard{})
		SetLevel(LevelInfo)
	})
	return &buf
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)
	Debug("hidden")
	Info("hidden")
	Warn("shown", "clipped", 3)
	Error("failed", errors.New("boom"), "op", "flush")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("filtered lines leaked: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown clipped=3") {
		t.Fatalf("missing warn line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom op=flush") {
		t.Fatalf("missing error line: %q", out)
	}
}

func TestFormatKVs(t *testing.T) {
	data := []struct {
		in   []any
		want string
	}{
		{[]any{"a", 1}, " a=1"},
		{[]any{"a", "two words"}, ` a="two words"`},
		{[]any{"a", ""}, ` a=""`},
		{[]any{"a", 1, "dangling"}, " a=1"},
		{[]any{42, "x", "b", true}, " b=true"},
	}
	for i, line := range data {
		if got := formatKVs(line.in...); got != line.want {
			t.Errorf("#%d: formatKVs(%v) = %q, want %q", i, line.in, got, line.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	data := map[string]Level{
		"debug":   LevelDebug,
		" Warn ":  LevelWarn,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range data {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCronLogger(t *testing.T) {
	buf := capture(t, LevelDebug)
	l := CronLogger()
	l.Info("skip", "job", "poll")
	l.Error(errors.New("panic"), "recovered")
	out := buf.String()
	if !strings.Contains(out, "[DEBUG] cron: skip job=poll") {
		t.Fatalf("missing info line: %q", out)
	}
	if !strings.Contains(out, "[ERROR] cron: recovered err=panic") {
		t.Fatalf("missing error line: %q", out)
	}
}
