package log

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentStore, Writer: &buf})

	logger.Info("recipient added", FieldRecipientID, "abc")
	out := buf.String()
	if !strings.Contains(out, "component=store") || !strings.Contains(out, "recipient_id=abc") {
		t.Fatalf("unexpected output: %q", out)
	}

	buf.Reset()
	logger.WithComponent(ComponentBus).Debug("delivered")
	out = buf.String()
	if !strings.Contains(out, "component=bus") || strings.Count(out, "component=") != 1 {
		t.Fatalf("expected a single bus component, got %q", out)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Format: "json", Writer: &buf}).Warn("slot unreadable")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"component":"app"`) {
		t.Fatalf("expected JSON record, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"nope":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogFieldsToSlice(t *testing.T) {
	fields := NewFields().
		WithOperation(OpAdd).
		WithRecipient("id-1", "Aiman", 1000).
		WithError(errors.New("boom"))

	got := fields.ToSlice()
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d: %v", len(got), got)
	}
	if got[0] != FieldAmountCents {
		t.Fatalf("expected keys sorted, first key %v", got[0])
	}
	if NewFields().WithError(nil)[FieldError] != nil {
		t.Fatal("nil error should not be recorded")
	}
}
