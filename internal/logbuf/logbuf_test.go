package logbuf

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func entry(seq int, at time.Time) Entry {
	return Entry{Time: at, Level: slog.LevelInfo, Message: fmt.Sprintf("m%d", seq)}
}

func TestBuffer_EvictsOldest(t *testing.T) {
	b := New(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Append(entry(i, base.Add(time.Duration(i)*time.Second)))
	}

	got := b.Tail(0)
	if len(got) != 3 {
		t.Fatalf("buffered %d entries, want 3", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("m%d", i+2)
		if e.Message != want {
			t.Errorf("entry %d = %q, want %q", i, e.Message, want)
		}
	}
}

func TestBuffer_Tail(t *testing.T) {
	b := New(10)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Append(entry(i, base.Add(time.Duration(i)*time.Second)))
	}

	got := b.Tail(2)
	if len(got) != 2 || got[0].Message != "m3" || got[1].Message != "m4" {
		t.Fatalf("tail = %v", got)
	}
	if got := b.Tail(100); len(got) != 5 {
		t.Fatalf("oversized tail returned %d entries, want 5", len(got))
	}
}

func TestBuffer_Since(t *testing.T) {
	b := New(10)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Append(entry(i, base.Add(time.Duration(i)*time.Second)))
	}

	got := b.Since(base.Add(3 * time.Second))
	if len(got) != 2 || got[0].Message != "m3" {
		t.Fatalf("since = %v", got)
	}
	if got := b.Since(base.Add(time.Hour)); len(got) != 0 {
		t.Fatalf("future since returned %d entries", len(got))
	}
}

func TestCaptureHandler_RecordsBelowInnerLevel(t *testing.T) {
	var out bytes.Buffer
	buf := New(16)
	inner := slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewCaptureHandler(inner, buf))

	logger.Debug("quiet detail")
	logger.Warn("loud problem")

	entries := buf.Tail(0)
	if len(entries) != 2 {
		t.Fatalf("captured %d entries, want 2", len(entries))
	}
	if entries[0].Message != "quiet detail" || entries[0].Level != slog.LevelDebug {
		t.Errorf("entry 0 = %+v", entries[0])
	}

	// The inner handler still filters: only the warning reaches output.
	if bytes.Contains(out.Bytes(), []byte("quiet detail")) {
		t.Error("debug record leaked past the inner level filter")
	}
	if !bytes.Contains(out.Bytes(), []byte("loud problem")) {
		t.Error("warning not forwarded to inner handler")
	}
}

func TestCaptureHandler_AttrsAndGroups(t *testing.T) {
	buf := New(16)
	inner := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	logger := slog.New(NewCaptureHandler(inner, buf)).
		With("agent", "builder").
		WithGroup("step")

	logger.Info("working", "name", "implement", "err", errors.New("partial failure"))

	entries := buf.Tail(1)
	if len(entries) != 1 {
		t.Fatalf("captured %d entries", len(entries))
	}
	attrs := entries[0].Attrs
	if attrs["agent"] != "builder" {
		t.Errorf("agent = %v", attrs["agent"])
	}
	if attrs["step.name"] != "implement" {
		t.Errorf("grouped attr = %v, attrs = %v", attrs["step.name"], attrs)
	}
	if attrs["step.err"] != "partial failure" {
		t.Errorf("error attr = %v (%T), want string", attrs["step.err"], attrs["step.err"])
	}
}
