package log

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type captureLogger struct {
	events []Event
}

func (c *captureLogger) Log(e Event) { c.events = append(c.events, e) }

func sampleEvent(stage Stage, instrument string) Event {
	return Event{
		Timestamp:  time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		CompileID:  "b1946ac9-2b7a-4a54-9c2e-000000000001",
		Stage:      stage,
		Category:   CategoryPulse,
		Instrument: instrument,
		Pulse:      "read[1]",
		Connection: "awg.ch1 -> chip.gate",
		Target: &TargetEvent{
			Kind:     "DC",
			TStart:   1e-3,
			Duration: 2e-3,
		},
	}
}

func TestEventRoundTrip(t *testing.T) {
	want := sampleEvent(StageTarget, "awg")

	data, err := EncodeEvent(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.CompileID != want.CompileID {
		t.Errorf("compile id = %q, want %q", got.CompileID, want.CompileID)
	}
	if got.Stage != want.Stage || got.Category != want.Category {
		t.Errorf("stage/category = %v/%v, want %v/%v", got.Stage, got.Category, want.Stage, want.Category)
	}
	if got.Pulse != want.Pulse || got.Instrument != want.Instrument {
		t.Errorf("pulse/instrument = %q/%q", got.Pulse, got.Instrument)
	}
	if got.Target == nil || *got.Target != *want.Target {
		t.Errorf("target payload = %+v, want %+v", got.Target, want.Target)
	}
	if got.Trigger != nil || got.Error != nil {
		t.Error("unset payloads should stay nil")
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compile.trace")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	logger.Log(sampleEvent(StageTarget, "awg"))
	logger.Log(sampleEvent(StageSetup, "pulseblaster"))
	logger.Log(sampleEvent(StageStart, "digitizer"))
	if err := logger.Err(); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	// Logging after close is silently ignored.
	logger.Log(sampleEvent(StageStop, "awg"))
	if err := logger.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	wantStages := []Stage{StageTarget, StageSetup, StageStart}
	for i, want := range wantStages {
		event, err := reader.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if event.Stage != want {
			t.Errorf("event %d stage = %v, want %v", i, event.Stage, want)
		}
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compile.trace")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	logger.Log(sampleEvent(StageTarget, "awg"))
	logger.Log(sampleEvent(StageTarget, "pulseblaster"))
	logger.Log(sampleEvent(StageSetup, "awg"))
	if err := logger.Close(); err != nil {
		t.Fatalf("close logger: %v", err)
	}

	stage := StageTarget
	reader, err := NewFilteredReader(path, Filter{Stage: &stage, Instrument: "awg"})
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	event, err := reader.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if event.Instrument != "awg" || event.Stage != StageTarget {
		t.Errorf("got %s/%v, want awg/TARGET", event.Instrument, event.Stage)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected EOF after the single match, got %v", err)
	}
}

func TestFilterTimeWindow(t *testing.T) {
	base := sampleEvent(StageTarget, "awg")
	start := base.Timestamp.Add(-time.Second)
	end := base.Timestamp.Add(time.Second)

	f := Filter{TimeStart: &start, TimeEnd: &end}
	if !f.matches(base) {
		t.Error("event inside the window should match")
	}

	late := end.Add(time.Minute)
	f = Filter{TimeEnd: &late, TimeStart: &late}
	if f.matches(base) {
		t.Error("event before the window should not match")
	}
}

func TestMultiLogger(t *testing.T) {
	a := &captureLogger{}
	b := &captureLogger{}
	m := NewMultiLogger(a, b)

	m.Log(sampleEvent(StageTarget, "awg"))
	m.Log(sampleEvent(StageStop, "awg"))

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Errorf("fanout counts = %d/%d, want 2/2", len(a.events), len(b.events))
	}
	if a.events[1].Stage != StageStop {
		t.Errorf("stage = %v, want STOP", a.events[1].Stage)
	}
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	adapter := NewSlogAdapter(slog.New(handler))

	adapter.Log(sampleEvent(StageTarget, "awg"))

	out := buf.String()
	for _, want := range []string{"compile", "stage=TARGET", "instrument=awg", "kind=DC"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(Event{}) // must not panic
}
