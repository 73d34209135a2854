package eventbus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/upwatch/upwatch/internal/stats"
)

func newTestTracer() *Tracer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracer(logger, stats.NewRegistry())
}

func TestPublishUnfiltered(t *testing.T) {
	tr := newTestTracer()
	var got []Event
	tr.Listen(func(ev Event) { got = append(got, ev) }, nil, nil)

	tr.Publish(EventRunActiveMonitor, 1, nil)
	tr.Publish(EventActiveMonitorStateChange, 2, map[string]any{"new_state": "DOWN"})

	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Name != EventRunActiveMonitor || got[0].MonitorID != 1 {
		t.Errorf("first event = %+v", got[0])
	}
	if got[1].MonitorType != "active_monitor" {
		t.Errorf("monitor_type = %q", got[1].MonitorType)
	}
	if got[1].Data["new_state"] != "DOWN" {
		t.Errorf("data = %v", got[1].Data)
	}
}

func TestEventFilter(t *testing.T) {
	tr := newTestTracer()
	var got []string
	tr.Listen(func(ev Event) { got = append(got, ev.Name) },
		[]string{EventActiveMonitorStateChange}, nil)

	tr.Publish(EventRunActiveMonitor, 1, nil)
	tr.Publish(EventActiveMonitorStateChange, 1, nil)
	tr.Publish(EventScheduleActiveMonitor, 1, nil)

	if len(got) != 1 || got[0] != EventActiveMonitorStateChange {
		t.Errorf("got %v, want only state change", got)
	}
}

func TestMonitorFilter(t *testing.T) {
	tr := newTestTracer()
	var got []int64
	tr.Listen(func(ev Event) { got = append(got, ev.MonitorID) }, nil, []int64{7, 9})

	for _, id := range []int64{6, 7, 8, 9} {
		tr.Publish(EventRunActiveMonitor, id, nil)
	}

	if len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Errorf("got %v, want [7 9]", got)
	}
}

func TestStopListening(t *testing.T) {
	tr := newTestTracer()
	count := 0
	l := tr.Listen(func(ev Event) { count++ }, nil, nil)

	tr.Publish(EventRunActiveMonitor, 1, nil)
	tr.StopListening(l)
	tr.Publish(EventRunActiveMonitor, 1, nil)
	// Stopping twice must be harmless.
	tr.StopListening(l)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestPanickingListenerIsIsolated(t *testing.T) {
	tr := newTestTracer()
	received := false
	tr.Listen(func(ev Event) { panic("boom") }, nil, nil)
	tr.Listen(func(ev Event) { received = true }, nil, nil)

	tr.Publish(EventRunActiveMonitor, 1, nil)

	if !received {
		t.Error("second listener did not receive the event after first panicked")
	}
}
