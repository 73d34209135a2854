// Package eventbus implements the engine's publish/subscribe tracer.
//
// Listeners subscribe with optional event-name and monitor-id filters and
// receive matching events synchronously on the publisher's goroutine. A
// panicking listener is isolated and logged; it never takes down a pipeline.
package eventbus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/upwatch/upwatch/internal/stats"
)

// Stable event names published by the engine.
const (
	EventScheduleActiveMonitor    = "SCHEDULE_ACTIVE_MONITOR"
	EventCreateActiveMonitor      = "CREATE_ACTIVE_MONITOR"
	EventRunActiveMonitor         = "RUN_ACTIVE_MONITOR"
	EventActiveMonitorCheckResult = "ACTIVE_MONITOR_CHECK_RESULT"
	EventActiveMonitorStateChange = "ACTIVE_MONITOR_STATE_CHANGE"
	EventDeleteActiveMonitor      = "DELETE_ACTIVE_MONITOR"
)

// Event is one published occurrence. Data holds a snapshot of event-specific
// values; listeners must not mutate it.
type Event struct {
	Name        string         `json:"event"`
	Timestamp   int64          `json:"timestamp"`
	MonitorType string         `json:"monitor_type"`
	MonitorID   int64          `json:"monitor_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// Callback receives matching events. It runs on the publisher's goroutine and
// should return quickly.
type Callback func(ev Event)

// Listener is a registered subscription handle.
type Listener struct {
	id       int64
	callback Callback
	events   map[string]bool // empty means all events
	monitors map[int64]bool  // empty means all monitors
}

// Tracer is the process-wide event bus.
type Tracer struct {
	mu        sync.Mutex
	nextID    int64
	listeners map[int64]*Listener
	logger    *slog.Logger
	stats     *stats.Registry
}

// NewTracer creates an empty tracer.
func NewTracer(logger *slog.Logger, st *stats.Registry) *Tracer {
	return &Tracer{
		listeners: make(map[int64]*Listener),
		logger:    logger.With("component", "eventbus"),
		stats:     st,
	}
}

// Listen registers a callback. Empty filter slices match everything.
func (t *Tracer) Listen(cb Callback, eventFilter []string, monitorFilter []int64) *Listener {
	l := &Listener{
		callback: cb,
		events:   make(map[string]bool, len(eventFilter)),
		monitors: make(map[int64]bool, len(monitorFilter)),
	}
	for _, name := range eventFilter {
		l.events[name] = true
	}
	for _, id := range monitorFilter {
		l.monitors[id] = true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	l.id = t.nextID
	t.listeners[l.id] = l
	t.stats.Set("EVENT", "listeners", float64(len(t.listeners)))
	return l
}

// StopListening removes a listener. Safe to call more than once.
func (t *Tracer) StopListening(l *Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, l.id)
	t.stats.Set("EVENT", "listeners", float64(len(t.listeners)))
}

func (l *Listener) matches(ev Event) bool {
	if len(l.events) > 0 && !l.events[ev.Name] {
		return false
	}
	if len(l.monitors) > 0 && !l.monitors[ev.MonitorID] {
		return false
	}
	return true
}

// Publish delivers an event to every matching listener.
func (t *Tracer) Publish(name string, monitorID int64, data map[string]any) {
	ev := Event{
		Name:        name,
		Timestamp:   time.Now().Unix(),
		MonitorType: "active_monitor",
		MonitorID:   monitorID,
		Data:        data,
	}

	t.mu.Lock()
	matched := make([]*Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		if l.matches(ev) {
			matched = append(matched, l)
		}
	}
	t.mu.Unlock()

	t.stats.Inc("EVENT", "published")
	for _, l := range matched {
		t.deliver(l, ev)
	}
}

func (t *Tracer) deliver(l *Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("event listener panicked", "event", ev.Name, "panic", r)
			t.stats.Inc("EVENT", "listener_panics")
		}
	}()
	l.callback(ev)
}
