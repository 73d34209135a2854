// Package monitor is the core of upwatch: it keeps monitor definitions and
// active monitors in memory, schedules service checks, runs the check
// outcome pipeline and drives state transitions, alerts and notifications.
//
// Definitions and monitors live both in memory and in the database, so every
// mutation updates both.
package monitor

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/upwatch/upwatch/internal/contact"
	"github.com/upwatch/upwatch/internal/database"
	"github.com/upwatch/upwatch/internal/eventbus"
	"github.com/upwatch/upwatch/internal/metadata"
	"github.com/upwatch/upwatch/internal/nagios"
	"github.com/upwatch/upwatch/internal/notify"
	"github.com/upwatch/upwatch/internal/stats"
)

const (
	// DefaultInterval is the base check interval.
	DefaultInterval = 180 * time.Second

	// DownThreshold is the consecutive-DOWN count needed before a monitor
	// leaves UP. Counting starts at zero, so a UP monitor needs four DOWN
	// observations in a row to go DOWN.
	DownThreshold = 3

	// UnknownThreshold is the consecutive-UNKNOWN count needed before a
	// monitor goes UNKNOWN.
	UnknownThreshold = 5

	// PluginTimeout is the hard limit for one check execution.
	PluginTimeout = 30 * time.Second

	failsafeInterval = 600 * time.Second
	immediateDelay   = 5 * time.Second
)

// runPluginFunc matches nagios.Run; tests substitute their own.
type runPluginFunc func(ctx context.Context, executable string, args []string, timeout time.Duration) (string, []string, error)

// Manager owns the definition and monitor registries and the scheduler.
type Manager struct {
	db       *database.DB
	notifier *notify.Manager
	contacts *contact.Store
	meta     *metadata.Store
	tracer   *eventbus.Tracer
	stats    *stats.Registry
	logger   *slog.Logger
	cache    *TemplateCache
	debug    bool

	sem       *semaphore.Weighted
	runPlugin runPluginFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	defs     map[int64]*Def
	monitors map[int64]*Monitor
	failsafe *time.Timer
}

// NewManager wires the engine together. maxConcurrentJobs bounds the number
// of simultaneously running pipelines; checks hitting the cap are deferred,
// not queued. In debug mode all monitors start immediately instead of being
// spread over the default interval.
func NewManager(db *database.DB, notifier *notify.Manager, contacts *contact.Store,
	meta *metadata.Store, tracer *eventbus.Tracer, st *stats.Registry,
	logger *slog.Logger, maxConcurrentJobs int, debug bool) *Manager {

	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 200
	}
	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		db:        db,
		notifier:  notifier,
		contacts:  contacts,
		meta:      meta,
		tracer:    tracer,
		stats:     st,
		logger:    logger.With("component", "monitor"),
		cache:     NewTemplateCache(),
		debug:     debug,
		sem:       semaphore.NewWeighted(int64(maxConcurrentJobs)),
		runPlugin: nagios.Run,
		ctx:       ctx,
		cancel:    cancel,
		defs:      make(map[int64]*Def),
		monitors:  make(map[int64]*Monitor),
	}
	if debug {
		mgr.logger.Debug("debug mode active, all monitors will be started immediately")
	}
	for _, counter := range []string{
		"total_jobs_run", "cur_running_jobs", "num_monitors", "jobs_deferred",
		"checks_up", "checks_down", "checks_unknown",
	} {
		st.Set("ACT_MON", counter, 0)
	}
	return mgr
}

// Initialize purges previously deleted monitors and loads definitions and
// monitors from the database. Must be called before StartAll.
func (mgr *Manager) Initialize(ctx context.Context) error {
	if err := mgr.purgeDeletedMonitors(ctx); err != nil {
		return err
	}
	if err := mgr.loadDefs(ctx); err != nil {
		return err
	}
	return mgr.loadMonitors(ctx)
}

// StartAll schedules an initial check for every monitor, spread over the
// default interval, and arms the failsafe sweep.
func (mgr *Manager) StartAll() {
	mgr.mu.Lock()
	monitors := make([]*Monitor, 0, len(mgr.monitors))
	for _, m := range mgr.monitors {
		monitors = append(monitors, m)
	}
	mgr.mu.Unlock()

	for _, m := range monitors {
		delay := time.Duration(0)
		if !mgr.debug {
			delay = time.Duration(1+rand.Intn(int(DefaultInterval.Seconds()))) * time.Second
		}
		mgr.schedule(m, delay)
	}
	mgr.armFailsafe()
}

// Stop cancels in-flight pipelines and pending timers and waits for running
// dispatches to finish.
func (mgr *Manager) Stop() {
	mgr.cancel()
	mgr.mu.Lock()
	if mgr.failsafe != nil {
		mgr.failsafe.Stop()
	}
	for _, m := range mgr.monitors {
		m.mu.Lock()
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()
	}
	mgr.mu.Unlock()
	mgr.wg.Wait()
}

// armFailsafe periodically verifies that no live monitor is missing a
// scheduled check. It should never find one; it exists to catch scheduling
// bugs rather than let a monitor silently stop being checked.
func (mgr *Manager) armFailsafe() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.failsafe = time.AfterFunc(failsafeInterval, func() {
		if mgr.ctx.Err() != nil {
			return
		}
		mgr.checkMissingSchedules()
		mgr.armFailsafe()
	})
}

func (mgr *Manager) checkMissingSchedules() {
	mgr.logger.Debug("running monitor missing schedule check")
	mgr.mu.Lock()
	monitors := make([]*Monitor, 0, len(mgr.monitors))
	for _, m := range mgr.monitors {
		monitors = append(monitors, m)
	}
	mgr.mu.Unlock()

	for _, m := range monitors {
		m.mu.Lock()
		missing := !m.deleted && !m.monitoring && m.timer == nil
		m.mu.Unlock()
		if missing {
			mgr.logger.Warn("monitor is missing a scheduled job, scheduling now", "monitor_id", m.ID)
			mgr.schedule(m, DefaultInterval)
		}
	}
}

// schedule arms (or re-arms) the single pending check for a monitor.
func (mgr *Manager) schedule(m *Monitor, delay time.Duration) {
	mgr.logger.Debug("scheduling monitor", "monitor_id", m.ID, "delay", delay)
	id := m.ID
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(delay, func() { mgr.dispatch(id) })
	m.mu.Unlock()
	mgr.publishMonitorEvent(eventbus.EventScheduleActiveMonitor, m, map[string]any{
		"interval": int64(delay.Seconds()),
	})
}

// dispatch is the top-level supervisor for one pipeline run: it enforces the
// concurrency cap and guarantees the monitor ends up rescheduled no matter
// how the run fails.
func (mgr *Manager) dispatch(id int64) {
	if mgr.ctx.Err() != nil {
		return
	}
	mgr.mu.Lock()
	m := mgr.monitors[id]
	mgr.mu.Unlock()
	if m == nil {
		mgr.logger.Debug("skipping scheduled job for missing monitor", "monitor_id", id)
		return
	}
	m.mu.Lock()
	m.timer = nil
	m.mu.Unlock()

	if !mgr.sem.TryAcquire(1) {
		mgr.logger.Info("deferred monitor due to too many running jobs", "monitor_id", id)
		mgr.stats.Inc("ACT_MON", "jobs_deferred")
		mgr.schedule(m, time.Duration(10+rand.Intn(21))*time.Second)
		return
	}

	mgr.wg.Add(1)
	mgr.stats.Inc("ACT_MON", "total_jobs_run")
	mgr.stats.Inc("ACT_MON", "cur_running_jobs")
	defer func() {
		mgr.sem.Release(1)
		mgr.stats.Dec("ACT_MON", "cur_running_jobs")
		mgr.wg.Done()
		if r := recover(); r != nil {
			mgr.logger.Error("monitor run panicked", "monitor_id", id, "panic", r)
			mgr.rescheduleIfIdle(m)
		}
	}()

	if err := m.run(mgr.ctx); err != nil {
		mgr.logger.Error("monitor run raised error", "monitor_id", id, "error", err)
		mgr.rescheduleIfIdle(m)
	}
}

// rescheduleIfIdle re-arms a monitor at the default interval unless a
// pending check already exists.
func (mgr *Manager) rescheduleIfIdle(m *Monitor) {
	m.mu.Lock()
	hasTimer := m.timer != nil
	deleted := m.deleted
	m.mu.Unlock()
	if !hasTimer && !deleted {
		mgr.schedule(m, DefaultInterval)
	}
}

// GetMonitor returns a monitor by id, or nil.
func (mgr *Manager) GetMonitor(id int64) *Monitor {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.monitors[id]
}

// ListMonitors returns all live monitors.
func (mgr *Manager) ListMonitors() []*Monitor {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	out := make([]*Monitor, 0, len(mgr.monitors))
	for _, m := range mgr.monitors {
		out = append(out, m)
	}
	return out
}

// Alert is one persisted down interval. EndTS is zero while the alert is
// still open.
type Alert struct {
	ID        int64  `json:"id"`
	MonitorID int64  `json:"monitor_id"`
	StartTS   int64  `json:"start_ts"`
	EndTS     int64  `json:"end_ts"`
	Msg       string `json:"alert_msg"`
}

// GetAlerts returns the alert history for one monitor.
func (mgr *Manager) GetAlerts(ctx context.Context, monitorID int64) ([]Alert, error) {
	var out []Alert
	err := mgr.db.FetchAll(ctx,
		`select id, monitor_id, start_ts, end_ts, alert_msg from active_monitor_alerts
		where monitor_id = $1 order by start_ts`,
		func(rows *sql.Rows) error {
			var a Alert
			if err := rows.Scan(&a.ID, &a.MonitorID, &a.StartTS, &a.EndTS, &a.Msg); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		}, monitorID)
	return out, err
}

func (mgr *Manager) publishMonitorEvent(name string, m *Monitor, extra map[string]any) {
	data := make(map[string]any, len(extra)+1)
	if desc, err := m.Description(); err == nil {
		data["monitor_description"] = desc
	}
	for k, v := range extra {
		data[k] = v
	}
	mgr.tracer.Publish(name, m.ID, data)
}

// purgeDeletedMonitors removes all rows belonging to monitors that were
// marked deleted while a check was in flight. Runs once at startup.
func (mgr *Manager) purgeDeletedMonitors(ctx context.Context) error {
	mgr.logger.Info("purging all deleted active monitors")
	var ids []int64
	err := mgr.db.FetchAll(ctx,
		`select id from active_monitors where deleted = true`,
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := mgr.purgeMonitorRows(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// purgeMonitorRows removes all traces of a monitor from the database.
func (mgr *Manager) purgeMonitorRows(ctx context.Context, id int64) error {
	return mgr.db.ExecuteBatch(ctx, []database.Stmt{
		{Query: `delete from active_monitors where id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_args where monitor_id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_alerts where monitor_id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_contacts where active_monitor_id = $1`, Args: []any{id}},
		{Query: `delete from active_monitor_contact_groups where active_monitor_id = $1`, Args: []any{id}},
		{Query: `delete from monitor_group_active_monitors where active_monitor_id = $1`, Args: []any{id}},
		{Query: `delete from object_metadata where object_type = 'active_monitor' and object_id = $1`, Args: []any{id}},
		{Query: `delete from object_bindata where object_type = 'active_monitor' and object_id = $1`, Args: []any{id}},
	})
}

// loadMonitors reads all monitors and their arguments into memory.
func (mgr *Manager) loadMonitors(ctx context.Context) error {
	loaded := make(map[int64]*Monitor)
	err := mgr.db.FetchAll(ctx,
		`select id, def_id, state, state_ts, msg, alert_id, checks_enabled, alerts_enabled
		from active_monitors`,
		func(rows *sql.Rows) error {
			var (
				id, defID, stateTS          int64
				state, msg                  string
				alertID                     sql.NullInt64
				checksEnabled, alertsEnabled bool
			)
			if err := rows.Scan(&id, &defID, &state, &stateTS, &msg, &alertID,
				&checksEnabled, &alertsEnabled); err != nil {
				return err
			}
			def, ok := mgr.defs[defID]
			if !ok {
				mgr.logger.Warn("skipping monitor with unknown def", "monitor_id", id, "def_id", defID)
				return nil
			}
			m := newMonitor(mgr, id, def, make(map[string]string), state, stateTS, msg,
				alertID.Int64, checksEnabled, alertsEnabled)
			loaded[id] = m
			return nil
		})
	if err != nil {
		return err
	}

	err = mgr.db.FetchAll(ctx,
		`select monitor_id, name, value from active_monitor_args`,
		func(rows *sql.Rows) error {
			var monitorID int64
			var name, value string
			if err := rows.Scan(&monitorID, &name, &value); err != nil {
				return err
			}
			if m, ok := loaded[monitorID]; ok {
				m.args[name] = value
			}
			return nil
		})
	if err != nil {
		return err
	}

	mgr.mu.Lock()
	mgr.monitors = loaded
	mgr.mu.Unlock()
	mgr.stats.Set("ACT_MON", "num_monitors", float64(len(loaded)))
	mgr.logger.Info("loaded active monitors", "count", len(loaded))
	return nil
}
