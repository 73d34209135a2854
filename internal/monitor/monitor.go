package monitor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/upwatch/upwatch/internal/eventbus"
	"github.com/upwatch/upwatch/internal/nagios"
	"github.com/upwatch/upwatch/internal/notify"
)

// Monitor states.
const (
	StateUp      = "UP"
	StateDown    = "DOWN"
	StateUnknown = "UNKNOWN"
)

// msgMaxLen caps stored check messages.
const msgMaxLen = 199

// Monitor is one active monitor instance.
type Monitor struct {
	ID  int64
	mgr *Manager

	// def is fixed for the lifetime of the monitor; its fields are guarded
	// by the manager mutex.
	def    *Def
	logger *slog.Logger

	mu                sync.Mutex
	args              map[string]string
	state             string
	stateTS           int64
	msg               string
	alertID           int64 // 0 means no open alert
	lastCheckState    string
	consecutiveChecks int
	lastCheck         time.Time
	monitoring        bool
	deleted           bool
	checksEnabled     bool
	alertsEnabled     bool
	pendingReset      bool
	timer             *time.Timer
}

func newMonitor(mgr *Manager, id int64, def *Def, args map[string]string, state string,
	stateTS int64, msg string, alertID int64, checksEnabled, alertsEnabled bool) *Monitor {

	if stateTS == 0 {
		stateTS = time.Now().Unix()
	}
	return &Monitor{
		ID:            id,
		mgr:           mgr,
		def:           def,
		logger:        mgr.logger.With("monitor_id", id),
		args:          args,
		state:         state,
		stateTS:       stateTS,
		msg:           msg,
		alertID:       alertID,
		lastCheck:     time.Now(),
		checksEnabled: checksEnabled,
		alertsEnabled: alertsEnabled,
	}
}

func (m *Monitor) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("<ActiveMonitor(%d/%s/%s)>", m.ID, m.state, m.lastCheckState)
}

// Snapshot is a consistent copy of a monitor's mutable state for callers
// outside the engine.
type Snapshot struct {
	ID            int64             `json:"id"`
	DefID         int64             `json:"def_id"`
	State         string            `json:"state"`
	StateTS       int64             `json:"state_ts"`
	Msg           string            `json:"msg"`
	AlertID       int64             `json:"alert_id,omitempty"`
	ChecksEnabled bool              `json:"checks_enabled"`
	AlertsEnabled bool              `json:"alerts_enabled"`
	Args          map[string]string `json:"args"`
	Description   string            `json:"monitor_description"`
}

// Snapshot returns a copy of the monitor's current state.
func (m *Monitor) Snapshot() Snapshot {
	desc, _ := m.Description()
	m.mu.Lock()
	defer m.mu.Unlock()
	args := make(map[string]string, len(m.args))
	for k, v := range m.args {
		args[k] = v
	}
	return Snapshot{
		ID:            m.ID,
		DefID:         m.def.ID,
		State:         m.state,
		StateTS:       m.stateTS,
		Msg:           m.msg,
		AlertID:       m.alertID,
		ChecksEnabled: m.checksEnabled,
		AlertsEnabled: m.alertsEnabled,
		Args:          args,
		Description:   desc,
	}
}

// ExpandedArgs returns the monitor's argv, from the template cache when
// possible.
func (m *Monitor) ExpandedArgs() ([]string, error) {
	return m.mgr.cache.Argv(m.ID, func() ([]string, error) {
		m.mgr.mu.Lock()
		defer m.mgr.mu.Unlock()
		m.mu.Lock()
		args := m.args
		m.mu.Unlock()
		return m.def.ExpandArgs(args)
	})
}

// Description returns the monitor's rendered description, from the template
// cache when possible.
func (m *Monitor) Description() (string, error) {
	return m.mgr.cache.Description(m.ID, func() (string, error) {
		m.mgr.mu.Lock()
		defer m.mgr.mu.Unlock()
		m.mu.Lock()
		args := m.args
		m.mu.Unlock()
		return m.def.ExpandDescription(args)
	})
}

func (m *Monitor) executable() string {
	m.mgr.mu.Lock()
	defer m.mgr.mu.Unlock()
	return m.def.CmdlineFilename
}

// CreateMonitor validates the arguments against the definition schema,
// persists the monitor and schedules its first check immediately.
func (mgr *Manager) CreateMonitor(ctx context.Context, defID int64, args map[string]string) (*Monitor, error) {
	def, err := mgr.GetDef(defID)
	if err != nil {
		return nil, err
	}
	mgr.mu.Lock()
	err = def.ValidateArgs(args, false)
	mgr.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var id int64
	err = mgr.db.Transact(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`insert into active_monitors (def_id, state, state_ts, msg)
			values ($1, $2, $3, $4) returning id`,
			defID, StateUnknown, 0, "").Scan(&id); err != nil {
			return err
		}
		for name, value := range args {
			if _, err := tx.ExecContext(ctx,
				`insert into active_monitor_args (monitor_id, name, value) values ($1, $2, $3)`,
				id, name, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := newMonitor(mgr, id, def, args, StateUnknown, 0, "", 0, true, true)
	mgr.mu.Lock()
	mgr.monitors[id] = m
	mgr.mu.Unlock()
	mgr.stats.Inc("ACT_MON", "num_monitors")
	mgr.logger.Info("created active monitor", "monitor_id", id, "def_id", defID)
	mgr.publishMonitorEvent(eventbus.EventCreateActiveMonitor, m, nil)
	mgr.schedule(m, 0)
	return m, nil
}

// run executes one pipeline pass. Overlapping runs and runs on deleted
// monitors are no-ops.
func (m *Monitor) run(ctx context.Context) error {
	m.mu.Lock()
	if m.deleted || m.monitoring {
		m.mu.Unlock()
		return nil
	}
	m.monitoring = true
	m.lastCheck = time.Now()
	m.mu.Unlock()

	err := m.pipeline(ctx)

	m.mu.Lock()
	m.monitoring = false
	deleted := m.deleted
	m.mu.Unlock()

	if err == nil && deleted {
		if perr := m.purge(ctx); perr != nil {
			return perr
		}
	}
	return err
}

func (m *Monitor) pipeline(ctx context.Context) error {
	m.mu.Lock()
	pendingReset := m.pendingReset
	m.mu.Unlock()
	if pendingReset {
		if err := m.reset(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	checksEnabled := m.checksEnabled
	m.mu.Unlock()
	if !checksEnabled {
		m.logger.Debug("skipping monitor check, disabled")
		m.mgr.schedule(m, DefaultInterval)
		return nil
	}

	argv, err := m.ExpandedArgs()
	if err != nil {
		return err
	}
	executable := m.executable()
	m.logger.Debug("monitoring", "executable", executable, "args", argv)
	m.mgr.publishMonitorEvent(eventbus.EventRunActiveMonitor, m, nil)

	text, _, runErr := m.mgr.runPlugin(ctx, executable, argv, PluginTimeout)

	var checkState, msg string
	var failedErr *nagios.MonitorFailedError
	switch {
	case runErr == nil:
		checkState = StateUp
		msg = text
	case errors.As(runErr, &failedErr):
		checkState = StateDown
		msg = failedErr.Text
		m.logger.Debug("monitoring failed", "msg", msg)
	default:
		checkState = StateUnknown
		msg = runErr.Error()
		m.logger.Debug("monitoring unknown error", "error", runErr)
	}
	msg = truncateMsg(msg)

	m.mu.Lock()
	m.msg = msg
	if checkState == m.lastCheckState {
		m.consecutiveChecks++
	} else {
		m.consecutiveChecks = 0
	}
	m.lastCheckState = checkState
	consecutive := m.consecutiveChecks
	state := m.state
	m.mu.Unlock()

	m.mgr.publishMonitorEvent(eventbus.EventActiveMonitorCheckResult, m, map[string]any{
		"check_state": checkState,
		"msg":         msg,
	})

	if err := m.handleCheckResult(ctx, checkState, state, consecutive, msg); err != nil {
		return err
	}
	m.logger.Debug("monitoring complete")
	return nil
}

// handleCheckResult applies the hysteresis state machine: immediate
// transitions for recovery and UNKNOWN→DOWN, threshold-gated transitions
// out of UP, and shortened retry intervals while a transition is pending.
func (m *Monitor) handleCheckResult(ctx context.Context, checkState, state string, consecutive int, msg string) error {
	switch {
	case checkState == StateUp && state == StateUp:
		// Jitter the interval to spread check times out.
		jitter := time.Duration(rand.Intn(11)-5) * time.Second
		m.mgr.schedule(m, DefaultInterval+jitter)
		m.mgr.stats.Inc("ACT_MON", "checks_up")

	case checkState == StateUp:
		m.mgr.schedule(m, DefaultInterval)
		if err := m.stateChange(ctx, StateUp, msg); err != nil {
			return err
		}
		m.mgr.stats.Inc("ACT_MON", "checks_up")

	case checkState == StateDown && state == StateDown:
		m.mgr.schedule(m, DefaultInterval)
		m.mgr.stats.Inc("ACT_MON", "checks_down")

	case checkState == StateDown && state == StateUnknown:
		if err := m.stateChange(ctx, StateDown, msg); err != nil {
			return err
		}
		m.mgr.schedule(m, DefaultInterval)
		m.mgr.stats.Inc("ACT_MON", "checks_down")

	case checkState == StateDown:
		if consecutive >= DownThreshold {
			if err := m.stateChange(ctx, StateDown, msg); err != nil {
				return err
			}
			m.mgr.schedule(m, DefaultInterval)
		} else {
			m.mgr.schedule(m, 30*time.Second)
		}
		m.mgr.stats.Inc("ACT_MON", "checks_down")

	case checkState == StateUnknown && state == StateUnknown:
		m.mgr.schedule(m, DefaultInterval)
		m.mgr.stats.Inc("ACT_MON", "checks_unknown")

	default: // UNKNOWN result, known state
		if consecutive >= UnknownThreshold {
			if err := m.stateChange(ctx, StateUnknown, msg); err != nil {
				return err
			}
			m.mgr.schedule(m, DefaultInterval)
		} else {
			m.mgr.schedule(m, 120*time.Second)
		}
		m.mgr.stats.Inc("ACT_MON", "checks_unknown")
	}
	return nil
}

// stateChange commits a state transition: it updates the monitor row and the
// alert interval table in one transaction, then notifies contacts for
// DOWN transitions and DOWN→UP recoveries.
func (m *Monitor) stateChange(ctx context.Context, newState, msg string) error {
	m.mu.Lock()
	prevState := m.state
	prevStateTS := m.stateTS
	m.state = newState
	m.stateTS = time.Now().Unix()
	m.msg = msg
	m.mu.Unlock()

	m.logger.Info("monitor changed state", "new_state", newState, "msg", msg)

	var err error
	switch newState {
	case StateDown:
		if err = m.setDown(ctx); err == nil {
			m.notifyStateChange(prevState, prevStateTS)
		}
	case StateUp:
		if err = m.setUp(ctx); err == nil && prevState == StateDown {
			m.notifyStateChange(prevState, prevStateTS)
		}
	default:
		err = m.saveState(ctx)
	}
	if err != nil {
		return err
	}

	m.mgr.publishMonitorEvent(eventbus.EventActiveMonitorStateChange, m, map[string]any{
		"new_state": newState,
	})
	return nil
}

// setDown opens a new alert interval and saves the monitor state, in one
// transaction.
func (m *Monitor) setDown(ctx context.Context) error {
	m.mu.Lock()
	stateTS := m.stateTS
	msg := m.msg
	m.mu.Unlock()

	var alertID int64
	err := m.mgr.db.Transact(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`insert into active_monitor_alerts (monitor_id, start_ts, end_ts, alert_msg)
			values ($1, $2, 0, $3) returning id`,
			m.ID, stateTS, msg).Scan(&alertID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`update active_monitors set state = $1, state_ts = $2, msg = $3, alert_id = $4 where id = $5`,
			StateDown, stateTS, msg, alertID, m.ID)
		return err
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.alertID = alertID
	m.mu.Unlock()
	return nil
}

// setUp closes the open alert interval (if any) and saves the monitor
// state, in one transaction.
func (m *Monitor) setUp(ctx context.Context) error {
	m.mu.Lock()
	stateTS := m.stateTS
	msg := m.msg
	alertID := m.alertID
	state := m.state
	m.mu.Unlock()

	err := m.mgr.db.Transact(ctx, func(tx *sql.Tx) error {
		if alertID != 0 {
			if _, err := tx.ExecContext(ctx,
				`update active_monitor_alerts set end_ts = $1 where id = $2`,
				stateTS, alertID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`update active_monitors set state = $1, state_ts = $2, msg = $3, alert_id = null where id = $4`,
			state, stateTS, msg, m.ID)
		return err
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.alertID = 0
	m.mu.Unlock()
	return nil
}

// saveState writes the monitor row without touching alerts.
func (m *Monitor) saveState(ctx context.Context) error {
	m.mu.Lock()
	state := m.state
	stateTS := m.stateTS
	msg := m.msg
	alertID := m.alertID
	m.mu.Unlock()

	var alertVal any
	if alertID != 0 {
		alertVal = alertID
	}
	_, err := m.mgr.db.Execute(ctx,
		`update active_monitors set state = $1, state_ts = $2, msg = $3, alert_id = $4 where id = $5`,
		state, stateTS, msg, alertVal, m.ID)
	return err
}

// notifyStateChange fans out a notification for a committed transition.
// Delivery runs on its own goroutine so monitoring never waits for it.
func (m *Monitor) notifyStateChange(prevState string, prevStateTS int64) {
	m.mu.Lock()
	alertsEnabled := m.alertsEnabled
	state := m.state
	stateTS := m.stateTS
	msg := m.msg
	m.mu.Unlock()

	if !alertsEnabled {
		m.logger.Debug("skipping alert notifications, disabled")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		recipients, err := m.mgr.contacts.RecipientsForActiveMonitor(ctx, m.ID)
		if err != nil {
			m.logger.Error("failed to load notification recipients", "error", err)
			return
		}
		meta, err := m.mgr.meta.Get(ctx, "active_monitor", m.ID)
		if err != nil {
			m.logger.Error("failed to load monitor metadata", "error", err)
			meta = nil
		}

		tmplData := make(map[string]string, len(meta)+7)
		for key, value := range meta {
			tmplData["meta_"+key] = value
		}
		if prevStateTS != 0 && stateTS > prevStateTS {
			tmplData["state_elapsed"] = notify.DisplayDuration(stateTS - prevStateTS)
		}
		tmplData["state"] = state
		tmplData["prev_state"] = prevState
		tmplData["type"] = "active_monitor"
		tmplData["id"] = strconv.FormatInt(m.ID, 10)
		if desc, err := m.Description(); err == nil {
			tmplData["monitor_description"] = desc
		}
		tmplData["msg"] = msg

		m.mgr.notifier.SendNotification(ctx, recipients.Emails, recipients.Phones, tmplData)
	}()
}

// Delete removes the monitor. If a check is in flight the monitor is marked
// deleted and purged when the run completes; otherwise it is purged
// immediately.
func (m *Monitor) Delete(ctx context.Context) error {
	m.mu.Lock()
	if m.deleted {
		m.mu.Unlock()
		return nil
	}
	m.deleted = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	monitoring := m.monitoring
	m.mu.Unlock()

	m.logger.Info("deleting monitor")
	m.mgr.mu.Lock()
	delete(m.mgr.monitors, m.ID)
	m.mgr.mu.Unlock()

	m.mgr.publishMonitorEvent(eventbus.EventDeleteActiveMonitor, m, nil)

	if monitoring {
		_, err := m.mgr.db.Execute(ctx,
			`update active_monitors set deleted = true where id = $1`, m.ID)
		return err
	}
	return m.purge(ctx)
}

// purge removes the monitor's rows from every table.
func (m *Monitor) purge(ctx context.Context) error {
	m.logger.Info("purging deleted monitor")
	m.mgr.stats.Dec("ACT_MON", "num_monitors")
	m.mgr.cache.Flush(m.ID)
	return m.mgr.purgeMonitorRows(ctx, m.ID)
}

// UpdateArgs replaces the monitor's arguments and flushes its cached
// template expansions.
func (m *Monitor) UpdateArgs(ctx context.Context, args map[string]string) error {
	m.mgr.mu.Lock()
	err := m.def.ValidateArgs(args, false)
	m.mgr.mu.Unlock()
	if err != nil {
		return err
	}

	m.logger.Info("updating monitor arguments")
	err = m.mgr.db.Transact(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`delete from active_monitor_args where monitor_id = $1`, m.ID); err != nil {
			return err
		}
		for name, value := range args {
			if _, err := tx.ExecContext(ctx,
				`insert into active_monitor_args (monitor_id, name, value) values ($1, $2, $3)`,
				m.ID, name, value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.args = args
	m.mu.Unlock()
	m.mgr.cache.Flush(m.ID)
	return nil
}

// SetChecksEnabled toggles checking. Disabling resets the monitor to
// UNKNOWN; both directions force a prompt re-check so the change takes
// effect quickly.
func (m *Monitor) SetChecksEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if m.checksEnabled == enabled {
		m.mu.Unlock()
		return nil
	}
	m.checksEnabled = enabled
	m.mu.Unlock()

	m.logger.Debug("setting monitor checks", "enabled", enabled)
	if !enabled {
		if err := m.reset(ctx); err != nil {
			return err
		}
	}
	m.ScheduleImmediately()
	_, err := m.mgr.db.Execute(ctx,
		`update active_monitors set checks_enabled = $1 where id = $2`, enabled, m.ID)
	return err
}

// SetAlertsEnabled toggles notification sending.
func (m *Monitor) SetAlertsEnabled(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	if m.alertsEnabled == enabled {
		m.mu.Unlock()
		return nil
	}
	m.alertsEnabled = enabled
	m.mu.Unlock()

	m.logger.Debug("setting monitor alerts", "enabled", enabled)
	_, err := m.mgr.db.Execute(ctx,
		`update active_monitors set alerts_enabled = $1 where id = $2`, enabled, m.ID)
	return err
}

// ScheduleImmediately requests a check as soon as possible.
func (m *Monitor) ScheduleImmediately() {
	m.mu.Lock()
	idle := !m.monitoring && !m.deleted
	m.mu.Unlock()
	if idle {
		m.logger.Info("forcing immediate check by request")
		m.mgr.schedule(m, immediateDelay)
	}
}

// reset returns the monitor to its initial UNKNOWN state, closing any open
// alert. If a check is in flight the reset is deferred to the start of that
// run's completion.
func (m *Monitor) reset(ctx context.Context) error {
	m.mu.Lock()
	if m.monitoring {
		m.pendingReset = true
		m.mu.Unlock()
		return nil
	}
	m.pendingReset = false
	m.state = StateUnknown
	m.stateTS = time.Now().Unix()
	m.msg = ""
	m.consecutiveChecks = 0
	stateTS := m.stateTS
	alertID := m.alertID
	m.mu.Unlock()

	err := m.mgr.db.Transact(ctx, func(tx *sql.Tx) error {
		if alertID != 0 {
			if _, err := tx.ExecContext(ctx,
				`update active_monitor_alerts set end_ts = $1 where id = $2`,
				stateTS, alertID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			`update active_monitors set state = $1, state_ts = $2, msg = '', alert_id = null where id = $3`,
			StateUnknown, stateTS, m.ID)
		return err
	})
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.alertID = 0
	m.mu.Unlock()
	return nil
}

func truncateMsg(msg string) string {
	runes := []rune(msg)
	if len(runes) > msgMaxLen {
		return string(runes[:msgMaxLen])
	}
	return msg
}
