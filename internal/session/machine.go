// Package session owns the focus session state machine: whether access
// restriction is active and whether it is irrevocably locked for a duration.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/focusgate/focusgate/internal/notify"
	"github.com/focusgate/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Status is the session state.
type Status string

const (
	StatusOff    Status = "off"
	StatusActive Status = "active"
	StatusLocked Status = "locked"
)

// ErrSessionLocked is returned by Stop when a hard lock is still live.
// The session is unchanged; no retry will succeed before the lock expires.
var ErrSessionLocked = errors.New("session: locked, cannot stop before expiry")

// Installer abstracts the rule synthesizer.
type Installer interface {
	Install(ctx context.Context, deny []string) error
	Clear(ctx context.Context) error
}

// StatusInfo is the pure read result of Query.
type StatusInfo struct {
	Status      Status `json:"status"`
	Locked      bool   `json:"locked"`
	RemainingMs int64  `json:"remainingMs"`
}

// Config holds state machine parameters.
type Config struct {
	// MinDuration is the floor applied to Start requests. Shorter requests
	// are clamped up, not rejected.
	MinDuration time.Duration
}

// Machine is the session state machine. Constructed once per process start;
// all durable truth lives in the store, the in-memory copy is rebuilt by
// Recover after every revival.
type Machine struct {
	cfg      Config
	store    storage.Store
	install  Installer
	notifier *notify.Broker
	log      zerolog.Logger

	mu        sync.Mutex
	status    Status
	startedAt time.Time
	lockUntil time.Time
	duration  time.Duration
	timer     *time.Timer
	gen       uint64 // invalidates callbacks from replaced timers

	nowFn   func() time.Time
	afterFn func(d time.Duration, f func()) *time.Timer
}

// New constructs a Machine in the Off state. Call Recover to adopt
// persisted state.
func New(cfg Config, store storage.Store, install Installer, notifier *notify.Broker, log zerolog.Logger) *Machine {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 5 * time.Minute
	}
	return &Machine{
		cfg:      cfg,
		store:    store,
		install:  install,
		notifier: notifier,
		log:      log,
		status:   StatusOff,
		nowFn:    time.Now,
		afterFn:  time.AfterFunc,
	}
}

// Start begins a session. Durations below the configured floor are clamped
// up to it rather than refused. Calling Start while a session is already
// running replaces it: the old auto-stop timer is cleared before the new
// one is armed, so no stale callback can fire.
func (m *Machine) Start(ctx context.Context, durationMinutes int, hard bool) error {
	duration := time.Duration(durationMinutes) * time.Minute
	if duration < m.cfg.MinDuration {
		duration = m.cfg.MinDuration
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	from := m.status

	rec := storage.SessionRecord{
		Status:     storage.StatusActive,
		StartedAt:  now,
		DurationMs: duration.Milliseconds(),
	}
	if hard {
		rec.Status = storage.StatusLocked
		rec.LockUntil = now.Add(duration)
	}
	if err := m.store.SetSession(rec); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	m.clearTimerLocked()
	m.status = StatusActive
	if hard {
		m.status = StatusLocked
	}
	m.startedAt = now
	m.duration = duration
	m.lockUntil = rec.LockUntil
	m.armTimerLocked(duration)

	metrics.SessionTransitions.WithLabelValues(string(from), string(m.status), "start").Inc()
	m.log.Info().Str("status", string(m.status)).Dur("duration", duration).
		Bool("hard", hard).Msg("session started")

	m.installLocked(ctx)
	m.publishLocked()
	return nil
}

// Stop ends the session. While a hard lock is live, only force=true is
// honoured; force is reserved for the internal expiry callback and for
// recovery detecting an already-elapsed lock. A refused stop leaves the
// session unchanged.
func (m *Machine) Stop(ctx context.Context, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx, force, "stop")
}

func (m *Machine) stopLocked(ctx context.Context, force bool, trigger string) error {
	if m.status == StatusOff {
		return nil
	}
	now := m.nowFn()
	if m.status == StatusLocked && now.Before(m.lockUntil) && !force {
		metrics.StopRefused.Inc()
		m.log.Info().Time("lock_until", m.lockUntil).Msg("stop refused: lock is live")
		return ErrSessionLocked
	}

	if err := m.store.SetSession(storage.SessionRecord{Status: storage.StatusOff}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	from := m.status
	m.clearTimerLocked()
	m.status = StatusOff
	m.startedAt = time.Time{}
	m.lockUntil = time.Time{}
	m.duration = 0

	metrics.SessionTransitions.WithLabelValues(string(from), string(StatusOff), trigger).Inc()
	m.log.Info().Str("from", string(from)).Str("trigger", trigger).Msg("session stopped")

	if err := m.install.Clear(ctx); err != nil {
		// Transient: recovery or the next sync pass re-clears.
		m.log.Warn().Err(err).Msg("rule clear failed, will retry on next pass")
	}
	m.publishLocked()
	return nil
}

// Query returns the current status. Pure read, never mutates. Soft sessions
// report no lock countdown.
func (m *Machine) Query() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := StatusInfo{Status: m.status}
	if m.status == StatusLocked {
		info.Locked = true
		if remaining := m.lockUntil.Sub(m.nowFn()); remaining > 0 {
			info.RemainingMs = remaining.Milliseconds()
		}
	}
	return info
}

// Reinstall re-runs the synthesizer for the current state: the live deny
// list while a session runs, an empty set otherwise. Idempotent; called by
// recovery and by the sync pass after a deny-list change.
func (m *Machine) Reinstall(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusOff {
		if err := m.install.Clear(ctx); err != nil {
			m.log.Warn().Err(err).Msg("rule clear failed, will retry on next pass")
		}
		return
	}
	m.installLocked(ctx)
}

// Recover rebuilds the in-memory state from the durable store. Called on
// every process start and on every wake alarm; safe to call redundantly and
// concurrently with itself. An already-elapsed lock is resolved here — the
// expected case when the process was dead while the timer should have fired
// — and is not an error.
func (m *Machine) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.GetSession()
	if err != nil {
		metrics.RecoverRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("load session: %w", err)
	}

	if rec == nil || rec.Status == storage.StatusOff {
		metrics.RecoverRuns.WithLabelValues("off").Inc()
		m.clearTimerLocked()
		m.status = StatusOff
		m.startedAt = time.Time{}
		m.lockUntil = time.Time{}
		if err := m.install.Clear(ctx); err != nil {
			m.log.Warn().Err(err).Msg("rule clear failed, will retry on next pass")
		}
		return nil
	}

	now := m.nowFn()
	end := rec.StartedAt.Add(time.Duration(rec.DurationMs) * time.Millisecond)
	if rec.Status == storage.StatusLocked {
		end = rec.LockUntil
	}

	// Adopt the persisted state, then decide whether its window already
	// closed while the process was down.
	m.clearTimerLocked()
	m.status = StatusActive
	if rec.Status == storage.StatusLocked {
		m.status = StatusLocked
	}
	m.startedAt = rec.StartedAt
	m.lockUntil = rec.LockUntil
	m.duration = time.Duration(rec.DurationMs) * time.Millisecond

	if !now.Before(end) {
		metrics.RecoverRuns.WithLabelValues("expired").Inc()
		m.log.Info().Time("ended", end).Msg("recover: session window already elapsed")
		return m.stopLocked(ctx, true, "recover")
	}

	remaining := end.Sub(now)
	m.armTimerLocked(remaining)
	m.installLocked(ctx)
	metrics.RecoverRuns.WithLabelValues("rearmed").Inc()
	m.log.Info().Str("status", string(m.status)).Dur("remaining", remaining).
		Msg("recover: session window still open, timer rearmed")
	return nil
}

// installLocked re-synthesizes rules from the durable deny list. A failure
// is transient: logged and left for the next recovery or sync pass.
func (m *Machine) installLocked(ctx context.Context) {
	deny, err := m.store.DenyList()
	if err != nil {
		m.log.Warn().Err(err).Msg("load deny list failed, rules not installed")
		return
	}
	if err := m.install.Install(ctx, deny); err != nil {
		m.log.Warn().Err(err).Msg("rule install failed, will retry on next pass")
	}
}

// armTimerLocked arms the single deferred auto-stop. The generation counter
// keeps a callback from a replaced timer from stopping a newer session.
func (m *Machine) armTimerLocked(d time.Duration) {
	m.gen++
	gen := m.gen
	m.timer = m.afterFn(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen || m.status == StatusOff {
			return
		}
		if err := m.stopLocked(context.Background(), true, "auto_stop"); err != nil {
			m.log.Error().Err(err).Msg("auto-stop failed")
		}
	})
}

func (m *Machine) clearTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) publishLocked() {
	if m.notifier == nil {
		return
	}
	info := StatusInfo{Status: m.status}
	if m.status == StatusLocked {
		info.Locked = true
		if remaining := m.lockUntil.Sub(m.nowFn()); remaining > 0 {
			info.RemainingMs = remaining.Milliseconds()
		}
	}
	m.notifier.Publish(notify.EventSession, info)
}
