// Package recovery keeps the session machine honest across process death and
// system sleep: a heartbeat proves liveness, a coarse wake alarm re-runs
// recovery so a lock that elapsed while nothing was running still ends.
package recovery

import (
	"context"
	"time"

	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/focusgate/focusgate/internal/pool"
	"github.com/focusgate/focusgate/internal/session"
	"github.com/focusgate/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds coordinator timing parameters.
type Config struct {
	// HeartbeatInterval is how often liveness is written to the store.
	// Deliberately shorter than typical OS idle-kill windows.
	HeartbeatInterval time.Duration
	// WakeAlarmInterval is the coarse re-recovery period. Every firing
	// re-runs Recover, so a missed timer is repaired within one interval.
	WakeAlarmInterval time.Duration
}

// Coordinator drives heartbeats, wake alarms, and housekeeping gauges.
type Coordinator struct {
	cfg        Config
	store      storage.Store
	machine    *session.Machine
	workerPool *pool.Pool
	log        zerolog.Logger

	nowFn func() time.Time
}

// New creates a Coordinator.
func New(cfg Config, store storage.Store, machine *session.Machine,
	workerPool *pool.Pool, log zerolog.Logger) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	if cfg.WakeAlarmInterval <= 0 {
		cfg.WakeAlarmInterval = time.Minute
	}
	return &Coordinator{
		cfg:        cfg,
		store:      store,
		machine:    machine,
		workerPool: workerPool,
		log:        log,
		nowFn:      time.Now,
	}
}

// Recover delegates to the session machine and stamps a fresh heartbeat.
// Safe to call redundantly; each call converges on the same state.
func (c *Coordinator) Recover(ctx context.Context) error {
	if err := c.machine.Recover(ctx); err != nil {
		return err
	}
	c.beat()
	return nil
}

// Run executes one recovery immediately, then drives the heartbeat and wake
// alarm tickers until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Recover(ctx); err != nil {
		c.log.Error().Err(err).Msg("startup recovery failed")
	}

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	alarm := time.NewTicker(c.cfg.WakeAlarmInterval)
	defer alarm.Stop()

	c.log.Info().Dur("heartbeat", c.cfg.HeartbeatInterval).
		Dur("wake_alarm", c.cfg.WakeAlarmInterval).Msg("recovery coordinator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			c.beat()
		case <-alarm.C:
			// Large gaps since the last heartbeat mean the host slept or
			// the process was frozen; either way Recover is the repair.
			if last, err := c.store.LastHeartbeat(); err == nil && !last.IsZero() {
				if gap := c.nowFn().Sub(last); gap > 2*c.cfg.HeartbeatInterval {
					c.log.Info().Dur("gap", gap).Msg("heartbeat gap detected, likely sleep or freeze")
				}
			}
			if err := c.Recover(ctx); err != nil {
				c.log.Warn().Err(err).Msg("wake alarm recovery failed, will retry")
			}
		}
	}
}

// beat stamps liveness and refreshes the housekeeping gauges.
func (c *Coordinator) beat() {
	if err := c.store.Heartbeat(c.nowFn()); err != nil {
		metrics.HeartbeatTotal.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Msg("heartbeat write failed")
	} else {
		metrics.HeartbeatTotal.WithLabelValues("ok").Inc()
	}

	if size, err := c.store.SizeBytes(); err == nil {
		metrics.StoreSizeBytes.Set(float64(size))
	}
	if c.workerPool != nil {
		metrics.WorkerQueueDepth.Set(float64(c.workerPool.Depth()))
	}
}
