// Package tracker accumulates foreground time per domain in memory and
// periodically flushes it into durable per-day buckets.
package tracker

import (
	"context"
	"time"

	"github.com/focusgate/focusgate/internal/category"
	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/focusgate/focusgate/internal/notify"
	"github.com/focusgate/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Config holds aggregator timing parameters.
type Config struct {
	// TickInterval is the sampling period attributed to the active domain.
	TickInterval time.Duration
	// FlushInterval is how often the in-memory buffer is persisted.
	FlushInterval time.Duration
}

// Aggregator buffers observed foreground time keyed by normalized domain.
// Ticks always count toward the active domain regardless of session state;
// the buffer survives a failed flush and is retried on the next interval.
type Aggregator struct {
	cfg      Config
	store    storage.Store
	notifier *notify.Broker
	log      zerolog.Logger

	mu     chan struct{} // 1-slot semaphore, held across flush I/O
	active string
	buffer map[string]int64 // domain -> accumulated ms

	nowFn func() time.Time
}

// New constructs an Aggregator with an empty buffer.
func New(cfg Config, store storage.Store, notifier *notify.Broker, log zerolog.Logger) *Aggregator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	a := &Aggregator{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		log:      log,
		mu:       make(chan struct{}, 1),
		buffer:   make(map[string]int64),
		nowFn:    time.Now,
	}
	a.mu <- struct{}{}
	return a
}

func (a *Aggregator) lock()   { <-a.mu }
func (a *Aggregator) unlock() { a.mu <- struct{}{} }

// SetActive names the domain that subsequent ticks are attributed to.
// The raw value is normalized; an empty result clears attribution.
func (a *Aggregator) SetActive(raw string) {
	domain := category.Normalize(raw)
	a.lock()
	a.active = domain
	a.unlock()
}

// ClearActive stops attributing ticks to any domain, e.g. when the screen
// locks or no window has focus.
func (a *Aggregator) ClearActive() {
	a.lock()
	a.active = ""
	a.unlock()
}

// Tick attributes one sampling interval to the active domain. No-op when
// nothing is active.
func (a *Aggregator) Tick() {
	a.lock()
	defer a.unlock()
	if a.active == "" {
		return
	}
	a.buffer[a.active] += a.cfg.TickInterval.Milliseconds()
	metrics.TicksBuffered.Inc()
}

// Flush resolves each buffered domain to its category and folds the
// accumulated time into the day bucket for the flush moment. On any store
// failure the whole buffer is retained so no observed time is lost; a
// repeated flush after success writes nothing.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.lock()
	defer a.unlock()

	if len(a.buffer) == 0 {
		return nil
	}

	start := a.nowFn()
	day := storage.DayKey(start)

	table, err := a.store.CategoryMap()
	if err != nil {
		// Resolve with an empty table rather than dropping the flush.
		a.log.Warn().Err(err).Msg("category map unavailable, resolving without it")
		table = nil
	}
	resolver := category.NewResolver(table)

	flushed := make(map[string]int64, len(a.buffer))
	for domain, ms := range a.buffer {
		cat := resolver.Resolve(domain)
		if err := a.store.AddTime(day, domain, ms, cat); err != nil {
			// Roll back what already landed would double-count on retry;
			// instead un-buffer only what was written and keep the rest.
			for d := range flushed {
				delete(a.buffer, d)
			}
			metrics.FlushTotal.WithLabelValues("error").Inc()
			a.log.Error().Err(err).Str("domain", domain).Msg("flush failed, buffer retained")
			return err
		}
		flushed[domain] = ms
		metrics.TrackedMs.WithLabelValues(cat).Add(float64(ms))
	}

	a.buffer = make(map[string]int64)
	metrics.FlushTotal.WithLabelValues("ok").Inc()
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	a.log.Debug().Int("domains", len(flushed)).Str("day", day).Msg("time buffer flushed")

	if a.notifier != nil {
		a.notifier.Publish(notify.EventTimeBucket, map[string]string{"day": day})
	}
	return nil
}

// Run drives the tick and flush tickers until the context ends, then makes
// a final best-effort flush so at most one interval of observations is lost
// on shutdown.
func (a *Aggregator) Run(ctx context.Context) error {
	tick := time.NewTicker(a.cfg.TickInterval)
	defer tick.Stop()
	flush := time.NewTicker(a.cfg.FlushInterval)
	defer flush.Stop()

	a.log.Info().Dur("tick", a.cfg.TickInterval).Dur("flush", a.cfg.FlushInterval).
		Msg("time aggregator started")

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Flush(fctx); err != nil {
				a.log.Warn().Err(err).Msg("final flush failed, buffered time lost")
			}
			return ctx.Err()
		case <-tick.C:
			a.Tick()
		case <-flush.C:
			if err := a.Flush(ctx); err != nil {
				a.log.Warn().Err(err).Msg("periodic flush failed, will retry")
			}
		}
	}
}

// BufferedMs reports the unflushed total for a domain. Read-only helper for
// status surfaces and tests.
func (a *Aggregator) BufferedMs(domain string) int64 {
	a.lock()
	defer a.unlock()
	return a.buffer[category.Normalize(domain)]
}
