// Package sync reconciles local state with the remote companion service:
// inbound category table and deny-list merges on an interval, outbound
// deny-list edits through the worker pool.
package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/focusgate/focusgate/internal/metrics"
	"github.com/focusgate/focusgate/internal/pool"
	"github.com/focusgate/focusgate/internal/remote"
	"github.com/focusgate/focusgate/internal/session"
	"github.com/focusgate/focusgate/internal/storage"
	"github.com/rs/zerolog"
)

// Refresher pulls the remote category table and blocked set on an interval.
// The remote deny list is merged by union: remote entries are added locally,
// local-only entries are never removed.
type Refresher struct {
	client   remote.Client
	store    storage.Store
	machine  *session.Machine
	interval time.Duration
	log      zerolog.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(client remote.Client, store storage.Store, machine *session.Machine,
	interval time.Duration, log zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Refresher{
		client:   client,
		store:    store,
		machine:  machine,
		interval: interval,
		log:      log,
	}
}

// Run performs one refresh immediately, then on every interval until the
// context ends. A failed pass is logged and retried on the next tick; it
// never terminates the loop.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.RefreshOnce(ctx); err != nil {
		r.log.Warn().Err(err).Msg("initial sync failed, continuing with cached state")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.log.Warn().Err(err).Msg("sync failed, will retry")
			}
		}
	}
}

// RefreshOnce fetches the category table and blocked set from the remote,
// persists both, and re-synthesizes rules when the merge added domains while
// a session is running.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()

	cats, err := r.client.Categories(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch categories: %w", err)
	}
	table := make(map[string]string, len(cats))
	for _, c := range cats {
		table[c.Domain] = c.Category
	}
	if err := r.store.SetCategoryMap(table); err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("persist category map: %w", err)
	}

	blocked, err := r.client.Blocked(ctx)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch blocked set: %w", err)
	}
	added, err := r.store.MergeRemoteDenied(blocked)
	if err != nil {
		metrics.SyncRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("merge deny list: %w", err)
	}

	if added > 0 && r.machine.Query().Status != session.StatusOff {
		r.machine.Reinstall(ctx)
	}

	metrics.SyncRuns.WithLabelValues("ok").Inc()
	r.log.Debug().Int("categories", len(table)).Int("merged", added).
		Dur("took", time.Since(start)).Msg("remote sync completed")
	return nil
}

// MakeJobHandler returns the pool handler that mirrors local deny-list edits
// to the remote service. A remove of a domain the remote never had counts as
// success; the goal state is reached either way.
func MakeJobHandler(client remote.Client, log zerolog.Logger) pool.JobHandler {
	return func(ctx context.Context, job pool.SyncJob) error {
		switch job.Action {
		case "add":
			return client.AddBlocked(ctx, job.Domain)
		case "remove":
			return client.RemoveBlocked(ctx, job.Domain)
		default:
			log.Error().Str("action", job.Action).Msg("unknown sync job action")
			return nil // not retryable
		}
	}
}
