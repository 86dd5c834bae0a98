// Package expiry removes stale relay states on a cron schedule.
package expiry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

// Policy bounds how long a state may go unseen. Zero disables that bound.
type Policy struct {
	MaxAge time.Duration
	// DeadMaxAge applies to states that are no longer alive: killed
	// hunts, finished fates.
	DeadMaxAge time.Duration
}

func (p Policy) expired(alive bool, lastSeen, now time.Time) bool {
	limit := p.MaxAge
	if !alive && p.DeadMaxAge > 0 && (limit == 0 || p.DeadMaxAge < limit) {
		limit = p.DeadMaxAge
	}
	return limit > 0 && now.Sub(lastSeen) > limit
}

// Target is one store the runner sweeps.
type Target interface {
	Name() string
	Expire(now time.Time) int
}

type storeTarget[T relay.Entity[T]] struct {
	name   string
	store  *store.RelayStore[T]
	policy Policy
}

// StoreTarget sweeps st with p.
func StoreTarget[T relay.Entity[T]](name string, st *store.RelayStore[T], p Policy) Target {
	return &storeTarget[T]{name: name, store: st, policy: p}
}

func (t *storeTarget[T]) Name() string { return t.name }

func (t *storeTarget[T]) Expire(now time.Time) int {
	return t.store.RemoveWhere(func(s *relay.State[T]) bool {
		return t.policy.expired(s.IsAlive(), s.LastSeen(), now)
	})
}

// Runner runs every target on each cron tick. A run that is still going
// when the next tick fires is skipped.
type Runner struct {
	cron    string
	targets []Target
	metrics *telemetry.Metrics
	now     func() time.Time
	running atomic.Bool
	runs    atomic.Uint64
}

// New validates the cron expression.
func New(cron string, targets []Target, metrics *telemetry.Metrics, now func() time.Time) (*Runner, error) {
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("expiry: invalid cron expression %q", cron)
	}
	if now == nil {
		now = time.Now
	}
	return &Runner{cron: cron, targets: targets, metrics: metrics, now: now}, nil
}

// Runs reports how many sweeps completed.
func (r *Runner) Runs() uint64 { return r.runs.Load() }

// Start schedules sweeps until ctx is cancelled or the returned cancel is
// called.
func (r *Runner) Start(ctx context.Context) context.CancelFunc {
	ctx2, cancel := context.WithCancel(ctx)
	logger.Info("expiry_enabled", "cron", r.cron, "targets", len(r.targets))
	go r.scheduleLoop(ctx2)
	return cancel
}

func (r *Runner) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(r.cron, r.now(), false)
		if err != nil {
			logger.Error("expiry_nexttick_failed", "cron", r.cron, "error", err)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		wait := next.Sub(r.now())
		if wait <= 0 {
			wait = time.Second
		}
		if !sleep(ctx, wait) {
			return
		}
		r.runJob()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) runJob() {
	if !r.running.CompareAndSwap(false, true) {
		logger.Warn("expiry_run_skipped", "reason", "previous run still active")
		return
	}
	defer r.running.Store(false)
	r.RunOnce()
}

// RunOnce sweeps every target now and returns the removals per target.
func (r *Runner) RunOnce() map[string]int {
	tr := telemetry.Track("expiry.run")
	defer tr.Finish()

	now := r.now()
	out := make(map[string]int, len(r.targets))
	total := 0
	for _, t := range r.targets {
		n := t.Expire(now)
		out[t.Name()] = n
		total += n
		r.metrics.Expired(t.Name(), n)
		tr.Mark(t.Name())
	}
	r.runs.Add(1)
	logger.Info("expiry_run_complete", "removed", total)
	return out
}
