// Package monitor runs the fetch-compute-publish cycle and holds the current snapshot.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r-heap47/eipmon/internal/cluster"
	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/r-heap47/eipmon/internal/stats"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultFetchTimeout = 20 * time.Second
)

// State - publisher state
type State int32

const (
	// StateIdle - waiting for the next cycle
	StateIdle State = iota
	// StateCollecting - cycle in progress
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCollecting:
		return "collecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ProcessSampler - source of exporter self stats
type ProcessSampler interface {
	Sample(ctx context.Context) models.Process
}

// Config - publisher config
type Config struct {
	Fetcher cluster.Fetcher
	History *history.Store

	Policy       utils.Provider[stats.Policy]
	PollInterval utils.Provider[time.Duration]
	FetchTimeout utils.Provider[time.Duration]
	Clock        utils.Provider[time.Time]

	// Process is optional
	Process ProcessSampler
	// OnPublish is optional, called after every cycle with the current snapshot
	OnPublish func(models.Snapshot)

	Logger zerolog.Logger
}

// published - immutable pair of the last good snapshot and the scrape stats of the latest cycle.
// A failed cycle swaps in a new pair pointing at the same snapshot.
type published struct {
	snap   *models.Snapshot
	scrape models.ScrapeStats
}

// Publisher - single writer of snapshots.
// Readers never block: the current state is swapped atomically once per cycle.
type Publisher struct {
	fetcher cluster.Fetcher
	history *history.Store
	tracker *tracker

	policy       utils.Provider[stats.Policy]
	pollInterval utils.Provider[time.Duration]
	fetchTimeout utils.Provider[time.Duration]
	clock        utils.Provider[time.Time]

	process   ProcessSampler
	onPublish func(models.Snapshot)

	current atomic.Pointer[published]
	state   atomic.Int32

	cycleMu *sync.Mutex // serializes cycles

	log zerolog.Logger
}

// New returns new publisher serving an empty snapshot until the first successful cycle
func New(cfg Config) (*Publisher, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", pkgerrors.ErrConfig)
	}

	store := cfg.History
	if store == nil {
		store = history.New(history.Config{})
	}

	pub := &Publisher{
		fetcher:      cfg.Fetcher,
		history:      store,
		tracker:      newTracker(store),
		policy:       cfg.Policy,
		pollInterval: cfg.PollInterval,
		fetchTimeout: cfg.FetchTimeout,
		clock:        cfg.Clock,
		process:      cfg.Process,
		onPublish:    cfg.OnPublish,
		cycleMu:      &sync.Mutex{},
		log:          cfg.Logger,
	}

	if pub.policy == nil {
		pub.policy = utils.Const(stats.DefaultPolicy())
	}
	if pub.pollInterval == nil {
		pub.pollInterval = utils.Const(defaultPollInterval)
	}
	if pub.fetchTimeout == nil {
		pub.fetchTimeout = utils.Const(defaultFetchTimeout)
	}
	if pub.clock == nil {
		pub.clock = utils.WallClock
	}

	empty := models.Empty()
	pub.current.Store(&published{snap: &empty})

	return pub, nil
}

// History returns the store the publisher derives rates from
func (p *Publisher) History() *history.Store {
	return p.history
}

// State returns current publisher state
func (p *Publisher) State() State {
	return State(p.state.Load())
}

// CurrentSnapshot returns the last published snapshot merged with the latest scrape stats
func (p *Publisher) CurrentSnapshot() models.Snapshot {
	cur := p.current.Load()

	snap := *cur.snap
	snap.Scrape = cur.scrape

	return snap
}

// Run performs a cycle immediately and then once per poll interval until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	interval := p.pollInterval(ctx)
	if interval <= 0 {
		interval = defaultPollInterval
	}

	p.log.Info().Dur("interval", interval).Msg("publisher started")
	defer p.log.Info().Msg("publisher stopped")

	// errors are logged and counted by RunOnce
	_ = p.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// select picks randomly when both are ready
		if utils.CtxDone(ctx) != nil {
			return
		}

		_ = p.RunOnce(ctx)

		if next := p.pollInterval(ctx); next != interval && next > 0 {
			interval = next
			ticker.Reset(interval)
		}
	}
}

// RunOnce performs a single fetch-compute-publish cycle.
// On failure the previous snapshot stays published and the error is counted.
func (p *Publisher) RunOnce(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	p.state.Store(int32(StateCollecting))
	defer p.state.Store(int32(StateIdle))

	start := p.clock(ctx)

	timeout := p.fetchTimeout(ctx)
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	res, err := p.fetcher.Fetch(fetchCtx)
	cancel()

	if err != nil {
		p.fail(ctx, start, err)
		return fmt.Errorf("Fetch: %w", err)
	}

	snap, err := p.compute(ctx, res)
	if err != nil {
		p.fail(ctx, start, err)
		return fmt.Errorf("compute: %w", err)
	}

	end := p.clock(ctx)
	p.store(&snap, func(s *models.ScrapeStats) {
		s.LastSuccess = end
		s.LastDurationSeconds = end.Sub(start).Seconds()
		s.LastError = ""
	})

	p.log.Info().
		Int("configured", snap.Totals.Configured).
		Int("assigned", snap.Totals.Assigned).
		Int("nodes", len(snap.PerNode)).
		Float64("health", snap.HealthScore).
		Float64("stability", snap.StabilityScore).
		Msg("snapshot published")

	p.publish()

	return nil
}

// compute derives a snapshot from res. Panics are turned into errors.ErrComputation.
// History changes made by a failed computation are rolled back.
func (p *Publisher) compute(ctx context.Context, res models.Resources) (snap models.Snapshot, err error) {
	var (
		mark history.Mark
		obs  *observation
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", pkgerrors.ErrComputation, r)
		}
		if obs == nil {
			return
		}
		if err != nil {
			p.history.Rollback(mark)
			return
		}
		p.tracker.commit(obs)
	}()

	var (
		now    = p.clock(ctx)
		policy = p.policy(ctx)
	)

	window := policy.TrendWindow
	if window <= 0 {
		window = stats.DefaultTrendWindow
	}

	if pruned := p.history.PruneOlderThan(now, window); pruned > 0 {
		p.log.Debug().Int("pruned", pruned).Msg("history pruned")
	}

	mark = p.history.Mark()
	obs = p.tracker.observe(res, now)
	if ch := obs.changes; ch.assignments+ch.unassignments+ch.transitions > 0 {
		p.log.Debug().
			Int("assignments", ch.assignments).
			Int("unassignments", ch.unassignments).
			Int("transitions", ch.transitions).
			Msg("changes detected")
	}

	var process models.Process
	if p.process != nil {
		process = p.process.Sample(ctx)
	}

	snap, err = stats.Compute(stats.Input{
		Resources: res,
		History:   p.history,
		Policy:    policy,
		Process:   process,
		Now:       now,
	})
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("stats.Compute: %w", err)
	}

	return snap, nil
}

func (p *Publisher) fail(ctx context.Context, start time.Time, err error) {
	end := p.clock(ctx)

	p.store(nil, func(s *models.ScrapeStats) {
		s.ErrorCount++
		s.LastError = err.Error()
		s.LastDurationSeconds = end.Sub(start).Seconds()
	})

	p.log.Error().Err(err).Uint64("errors", p.current.Load().scrape.ErrorCount).Msg("collection cycle failed, keeping previous snapshot")

	p.publish()
}

// store swaps in snap, or keeps the current one when snap is nil, together with
// a modified copy of the scrape stats. Only called under cycleMu.
func (p *Publisher) store(snap *models.Snapshot, fn func(s *models.ScrapeStats)) {
	prev := p.current.Load()

	next := &published{snap: prev.snap, scrape: prev.scrape}
	if snap != nil {
		next.snap = snap
	}
	fn(&next.scrape)

	p.current.Store(next)
}

func (p *Publisher) publish() {
	if p.onPublish != nil {
		p.onPublish(p.CurrentSnapshot())
	}
}
