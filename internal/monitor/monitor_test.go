package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/instrument"
	"github.com/r-heap47/eipmon/internal/models"
	pkgerrors "github.com/r-heap47/eipmon/internal/pkg/errors"
	"github.com/r-heap47/eipmon/internal/pkg/testutils"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetchFunc adapts a function to cluster.Fetcher
type fetchFunc func(ctx context.Context) (models.Resources, error)

func (f fetchFunc) Fetch(ctx context.Context) (models.Resources, error) {
	return f(ctx)
}

var errUnavailable = fmt.Errorf("%w: api unavailable", pkgerrors.ErrFetch)

func failingFetch(_ context.Context) (models.Resources, error) {
	return models.Resources{}, errUnavailable
}

// resources builds n EgressIPs spread round-robin over nodes
func resources(n int, nodes ...string) models.Resources {
	var res models.Resources

	for _, node := range nodes {
		res.Nodes = append(res.Nodes, models.Node{Name: node})
	}

	for i := range n {
		addr := fmt.Sprintf("10.0.0.%d", i)
		eip := models.EgressIP{Name: fmt.Sprintf("eip-%d", i), ConfiguredAddresses: []string{addr}}
		if len(nodes) > 0 {
			eip.Assignments = []models.Assignment{{Node: nodes[i%len(nodes)], Address: addr}}
		}
		res.EgressIPs = append(res.EgressIPs, eip)
	}

	return res
}

func newPublisher(t *testing.T, fetcher fetchFunc, clock *testutils.Clock) *Publisher {
	t.Helper()

	pub, err := New(Config{
		Fetcher:      fetcher,
		History:      history.New(history.Config{}),
		PollInterval: utils.Const(time.Millisecond),
		FetchTimeout: utils.Const(time.Second),
		Clock:        clock.Now,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	return pub
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.ErrorIs(t, err, pkgerrors.ErrConfig)

	pub, err := New(Config{Fetcher: fetchFunc(failingFetch)})
	require.NoError(t, err)

	snap := pub.CurrentSnapshot()
	assert.True(t, snap.Timestamp.IsZero())
	assert.NotNil(t, snap.PerNode)
	assert.Zero(t, snap.Scrape.ErrorCount)
	assert.Equal(t, StateIdle, pub.State())
}

func TestRunOnce_Success(t *testing.T) {
	t.Parallel()

	var (
		ctx       = t.Context()
		now       = testutils.MustParseTime(t, "2025-01-01T12:00:00Z")
		clock     = testutils.NewClock(now)
		published atomic.Int64
	)

	pub, err := New(Config{
		Fetcher: fetchFunc(func(_ context.Context) (models.Resources, error) {
			return resources(30, "worker-1", "worker-2", "worker-3"), nil
		}),
		Clock:     clock.Now,
		OnPublish: func(models.Snapshot) { published.Add(1) },
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, pub.RunOnce(ctx))

	snap := pub.CurrentSnapshot()
	assert.Equal(t, now, snap.Timestamp)
	assert.Equal(t, models.Totals{Configured: 30, Assigned: 30}, snap.Totals)
	assert.InDelta(t, 100, snap.UtilizationPercent, 1e-9)
	assert.Zero(t, snap.Distribution.Gini)
	assert.Zero(t, snap.Distribution.StdDev)
	assert.Equal(t, 10, snap.Distribution.Max)
	assert.Equal(t, 10, snap.Distribution.Min)
	assert.Equal(t, now, snap.Scrape.LastSuccess)
	assert.Zero(t, snap.Scrape.ErrorCount)
	assert.Equal(t, int64(1), published.Load())
	assert.Equal(t, StateIdle, pub.State())
}

func TestRunOnce_AlwaysFailing(t *testing.T) {
	t.Parallel()

	const cycles = 7

	var (
		ctx   = t.Context()
		clock = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
		pub   = newPublisher(t, failingFetch, clock)
	)

	for range cycles {
		err := pub.RunOnce(ctx)
		require.Error(t, err)
		require.ErrorIs(t, err, pkgerrors.ErrFetch)
		clock.Advance(time.Second)
	}

	snap := pub.CurrentSnapshot()
	assert.Equal(t, uint64(cycles), snap.Scrape.ErrorCount)
	assert.Contains(t, snap.Scrape.LastError, "api unavailable")
	assert.True(t, snap.Scrape.LastSuccess.IsZero())
	assert.True(t, snap.Timestamp.IsZero(), "zero snapshot must be kept")
	assert.Zero(t, snap.Totals)
}

func TestRunOnce_FailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	var (
		ctx   = t.Context()
		start = testutils.MustParseTime(t, "2025-01-01T12:00:00Z")
		clock = testutils.NewClock(start)
		fail  atomic.Bool
	)

	pub := newPublisher(t, func(_ context.Context) (models.Resources, error) {
		if fail.Load() {
			return models.Resources{}, errUnavailable
		}
		return resources(4, "worker-1"), nil
	}, clock)

	require.NoError(t, pub.RunOnce(ctx))

	fail.Store(true)
	clock.Advance(time.Minute)
	require.Error(t, pub.RunOnce(ctx))

	snap := pub.CurrentSnapshot()
	assert.Equal(t, start, snap.Timestamp)
	assert.Equal(t, 4, snap.Totals.Configured)
	assert.Equal(t, start, snap.Scrape.LastSuccess)
	assert.Equal(t, uint64(1), snap.Scrape.ErrorCount)

	fail.Store(false)
	clock.Advance(time.Minute)
	require.NoError(t, pub.RunOnce(ctx))

	snap = pub.CurrentSnapshot()
	assert.Equal(t, start.Add(2*time.Minute), snap.Timestamp)
	assert.Equal(t, uint64(1), snap.Scrape.ErrorCount, "error count is cumulative")
	assert.Empty(t, snap.Scrape.LastError)
}

type panickingSampler struct{}

func (panickingSampler) Sample(context.Context) models.Process {
	panic("boom")
}

func TestRunOnce_ComputationPanic(t *testing.T) {
	t.Parallel()

	var (
		ctx   = t.Context()
		clock = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
	)

	pub, err := New(Config{
		Fetcher: fetchFunc(func(_ context.Context) (models.Resources, error) {
			return resources(2, "worker-1"), nil
		}),
		Clock:   clock.Now,
		Process: panickingSampler{},
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	err = pub.RunOnce(ctx)
	require.ErrorIs(t, err, pkgerrors.ErrComputation)

	snap := pub.CurrentSnapshot()
	assert.True(t, snap.Timestamp.IsZero())
	assert.Equal(t, uint64(1), snap.Scrape.ErrorCount)
	assert.Equal(t, StateIdle, pub.State())
}

// toggleSampler panics while failing is set
type toggleSampler struct {
	failing atomic.Bool
}

func (s *toggleSampler) Sample(context.Context) models.Process {
	if s.failing.Load() {
		panic("sampler failure")
	}
	return models.Process{}
}

func TestRunOnce_FailedComputationLeavesNoHistory(t *testing.T) {
	t.Parallel()

	var (
		ctx     = t.Context()
		start   = testutils.MustParseTime(t, "2025-01-01T12:00:00Z")
		clock   = testutils.NewClock(start)
		sampler = &toggleSampler{}
		moved   atomic.Bool
	)

	pending := start.Add(-10 * time.Minute)

	pub, err := New(Config{
		Fetcher: fetchFunc(func(_ context.Context) (models.Resources, error) {
			res := resources(3, "worker-1", "worker-2")
			res.CPICs = []models.CloudPrivateIPConfig{
				{Name: "10.0.0.0", Status: models.CPICPending, Node: "worker-1", StatusChangedAt: &pending},
			}
			if moved.Load() {
				res.EgressIPs[0].Assignments[0].Node = "worker-2"
				res.CPICs[0].Status = models.CPICError
				res.CPICs[0].StatusChangedAt = nil
			}
			return res, nil
		}),
		History: history.New(history.Config{}),
		Clock:   clock.Now,
		Process: sampler,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, pub.RunOnce(ctx))

	// changes are seen but the cycle fails
	moved.Store(true)
	sampler.failing.Store(true)
	clock.Advance(time.Minute)
	require.ErrorIs(t, pub.RunOnce(ctx), pkgerrors.ErrComputation)

	assert.Zero(t, pub.History().Len())
	status, ok := pub.History().LastStatus("10.0.0.0")
	require.True(t, ok)
	assert.Equal(t, models.CPICPending, status)

	// back to the state of the last successful cycle: nothing changed in between
	moved.Store(false)
	sampler.failing.Store(false)
	clock.Advance(time.Minute)
	require.NoError(t, pub.RunOnce(ctx))

	snap := pub.CurrentSnapshot()
	assert.Zero(t, snap.Trend.ChangesLastHour)
	assert.Zero(t, snap.Rates.CPICTransition)
	assert.Equal(t, models.ResourceDuration{Status: models.CPICPending, Seconds: 720}, snap.Durations["10.0.0.0"])
	assert.Equal(t, uint64(1), snap.Scrape.ErrorCount)

	// the baseline is still the first cycle, so the move is seen once
	moved.Store(true)
	clock.Advance(time.Minute)
	require.NoError(t, pub.RunOnce(ctx))

	snap = pub.CurrentSnapshot()
	assert.Equal(t, 2, snap.Trend.ChangesLastHour)
	assert.InDelta(t, 1.0/60, snap.Rates.CPICTransition, 1e-9)
}

func TestRunOnce_TracksChanges(t *testing.T) {
	t.Parallel()

	var (
		ctx   = t.Context()
		start = testutils.MustParseTime(t, "2025-01-01T12:00:00Z")
		clock = testutils.NewClock(start)
		cycle atomic.Int64
	)

	pending := start.Add(-10 * time.Minute)

	pub := newPublisher(t, func(_ context.Context) (models.Resources, error) {
		res := resources(3, "worker-1", "worker-2")

		switch cycle.Add(1) {
		case 1:
			res.CPICs = []models.CloudPrivateIPConfig{
				{Name: "10.0.0.0", Status: models.CPICPending, Node: "worker-1", StatusChangedAt: &pending},
			}
		case 2:
			// eip-0 moved, eip-2 gone
			res.EgressIPs[0].Assignments[0].Node = "worker-2"
			res.EgressIPs = res.EgressIPs[:2]
			res.CPICs = []models.CloudPrivateIPConfig{
				{Name: "10.0.0.0", Status: models.CPICError, Node: "worker-1"},
			}
		default:
			res.CPICs = []models.CloudPrivateIPConfig{
				{Name: "10.0.0.0", Status: models.CPICSuccess, Node: "worker-1"},
			}
		}

		return res, nil
	}, clock)

	// first cycle: nothing to diff against
	require.NoError(t, pub.RunOnce(ctx))
	snap := pub.CurrentSnapshot()
	assert.Zero(t, snap.Trend.ChangesLastHour)
	assert.Equal(t, models.ResourceDuration{Status: models.CPICPending, Seconds: 600}, snap.Durations["10.0.0.0"])

	clock.Advance(time.Minute)
	require.NoError(t, pub.RunOnce(ctx))
	snap = pub.CurrentSnapshot()
	// moved counts as both, removed counts as unassignment
	assert.Equal(t, 3, snap.Trend.ChangesLastHour)
	assert.InDelta(t, 1.0/60, snap.Rates.Assignment, 1e-9)
	assert.InDelta(t, 2.0/60, snap.Rates.Unassignment, 1e-9)
	assert.Equal(t, models.CPICError, snap.Durations["10.0.0.0"].Status)
	assert.Zero(t, snap.Trend.RecoveriesLastHour)

	clock.Advance(time.Minute)
	require.NoError(t, pub.RunOnce(ctx))
	snap = pub.CurrentSnapshot()
	// eip-0 moved back, eip-2 came back
	assert.Equal(t, 6, snap.Trend.ChangesLastHour)
	assert.Equal(t, 1, snap.Trend.RecoveriesLastHour)
	assert.InDelta(t, 2.0/60, snap.Rates.CPICTransition, 1e-9)
	assert.NotContains(t, snap.Durations, "10.0.0.0")

	// everything leaves the trend window
	clock.Advance(2 * time.Hour)
	require.NoError(t, pub.RunOnce(ctx))
	snap = pub.CurrentSnapshot()
	assert.Zero(t, snap.Trend.ChangesLastHour)
	assert.Zero(t, snap.Trend.RecoveriesLastHour)
	assert.InDelta(t, 100, snap.StabilityScore, 1e-9)
	assert.Zero(t, pub.History().Len())
}

func TestRunOnce_AlternatingCyclesStayBounded(t *testing.T) {
	t.Parallel()

	var (
		ctx   = t.Context()
		clock = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
		store = history.New(history.Config{})
		cycle atomic.Int64
	)

	fetcher := fetchFunc(func(ctx context.Context) (models.Resources, error) {
		n := cycle.Add(1)

		return instrument.Call(ctx, store, clock.Now, "eip_get", func(_ context.Context) (models.Resources, error) {
			if n%2 == 0 {
				return models.Resources{}, errUnavailable
			}
			// every successful cycle moves every address
			res := resources(6, "worker-1", "worker-2")
			if n%4 == 1 {
				res = resources(6, "worker-2", "worker-1")
			}
			return res, nil
		})
	})

	pub, err := New(Config{
		Fetcher: fetcher,
		History: store,
		Clock:   clock.Now,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	const cycles = 500

	var failures int
	for range cycles {
		if err := pub.RunOnce(ctx); err != nil {
			failures++
		}
		clock.Advance(time.Minute)

		// 6 moves per successful cycle, 2 events each, one successful cycle every 2 minutes
		assert.LessOrEqual(t, store.Len(), 31*12)
		assert.LessOrEqual(t, len(store.APISamples("eip_get")), history.DefaultAPIHistorySize)
	}

	snap := pub.CurrentSnapshot()
	assert.Equal(t, cycles/2, failures)
	assert.Equal(t, uint64(cycles/2), snap.Scrape.ErrorCount)
	assert.Equal(t, uint64(cycles), snap.API["eip_get"].CallCount())
	assert.InDelta(t, 50, snap.API["eip_get"].SuccessRatePercent, 1e-9)
	assert.Equal(t, history.DefaultAPIHistorySize, snap.API["eip_get"].SampleCount)
	assert.Zero(t, snap.StabilityScore, "constant churn must drive stability down")
}

func TestCurrentSnapshot_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	var (
		ctx   = t.Context()
		clock = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
		cycle atomic.Int64
	)

	pub := newPublisher(t, func(_ context.Context) (models.Resources, error) {
		n := int(cycle.Add(1))
		if n%3 == 0 {
			return models.Resources{}, errUnavailable
		}
		res := resources(n%50, "worker-1", "worker-2", "worker-3")
		// leave a part unassigned
		for i := range res.EgressIPs {
			if i%4 == 0 {
				res.EgressIPs[i].Assignments = nil
			}
		}
		return res, nil
	}, clock)

	var (
		stop = make(chan struct{})
		wg   sync.WaitGroup
		bad  atomic.Int64
	)

	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var last time.Time
			for {
				select {
				case <-stop:
					return
				default:
				}

				snap := pub.CurrentSnapshot()
				if snap.Totals.Assigned+snap.Totals.Unassigned != snap.Totals.Configured {
					bad.Add(1)
				}
				if snap.Timestamp.Before(last) {
					bad.Add(1)
				}
				// the clock only moves between cycles
				if !snap.Scrape.LastSuccess.Equal(snap.Timestamp) {
					bad.Add(1)
				}
				if snap.HealthScore < 0 || snap.HealthScore > 100 || snap.Distribution.Gini < 0 || snap.Distribution.Gini > 1 {
					bad.Add(1)
				}
				last = snap.Timestamp
			}
		}()
	}

	for range 3000 {
		_ = pub.RunOnce(ctx)
		clock.Advance(time.Second)
	}

	close(stop)
	wg.Wait()

	assert.Zero(t, bad.Load(), "readers observed an inconsistent snapshot")
	assert.Equal(t, uint64(1000), pub.CurrentSnapshot().Scrape.ErrorCount)
}

func TestRun_CtxCancelStopsLoop(t *testing.T) {
	t.Parallel()

	var (
		calls atomic.Int64
		clock = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
	)

	pub := newPublisher(t, func(ctx context.Context) (models.Resources, error) {
		calls.Add(1)
		return resources(1, "worker-1"), nil
	}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		pub.Run(ctx)
		close(done)
	}()

	// let the publisher run for a bit then cancel
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after ctx cancel")
	}

	assert.GreaterOrEqual(t, calls.Load(), int64(2), "first cycle runs immediately, then on ticks")
}

func TestRun_CancelAbandonsInflightFetch(t *testing.T) {
	t.Parallel()

	var (
		started = make(chan struct{})
		once    sync.Once
		clock   = testutils.NewClock(testutils.MustParseTime(t, "2025-01-01T12:00:00Z"))
	)

	pub := newPublisher(t, func(ctx context.Context) (models.Resources, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return models.Resources{}, fmt.Errorf("%w: %w", pkgerrors.ErrFetch, ctx.Err())
	}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		pub.Run(ctx)
		close(done)
	}()

	<-started
	assert.Equal(t, StateCollecting, pub.State())
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop while a fetch was in flight")
	}

	assert.Equal(t, StateIdle, pub.State())
	assert.Equal(t, uint64(1), pub.CurrentSnapshot().Scrape.ErrorCount)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "collecting", StateCollecting.String())
	assert.Equal(t, "State(7)", State(7).String())
}
