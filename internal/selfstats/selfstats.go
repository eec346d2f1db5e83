// Package selfstats samples resource usage of the exporter process itself.
package selfstats

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/r-heap47/eipmon/internal/models"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
)

// Collector - process stats collector
type Collector struct {
	startTime time.Time
	proc      *process.Process
	clock     utils.Provider[time.Time]

	log zerolog.Logger
}

// Config - collector config
type Config struct {
	StartTime time.Time
	Clock     utils.Provider[time.Time]
	Logger    zerolog.Logger
}

// NewCollector returns collector of the current process
func NewCollector(ctx context.Context, cfg Config) (*Collector, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("process.NewProcessWithContext: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = utils.WallClock
	}

	start := cfg.StartTime
	if start.IsZero() {
		start = clock(ctx)
	}

	return &Collector{
		startTime: start,
		proc:      proc,
		clock:     clock,
		log:       cfg.Logger,
	}, nil
}

// UsageCPU returns CPU usage of the process since the previous call, in percent
func (c *Collector) UsageCPU(ctx context.Context) (float64, error) {
	usage, err := c.proc.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("PercentWithContext: %w", err)
	}

	return usage, nil
}

// MemoryRSS returns resident set size of the process
func (c *Collector) MemoryRSS(ctx context.Context) (uint64, error) {
	mem, err := c.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("MemoryInfoWithContext: %w", err)
	}

	return mem.RSS, nil
}

// Uptime returns time since start
func (c *Collector) Uptime(ctx context.Context) time.Duration {
	return c.clock(ctx).Sub(c.startTime)
}

// Sample returns current process stats. Failed probes are logged and reported as zero.
func (c *Collector) Sample(ctx context.Context) models.Process {
	out := models.Process{UptimeSeconds: c.Uptime(ctx).Seconds()}

	cpu, err := c.UsageCPU(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to sample process cpu")
	} else {
		out.CPUPercent = cpu
	}

	rss, err := c.MemoryRSS(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to sample process memory")
	} else {
		out.RSSBytes = rss
	}

	return out
}
