package boot

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/r-heap47/eipmon/internal/cluster"
	"github.com/r-heap47/eipmon/internal/config"
	"github.com/r-heap47/eipmon/internal/exporter"
	"github.com/r-heap47/eipmon/internal/history"
	"github.com/r-heap47/eipmon/internal/models"
	"github.com/r-heap47/eipmon/internal/monitor"
	"github.com/r-heap47/eipmon/internal/pkg/logger"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	"github.com/r-heap47/eipmon/internal/report"
	"github.com/r-heap47/eipmon/internal/selfstats"
	"github.com/r-heap47/eipmon/internal/server"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via -ldflags
var Version = "dev"

// components - wired application
type components struct {
	publisher *monitor.Publisher
	collector *exporter.Collector
}

// build wires the collection pipeline, onPublish is optional
func build(ctx context.Context, cfg *config.Config, clients *cluster.Clients, onPublish func(models.Snapshot)) (*components, error) {
	store := history.New(history.Config{
		APIHistorySize: cfg.Monitor.APIHistorySize,
	})

	fetcher, err := cluster.NewKubeFetcher(cluster.Config{
		Dynamic:      clients.Dynamic,
		Core:         clients.Core,
		Recorder:     store,
		Clock:        utils.WallClock,
		NodeSelector: utils.Const(cfg.Kubernetes.NodeSelector),
		Logger:       logger.WithComponent("fetcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("cluster.NewKubeFetcher: %w", err)
	}

	var sampler monitor.ProcessSampler

	self, err := selfstats.NewCollector(ctx, selfstats.Config{
		StartTime: time.Now(),
		Clock:     utils.WallClock,
		Logger:    logger.WithComponent("selfstats"),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("process stats are unavailable")
	} else {
		sampler = self
	}

	publisher, err := monitor.New(monitor.Config{
		Fetcher:      fetcher,
		History:      store,
		Policy:       utils.Const(cfg.Policy()),
		PollInterval: utils.Const(cfg.Monitor.PollInterval.Duration),
		FetchTimeout: utils.Const(cfg.Monitor.FetchTimeout.Duration),
		Clock:        utils.WallClock,
		Process:      sampler,
		OnPublish:    onPublish,
		Logger:       logger.WithComponent("monitor"),
	})
	if err != nil {
		return nil, fmt.Errorf("monitor.New: %w", err)
	}

	return &components{
		publisher: publisher,
		collector: exporter.New(publisher, Version),
	}, nil
}

// serve runs the publisher with the http and grpc surfaces until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config, clients *cluster.Clients, httpLis, grpcLis net.Listener) error {
	var srv *server.Server

	// srv is assigned before the publisher starts
	app, err := build(ctx, cfg, clients, func(snap models.Snapshot) {
		srv.Observe(snap)
	})
	if err != nil {
		return err
	}

	srv, err = server.New(server.Config{
		Source:          app.publisher,
		Gatherer:        exporter.NewRegistry(app.collector),
		Version:         Version,
		StaleAfter:      utils.Const(cfg.Monitor.StaleAfter.Duration),
		ShutdownTimeout: utils.Const(cfg.HTTP.ShutdownTimeout.Duration),
		Clock:           utils.WallClock,
		Logger:          logger.WithComponent("server"),
	})
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.publisher.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := srv.RunHTTP(gctx, httpLis); err != nil {
			return fmt.Errorf("srv.RunHTTP: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.RunGRPC(gctx, grpcLis); err != nil {
			return fmt.Errorf("srv.RunGRPC: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info().Msg("shutdown success")

	return nil
}

// collectOnce runs a single cycle and fails if it did not produce a snapshot
func collectOnce(ctx context.Context, cfg *config.Config, clients *cluster.Clients) (*components, error) {
	app, err := build(ctx, cfg, clients, nil)
	if err != nil {
		return nil, err
	}

	if err := app.publisher.RunOnce(ctx); err != nil {
		return nil, fmt.Errorf("publisher.RunOnce: %w", err)
	}

	return app, nil
}

// writeExposition writes the text exposition of a single cycle to w
func writeExposition(ctx context.Context, w io.Writer, cfg *config.Config, clients *cluster.Clients) error {
	app, err := collectOnce(ctx, cfg, clients)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(app.collector); err != nil {
		return fmt.Errorf("reg.Register: %w", err)
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("reg.Gather: %w", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("expfmt.MetricFamilyToText: %w", err)
		}
	}

	return nil
}

// writeReport renders a single cycle as tables into w
func writeReport(ctx context.Context, w io.Writer, cfg *config.Config, clients *cluster.Clients, color bool) error {
	app, err := collectOnce(ctx, cfg, clients)
	if err != nil {
		return err
	}

	if err := report.Write(w, app.publisher.CurrentSnapshot(), report.Options{Color: color}); err != nil {
		return fmt.Errorf("report.Write: %w", err)
	}

	return nil
}
