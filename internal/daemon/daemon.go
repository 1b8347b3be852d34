// Package daemon keeps generation continuously up to date: periodic runs
// on a schedule, plus optional filesystem watching of a local source
// document.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/specgen/internal/config"
	"git.home.luguber.info/inful/specgen/internal/events"
	"git.home.luguber.info/inful/specgen/internal/fetch"
	"git.home.luguber.info/inful/specgen/internal/openapi"
	"git.home.luguber.info/inful/specgen/internal/runner"
)

// Daemon schedules runs and serializes their execution: overlapping
// triggers (schedule tick plus a watch event) collapse into one run at a
// time.
type Daemon struct {
	cfg       *config.Config
	runner    *runner.Runner
	scheduler gocron.Scheduler
	watcher   *sourceWatcher
	publisher *events.Publisher
	logger    *slog.Logger

	runMu sync.Mutex
}

// New creates a daemon. The NATS publisher is attached only when events
// are enabled in the configuration.
func New(cfg *config.Config, r *runner.Runner) (*Daemon, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		runner:    r,
		scheduler: scheduler,
		logger:    slog.Default(),
	}

	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.URL, cfg.Events.Subject)
		if err != nil {
			return nil, err
		}
		d.publisher = pub
	}

	return d, nil
}

// Start schedules periodic runs, begins watching a local source when
// configured, and blocks until the context is canceled.
func (d *Daemon) Start(ctx context.Context) error {
	interval := d.cfg.Daemon.ParsedInterval()
	_, err := d.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { d.runOnce(ctx, "schedule") }),
		gocron.WithName("periodic-generation"),
	)
	if err != nil {
		return fmt.Errorf("schedule periodic generation: %w", err)
	}

	if d.cfg.Daemon.Watch && isLocalSource(d.cfg.Source) {
		watcher, err := newSourceWatcher(d.cfg.Source, func() { d.runOnce(ctx, "watch") })
		if err != nil {
			return err
		}
		d.watcher = watcher
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	d.scheduler.Start()
	d.logger.Info("Daemon started",
		"interval", interval,
		"watch", d.watcher != nil)

	// Run immediately rather than waiting a full interval.
	d.runOnce(ctx, "startup")

	<-ctx.Done()
	return d.shutdown()
}

func (d *Daemon) shutdown() error {
	d.logger.Info("Daemon stopping")
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	return d.scheduler.Shutdown()
}

// runOnce executes a single generation cycle. Concurrent triggers wait for
// the in-flight run to finish.
func (d *Daemon) runOnce(ctx context.Context, trigger string) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	d.logger.Info("Run triggered", "trigger", trigger)

	raw, err := fetch.Document(ctx, d.cfg.Source)
	if err != nil {
		d.logger.Error("Failed to fetch api document", "trigger", trigger, "error", err)
		return
	}
	spec, err := openapi.Parse(raw)
	if err != nil {
		d.logger.Error("Failed to parse api document", "trigger", trigger, "error", err)
		return
	}

	report, err := d.runner.Run(ctx, d.cfg.Source, raw, spec, false)
	if err != nil {
		d.logger.Error("Run failed", "trigger", trigger, "error", err)
		return
	}

	if d.publisher != nil {
		if err := d.publisher.PublishRunCompleted(report); err != nil {
			d.logger.Warn("Failed to publish run completion", "error", err)
		}
	}

	d.logger.Info("Run finished",
		"trigger", trigger,
		"generated", report.Generated,
		"duration", time.Since(started))
}

func isLocalSource(source string) bool {
	return !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://")
}
