package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/specgen/internal/analyze"
	"git.home.luguber.info/inful/specgen/internal/config"
	"git.home.luguber.info/inful/specgen/internal/daemon"
	"git.home.luguber.info/inful/specgen/internal/fetch"
	"git.home.luguber.info/inful/specgen/internal/journal"
	"git.home.luguber.info/inful/specgen/internal/llm"
	"git.home.luguber.info/inful/specgen/internal/metrics"
	"git.home.luguber.info/inful/specgen/internal/observability"
	"git.home.luguber.info/inful/specgen/internal/openapi"
	"git.home.luguber.info/inful/specgen/internal/providers"
	"git.home.luguber.info/inful/specgen/internal/runner"
	"git.home.luguber.info/inful/specgen/internal/state"
	"git.home.luguber.info/inful/specgen/internal/util/sets"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"specgen.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Generate struct {
		Force bool `short:"f" help:"Regenerate every endpoint regardless of stored fingerprints"`
	} `cmd:"" help:"Generate test suites for new and changed endpoints"`

	Analyze struct{} `cmd:"" help:"Classify endpoints against stored state without generating"`

	Stats struct{} `cmd:"" help:"Show provider performance ranking and cost estimates"`

	Reset struct{} `cmd:"" help:"Discard all persisted state"`

	Daemon struct{} `cmd:"" help:"Run continuously: scheduled regeneration plus optional source watching"`
}

func main() {
	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if CLI.Verbose {
		cfg.Logging.Level = "debug"
	}

	cleanup, err := observability.SetupLogging(cfg.Logging)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, kctx.Command(), cfg); err != nil {
		slog.Error("Command failed", "command", kctx.Command(), "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, cfg *config.Config) error {
	store := state.NewStore(cfg.StateFile)

	if cfg.LegacyProviderStats != "" {
		migrated, err := state.MigrateLegacyProviderStats(store, cfg.LegacyProviderStats)
		if err != nil {
			return fmt.Errorf("migrate legacy provider stats: %w", err)
		}
		if migrated {
			slog.Info("Migrated legacy provider stats", "from", cfg.LegacyProviderStats)
		}
	}

	switch command {
	case "generate":
		return runGenerate(ctx, cfg, store, CLI.Generate.Force)
	case "analyze":
		return runAnalyze(ctx, cfg, store)
	case "stats":
		return runStats(store)
	case "reset":
		_, err := store.Reset()
		if err == nil {
			slog.Info("State reset", "path", store.Path())
		}
		return err
	case "daemon":
		return runDaemon(ctx, cfg, store)
	default:
		return fmt.Errorf("unknown command %s", command)
	}
}

func buildRunner(cfg *config.Config, store *state.Store) (*runner.Runner, *journal.Journal, error) {
	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open run journal: %w", err)
		}
		jnl = j
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		registry := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
		go serveMetrics(cfg.Metrics.Listen, registry)
	}

	generators := make([]llm.Generator, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		generators = append(generators, llm.NewHTTPProvider(pc))
	}

	r := runner.New(runner.Options{
		Store:     store,
		Providers: generators,
		OutputDir: cfg.OutputDir,
		Workers:   cfg.Workers,
		Recorder:  recorder,
		Journal:   jnl,
	})
	return r, jnl, nil
}

func serveMetrics(listen string, registry *prom.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("Metrics endpoint listening", "addr", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		slog.Warn("Metrics endpoint stopped", "error", err)
	}
}

func loadSpecification(ctx context.Context, cfg *config.Config) ([]byte, *openapi.Specification, error) {
	raw, err := fetch.Document(ctx, cfg.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch api document: %w", err)
	}
	spec, err := openapi.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse api document: %w", err)
	}
	return raw, spec, nil
}

func runGenerate(ctx context.Context, cfg *config.Config, store *state.Store, force bool) error {
	raw, spec, err := loadSpecification(ctx, cfg)
	if err != nil {
		return err
	}

	r, jnl, err := buildRunner(cfg, store)
	if err != nil {
		return err
	}
	if jnl != nil {
		defer jnl.Close()
	}

	report, err := r.Run(ctx, cfg.Source, raw, spec, force)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s completed in %s\n", report.RunID, report.Duration.Round(10*time.Millisecond))
	fmt.Printf("  endpoints: %d  new: %d  changed: %d\n", report.Total, report.New, report.Changed)
	fmt.Printf("  generated: %d  skipped: %d  failed: %d  removed: %d\n",
		report.Generated, report.Skipped, report.Failed, report.Removed)
	return nil
}

func runAnalyze(ctx context.Context, cfg *config.Config, store *state.Store) error {
	_, spec, err := loadSpecification(ctx, cfg)
	if err != nil {
		return err
	}
	st, err := store.Load()
	if err != nil {
		return err
	}

	changes := analyze.New().Analyze(spec.Endpoints, st)
	fmt.Printf("Endpoints in document: %d\n", len(spec.Endpoints))
	printGroup("new", sets.SortedStrings(changes.New))
	printGroup("changed", sets.SortedStrings(changes.Changed))
	printGroup("unchanged", sets.SortedStrings(changes.Unchanged))
	printGroup("removed", sets.SortedStrings(changes.Removed))
	return nil
}

func printGroup(label string, ids []string) {
	fmt.Printf("%s (%d):\n", label, len(ids))
	for _, id := range ids {
		fmt.Printf("  %s\n", id)
	}
}

func runStats(store *state.Store) error {
	st, err := store.Load()
	if err != nil {
		return err
	}
	if st.ProviderStats == nil {
		fmt.Println("No provider statistics recorded yet.")
		return nil
	}

	tracker := providers.NewTracker(st.ProviderStats)

	fmt.Println("Provider ranking:")
	for i, score := range tracker.Rank() {
		fmt.Printf("  %d. %-12s %.3f\n", i+1, score.Provider, score.Value)
		if p := st.ProviderStats.Performance[score.Provider]; p != nil {
			fmt.Printf("     requests: %d (%d ok, %d failed)  avg: %.2fs  avg tokens: %.0f\n",
				p.TotalRequests, p.SuccessfulRequests, p.FailedRequests,
				p.AvgResponseTime, p.AvgTokensPerRequest)
		}
	}

	cost := tracker.Cost()
	fmt.Println("\nEstimated cost:")
	for _, pc := range cost.Providers {
		fmt.Printf("  %-12s %8d tokens  $%.4f\n", pc.Provider, pc.TokensUsed, pc.EstimatedCost)
	}
	fmt.Printf("  total: %d tokens, $%.4f\n", cost.TotalTokens, cost.TotalCost)

	if n := len(st.ProviderStats.FallbackEvents); n > 0 {
		fmt.Printf("\nFallback events recorded: %d\n", n)
	}
	return nil
}

func runDaemon(ctx context.Context, cfg *config.Config, store *state.Store) error {
	r, jnl, err := buildRunner(cfg, store)
	if err != nil {
		return err
	}
	if jnl != nil {
		defer jnl.Close()
	}

	d, err := daemon.New(cfg, r)
	if err != nil {
		return err
	}
	return d.Start(ctx)
}
