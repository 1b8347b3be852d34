// Package runner drives one generation cycle: load persisted state, detect
// changes, fan generation out to a bounded worker pool, and apply every
// state mutation on the coordinating goroutine before a single save.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/specgen/internal/analyze"
	"git.home.luguber.info/inful/specgen/internal/fingerprint"
	"git.home.luguber.info/inful/specgen/internal/foundation"
	"git.home.luguber.info/inful/specgen/internal/journal"
	"git.home.luguber.info/inful/specgen/internal/llm"
	"git.home.luguber.info/inful/specgen/internal/metrics"
	"git.home.luguber.info/inful/specgen/internal/openapi"
	"git.home.luguber.info/inful/specgen/internal/providers"
	"git.home.luguber.info/inful/specgen/internal/state"
	"git.home.luguber.info/inful/specgen/internal/util/sets"
)

// Report summarizes one completed run.
type Report struct {
	RunID     string        `json:"run_id"`
	Source    string        `json:"source"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Total     int           `json:"total_endpoints"`
	New       int           `json:"new"`
	Changed   int           `json:"changed"`
	Generated int           `json:"generated"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Removed   int           `json:"removed"`
}

// Options configures a Runner. Journal and Recorder are optional.
type Options struct {
	Store     *state.Store
	Providers []llm.Generator
	OutputDir string
	Workers   int
	Recorder  metrics.Recorder
	Journal   *journal.Journal
	Logger    *slog.Logger
}

// Runner executes generation runs. It is the single logical writer for all
// state mutations; workers only perform provider calls.
type Runner struct {
	store     *state.Store
	analyzer  *analyze.Analyzer
	providers []llm.Generator
	outputDir string
	workers   int
	recorder  metrics.Recorder
	journal   *journal.Journal
	logger    *slog.Logger
}

// New creates a runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		store:     opts.Store,
		analyzer:  analyze.New().WithLogger(logger),
		providers: opts.Providers,
		outputDir: opts.OutputDir,
		workers:   workers,
		recorder:  recorder,
		journal:   opts.Journal,
		logger:    logger,
	}
}

// workResult carries one endpoint's generation outcome from a worker to
// the coordinator.
type workResult struct {
	endpoint openapi.Endpoint
	response *llm.Response
	attempts []llm.Attempt
	err      error
}

// Run performs one full cycle against an already-parsed specification and
// the raw document bytes (for source hashing). An aborted run leaves state
// reflecting whatever was marked before termination; the next run resumes
// by skipping already-marked endpoints.
func (r *Runner) Run(ctx context.Context, source string, raw []byte, spec *openapi.Specification, force bool) (*Report, error) {
	started := time.Now()
	report := &Report{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: started.UTC(),
		Total:     len(spec.Endpoints),
	}

	st, err := r.store.Load()
	if err != nil {
		return nil, err
	}

	tracker := providers.NewTracker(st.ProviderStats).WithLogger(r.logger)

	changes := r.analyzer.Analyze(spec.Endpoints, st)
	report.New = len(changes.New)
	report.Changed = len(changes.Changed)

	current := sets.New[string]()
	for _, e := range spec.Endpoints {
		current.Add(e.ID())
	}
	report.Removed = r.analyzer.CleanupRemoved(st, current)

	toGenerate, toSkip := r.analyzer.Partition(spec.Endpoints, st, force)
	report.Skipped = len(toSkip)

	r.journalEvent(ctx, report.RunID, journal.EventRunStarted, "", map[string]string{
		"source":      source,
		"to_generate": fmt.Sprint(len(toGenerate)),
		"to_skip":     fmt.Sprint(len(toSkip)),
	})
	for range toSkip {
		r.recorder.IncEndpointOutcome(metrics.OutcomeSkipped)
	}

	if len(toGenerate) > 0 {
		if len(r.providers) == 0 {
			return nil, fmt.Errorf("%d endpoints need generation but no providers are configured", len(toGenerate))
		}
		chain := llm.NewChain(r.rankedProviders(tracker)).WithLogger(r.logger)
		r.recorder.SetWorkerConcurrency(r.workers)
		if err := r.generate(ctx, chain, toGenerate, st, tracker, report); err != nil {
			return nil, err
		}
	}

	// Attach provider stats only once there is something to persist.
	if st.ProviderStats == nil && len(tracker.Stats().Performance) > 0 {
		st.ProviderStats = tracker.Stats()
	}

	report.Duration = time.Since(started)
	r.applyStatistics(st, tracker, report)
	st.Config = &state.ProjectConfig{
		APISource:    source,
		LastModified: started.UTC(),
		SourceHash:   fingerprint.Content(raw),
	}

	if err := r.store.Save(st); err != nil {
		return nil, err
	}

	r.recorder.ObserveRunDuration(report.Duration)
	r.journalEvent(ctx, report.RunID, journal.EventRunCompleted, "", map[string]string{
		"generated": fmt.Sprint(report.Generated),
		"skipped":   fmt.Sprint(report.Skipped),
		"failed":    fmt.Sprint(report.Failed),
	})

	r.logger.Info("Run completed",
		"run_id", report.RunID,
		"generated", report.Generated,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"removed", report.Removed,
		"duration", report.Duration)
	return report, nil
}

// generate fans the work out and applies results serially as they arrive.
func (r *Runner) generate(ctx context.Context, chain *llm.Chain, endpoints []openapi.Endpoint, st *state.PersistedState, tracker *providers.Tracker, report *Report) error {
	results := make(chan workResult)

	eg, workerCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)

	go func() {
		for _, e := range endpoints {
			endpoint := e
			eg.Go(func() error {
				resp, attempts, err := chain.Generate(workerCtx, llm.BuildRequest(endpoint))
				select {
				case results <- workResult{endpoint: endpoint, response: resp, attempts: attempts, err: err}:
				case <-workerCtx.Done():
					return workerCtx.Err()
				}
				return nil
			})
		}
		// Channel closes only after every worker has delivered its result.
		_ = eg.Wait()
		close(results)
	}()

	for res := range results {
		r.applyResult(ctx, res, st, tracker, report)
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// applyResult performs all bookkeeping for one endpoint on the
// coordinating goroutine: tracker updates, fallback events, state marking,
// output writing, metrics and journal entries.
func (r *Runner) applyResult(ctx context.Context, res workResult, st *state.PersistedState, tracker *providers.Tracker, report *Report) {
	id := res.endpoint.ID()

	for i, attempt := range res.attempts {
		success := attempt.Err == nil
		if success {
			tracker.RecordSuccess(attempt.Provider, attempt.Tokens, attempt.Elapsed.Seconds())
		} else {
			tracker.RecordFailure(attempt.Provider, attempt.ErrKind, attempt.Elapsed.Seconds())
		}
		r.recorder.ObserveProviderRequest(attempt.Provider, attempt.Elapsed, success)

		// Every attempt after the first is a fallback from the previous
		// provider's failure.
		if i > 0 {
			prev := res.attempts[i-1]
			tracker.RecordFallback(id, prev.Provider, attempt.Provider, prev.ErrKind, success)
			r.recorder.IncFallback(prev.Provider, attempt.Provider)
			r.journalEvent(ctx, report.RunID, journal.EventFallback, id, map[string]string{
				"primary":  prev.Provider,
				"fallback": attempt.Provider,
				"error":    prev.ErrKind,
				"success":  fmt.Sprint(success),
			})
		}
	}

	if res.err != nil {
		report.Failed++
		r.recorder.IncEndpointOutcome(metrics.OutcomeFailed)
		r.journalEvent(ctx, report.RunID, journal.EventEndpointFailed, id, map[string]string{
			"error": res.err.Error(),
		})
		r.logger.Error("Endpoint generation failed", "endpoint", id, "error", res.err)
		return
	}

	final := res.attempts[len(res.attempts)-1]
	outputFile, err := r.writeOutput(res.endpoint, res.response.Content)
	if err != nil {
		report.Failed++
		r.recorder.IncEndpointOutcome(metrics.OutcomeFailed)
		r.logger.Error("Failed to write generated tests", "endpoint", id, "error", err)
		return
	}

	r.analyzer.MarkGenerated(st, res.endpoint, analyze.Generation{
		TestCases:  llm.CountTestCases(res.response.Content),
		OutputFile: outputFile,
		Provider:   final.Provider,
		TokensUsed: res.response.TokensUsed,
	})

	report.Generated++
	r.recorder.IncEndpointOutcome(metrics.OutcomeGenerated)
	r.journalEvent(ctx, report.RunID, journal.EventEndpointGenerated, id, map[string]string{
		"provider": final.Provider,
		"tokens":   fmt.Sprint(res.response.TokensUsed),
		"output":   outputFile,
	})
}

// rankedProviders orders the configured providers by tracker score,
// leaving unranked providers in configured order at the end.
func (r *Runner) rankedProviders(tracker *providers.Tracker) []llm.Generator {
	byName := make(map[string]llm.Generator, len(r.providers))
	for _, p := range r.providers {
		byName[p.Name()] = p
	}

	ordered := make([]llm.Generator, 0, len(r.providers))
	seen := make(map[string]bool, len(r.providers))
	for _, score := range tracker.Rank() {
		if p, ok := byName[score.Provider]; ok && !seen[score.Provider] {
			ordered = append(ordered, p)
			seen[score.Provider] = true
		}
	}
	for _, p := range r.providers {
		if !seen[p.Name()] {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

// applyStatistics overwrites the run statistics block.
func (r *Runner) applyStatistics(st *state.PersistedState, tracker *providers.Tracker, report *Report) {
	stats := state.NewProcessingStatistics()
	stats.TotalEndpoints = report.Total
	stats.GeneratedCount = report.Generated
	stats.SkippedCount = report.Skipped
	stats.FailedCount = report.Failed
	stats.LastRunDuration = foundation.Some(report.Duration.Seconds())

	for _, es := range st.Endpoints {
		if es != nil && es.ProviderUsed.IsSome() {
			stats.ProviderUsage[es.ProviderUsed.Unwrap()]++
		}
	}
	stats.ApplyProviderPerformance(tracker.Stats().Performance)
	st.Statistics = stats
}

// writeOutput writes one endpoint's generated tests under the output dir.
func (r *Runner) writeOutput(e openapi.Endpoint, content string) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	name := outputFileName(e)
	path := filepath.Join(r.outputDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return path, nil
}

var outputNameSanitizer = strings.NewReplacer(
	"/", "_",
	"{", "",
	"}", "",
	":", "_",
)

func outputFileName(e openapi.Endpoint) string {
	path := strings.Trim(outputNameSanitizer.Replace(e.Path), "_")
	if path == "" {
		path = "root"
	}
	return strings.ToLower(strings.ToUpper(e.Method) + "_" + path + ".md")
}

func (r *Runner) journalEvent(ctx context.Context, runID, eventType, endpointID string, fields map[string]string) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(ctx, runID, eventType, endpointID, fields); err != nil {
		r.logger.Warn("Failed to append journal event", "type", eventType, "error", err)
	}
}
