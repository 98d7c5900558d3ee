// Package orchestrator provides the generation facade: validate the
// batch, pick an execution strategy from resource pressure, delegate to
// the worker pool, and aggregate per-template results into one report.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stencilkit/stencil/internal/config"
	stencilerrors "github.com/stencilkit/stencil/internal/errors"
	"github.com/stencilkit/stencil/internal/logging"
	"github.com/stencilkit/stencil/internal/monitor"
	"github.com/stencilkit/stencil/internal/scheduler"
	"github.com/stencilkit/stencil/internal/types"
	"github.com/stencilkit/stencil/internal/validation"
)

// Options carries per-call overrides. Zero values fall back to the
// generator configuration the orchestrator was constructed with.
type Options struct {
	// MaxConcurrency overrides the configured worker bound.
	MaxConcurrency int
	// Strict enables strict failure propagation and makes malformed
	// templates fatal instead of excluded.
	Strict bool
	// Timeout overrides the configured overall deadline.
	Timeout time.Duration
	// OnProgress, when set, receives periodic pool snapshots while the
	// run executes. Explicitly a callback: there is no event bus.
	OnProgress func(scheduler.PoolStats)
}

// Report is the aggregate outcome of one generation run.
type Report struct {
	RunID    string
	Results  []types.ProcessingResult
	Errors   []error
	Warnings []string
	// Success is true when no template ended Failed.
	Success  bool
	Duration time.Duration
}

// Artifacts returns every artifact produced by successful templates.
func (r *Report) Artifacts() []types.Artifact {
	var out []types.Artifact
	for _, res := range r.Results {
		if res.Success {
			out = append(out, res.Outputs...)
		}
	}
	return out
}

// FailedCount returns the number of Failed templates.
func (r *Report) FailedCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}
	return n
}

// Orchestrator wires the validator, resource monitor, and worker pool
// together. All collaborators are passed in explicitly; the orchestrator
// owns no ambient state.
type Orchestrator struct {
	cfg       *config.Config
	validator *validation.DependencyValidator
	monitor   *monitor.ResourceMonitor
	pool      *scheduler.WorkerPoolScheduler
	logger    logging.Logger
}

// New creates an orchestrator. The validator is created internally since
// it is stateless; monitor and pool must be provided.
func New(cfg *config.Config, mon *monitor.ResourceMonitor, pool *scheduler.WorkerPoolScheduler, logger logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		cfg:       cfg,
		validator: validation.NewDependencyValidator(),
		monitor:   mon,
		pool:      pool,
		logger:    logger.WithComponent("orchestrator"),
	}
}

// Generate runs the full pipeline for a template batch. Structural
// errors abort before any work is attempted; item-level failures are
// attached to their results and never unwind the run.
func (o *Orchestrator) Generate(ctx context.Context, templates []*types.Template, gctx *types.GeneratorContext, opts Options) *Report {
	started := time.Now()
	report := &Report{RunID: uuid.NewString()}
	collected := stencilerrors.NewCollector()
	log := o.logger.With("run_id", report.RunID)

	// All return paths flow through finish so the report always carries
	// everything the collector accumulated.
	finish := func() *Report {
		report.Errors = collected.Errors()
		report.Warnings = collected.Warnings()
		report.Duration = time.Since(started)
		return report
	}

	log.Info(ctx, "generation requested", "templates", len(templates))

	// Step 1: structural validation is fatal for the whole batch. A
	// partial, order-unsafe subset is never scheduled.
	depReport := o.validator.ValidateDependencies(templates)
	if !depReport.Valid() {
		for _, cycle := range depReport.CircularDependencies {
			collected.AddError(stencilerrors.NewValidationError(
				stencilerrors.ErrCodeCircularDependency,
				fmt.Sprintf("circular dependency: %v", cycle)))
		}
		for _, missing := range depReport.MissingDependencies {
			collected.AddError(stencilerrors.NewValidationError(
				stencilerrors.ErrCodeMissingDependency,
				fmt.Sprintf("dependency %q does not resolve to a registered template", missing)))
		}
		log.Error(ctx, nil, "structural validation failed",
			"cycles", len(depReport.CircularDependencies),
			"missing", len(depReport.MissingDependencies))
		return finish()
	}

	// Step 2: per-template validation. Malformed templates are excluded
	// and reported as warnings; under strict they are fatal.
	schedulable := make([]*types.Template, 0, len(templates))
	for _, tmpl := range templates {
		result := o.validator.ValidateTemplate(tmpl)
		for _, w := range result.Warnings {
			collected.AddWarning(w)
		}
		if result.IsValid {
			schedulable = append(schedulable, tmpl)
			continue
		}
		if opts.Strict || o.cfg.Generator.StrictMode {
			for _, msg := range result.Errors {
				collected.AddError(stencilerrors.NewValidationError(
					stencilerrors.ErrCodeInvalidTemplate, msg).WithTemplate(tmpl.ID))
			}
			return finish()
		}
		for _, msg := range result.Errors {
			collected.AddWarning(fmt.Sprintf("template %q excluded: %s", tmpl.ID, msg))
		}
	}

	if len(schedulable) == 0 {
		report.Success = true
		return finish()
	}

	// Step 3: resource strategy.
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = o.cfg.EffectiveConcurrency()
	}
	runCtx := gctx
	if o.monitor != nil {
		inputSize := batchInputSize(schedulable, gctx)
		if o.monitor.ShouldOptimize(inputSize) {
			workers := o.monitor.RecommendedWorkers(maxConcurrency, inputSize)
			log.Info(ctx, "resource pressure detected, reducing parallelism",
				"input_bytes", inputSize, "workers", workers, "configured", maxConcurrency)
			for _, rec := range o.monitor.OptimizationRecommendations() {
				collected.AddWarning(rec)
			}
			maxConcurrency = workers

			// The context itself stays read-only during the run; the
			// streaming hint is set on a copy made before scheduling.
			hinted := *gctx
			hinted.Render.Streaming = true
			runCtx = &hinted
		}
	}

	// Step 4: delegate to the worker pool under the overall deadline.
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.cfg.Generator.Timeout
	}
	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stopProgress := o.startProgress(execCtx, opts.OnProgress)
	results := o.pool.ProcessTemplates(execCtx, schedulable, runCtx, scheduler.Options{
		MaxConcurrency: maxConcurrency,
		StrictMode:     opts.Strict || o.cfg.Generator.StrictMode,
		RenderTimeout:  o.cfg.Generator.RenderTimeout,
	})
	stopProgress()

	// Step 5: aggregate.
	report.Results = results
	report.Success = true
	for _, res := range results {
		if res.Failed() {
			report.Success = false
		}
	}

	log.Info(ctx, "generation finished",
		"success", report.Success,
		"failed", report.FailedCount(),
		"duration_ms", time.Since(started).Milliseconds())
	return finish()
}

// startProgress polls pool stats for the callback until stopped. Returns
// a stop function; a nil callback yields a no-op.
func (o *Orchestrator) startProgress(ctx context.Context, onProgress func(scheduler.PoolStats)) func() {
	if onProgress == nil {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				onProgress(o.pool.Stats())
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
		// One final snapshot so callers see the terminal state.
		onProgress(o.pool.Stats())
	}
}

// batchInputSize estimates the bytes a run will pull through memory:
// template sources plus a rough size for the shared context metadata.
func batchInputSize(templates []*types.Template, gctx *types.GeneratorContext) int64 {
	var total int64
	for _, tmpl := range templates {
		total += int64(len(tmpl.Source))
	}
	for k, v := range gctx.Metadata {
		total += int64(len(k) + len(v))
	}
	return total
}
