package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"myxcli/internal/infrastructure"
	"myxcli/internal/metrics"
	"myxcli/internal/storage"
	"myxcli/internal/timerange"
)

// Driver sequences a flow's treatments over one resolved processing window.
// It stops at the first failing step and never rolls back partitions already
// committed: incremental re-invocation is the recovery mechanism, which is
// why treatments must be idempotent.
type Driver struct {
	registry  *Registry
	store     *storage.Store
	resolver  timerange.Resolver
	logger    *slog.Logger
	collector *metrics.Collector
	tracer    trace.Tracer
	workers   int
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	Registry  *Registry
	Store     *storage.Store
	Resolver  timerange.Resolver
	Logger    *slog.Logger
	Collector *metrics.Collector
	Tracer    trace.Tracer
	Workers   int
}

// NewDriver creates a flow driver.
func NewDriver(opts DriverOptions) *Driver {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Store == nil {
		opts.Store = storage.NewStore(opts.Logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer(infrastructure.TracerName)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Resolver.MinWindow == 0 {
		opts.Resolver = timerange.NewResolver()
	}
	return &Driver{
		registry:  opts.Registry,
		store:     opts.Store,
		resolver:  opts.Resolver,
		logger:    opts.Logger,
		collector: opts.Collector,
		tracer:    opts.Tracer,
		workers:   opts.Workers,
	}
}

// Registry exposes the treatment registry for startup registration.
func (d *Driver) Registry() *Registry {
	return d.registry
}

// RunRequest describes one flow invocation.
type RunRequest struct {
	Definition  *Definition
	DatasetsDir string

	From        *time.Time
	To          *time.Time
	Incremental bool
	Mode        timerange.OutputMode

	FromStep string
	ToStep   string
	OnlyStep string
}

// StepResult reports one executed step.
type StepResult struct {
	Treatment string
	Stats     Stats
	Duration  time.Duration
	Err       error
}

// RunResult reports a whole invocation. NoOp runs are successes that touched
// nothing.
type RunResult struct {
	RunID  string
	Window timerange.Window
	NoOp   bool
	Steps  []StepResult
}

// Run resolves the processing window, applies output-mode preparation and
// executes the (filtered) step sequence in order.
func (d *Driver) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	runID := uuid.NewString()
	ctx = infrastructure.WithRunID(ctx, runID)
	result := &RunResult{RunID: runID}

	mode := req.Mode
	if mode == "" {
		mode = timerange.ModeAppend
	}

	steps, err := req.Definition.ResolveSteps(req.DatasetsDir)
	if err != nil {
		return result, err
	}
	steps, err = FilterSteps(steps, req.FromStep, req.ToStep, req.OnlyStep)
	if err != nil {
		return result, err
	}

	// Validate every step's treatment up front: configuration problems are
	// fatal before any partition is touched.
	treatments := make([]Treatment, len(steps))
	for i, s := range steps {
		t, err := d.registry.Get(s.Treatment)
		if err != nil {
			return result, err
		}
		treatments[i] = t
	}

	window, err := d.resolveWindow(ctx, req, steps[0], mode)
	if err != nil {
		return result, err
	}
	result.Window = window
	if window.NoOp {
		result.NoOp = true
		d.logger.InfoContext(ctx, "flow_noop",
			slog.String("flow", req.Definition.Name),
			slog.String("reason", window.Reason))
		return result, nil
	}

	// full-replace recomputes the resolved range from scratch: wipe every
	// output stage, then proceed as an append. The wipe waits until a real
	// window is in hand so a no-op or invalid invocation never removes
	// committed partitions.
	if mode == timerange.ModeFullReplace {
		for _, s := range steps {
			n, err := d.store.WipeStage(s.Output)
			if err != nil {
				return result, err
			}
			if n > 0 {
				d.logger.InfoContext(ctx, "stage_cleared",
					slog.String("output", s.Output),
					slog.Int("partitions", n))
			}
		}
		mode = timerange.ModeAppend
	}

	d.logger.InfoContext(ctx, "flow_started",
		slog.String("flow", req.Definition.Name),
		slog.Int("steps", len(steps)),
		slog.String("window", window.String()),
		slog.String("mode", string(mode)))

	for i, s := range steps {
		stepResult, err := d.runStep(ctx, req.Definition.Dataset, treatments[i], s, window, mode)
		result.Steps = append(result.Steps, stepResult)
		if err != nil {
			d.logger.ErrorContext(ctx, "flow_failed",
				slog.String("flow", req.Definition.Name),
				slog.Int("step", i+1),
				slog.String("treatment", s.Treatment),
				slog.Any("error", err))
			// No rollback: partitions committed by earlier steps (and earlier
			// partitions of this step) stay as they are.
			return result, fmt.Errorf("step %d/%d (%s) failed: %w", i+1, len(steps), s.Treatment, err)
		}
	}

	d.logger.InfoContext(ctx, "flow_completed",
		slog.String("flow", req.Definition.Name),
		slog.Int("steps", len(steps)))
	return result, nil
}

func (d *Driver) runStep(ctx context.Context, dataset string, t Treatment, s StepDef,
	window timerange.Window, mode timerange.OutputMode) (StepResult, error) {

	ctx, span := d.tracer.Start(ctx, "treatment."+s.Treatment,
		trace.WithAttributes(
			attribute.String("treatment", s.Treatment),
			attribute.String("window", window.String()),
			attribute.String("mode", string(mode)),
		))
	defer span.End()

	env := &Env{
		Dataset:   dataset,
		InputDir:  s.Input,
		OutputDir: s.Output,
		Params:    Params(s.Params),
		Window:    window,
		Mode:      mode,
		Workers:   d.workers,
		Store:     d.store,
		Logger:    d.logger.With(slog.String("treatment", s.Treatment)),
		Metrics:   d.collector,
	}

	d.logger.InfoContext(ctx, "treatment_started",
		slog.String("treatment", s.Treatment),
		slog.String("input", s.Input),
		slog.String("output", s.Output),
		slog.String("window", window.String()))

	start := time.Now()
	stats, err := t.Run(ctx, env)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if d.collector != nil {
		d.collector.TreatmentDuration.WithLabelValues(s.Treatment, status).Observe(elapsed.Seconds())
	}
	stats.Observe(d.collector, s.Treatment)

	res := StepResult{Treatment: s.Treatment, Stats: stats, Duration: elapsed, Err: err}
	if err != nil {
		d.logger.ErrorContext(ctx, "treatment_failed",
			slog.String("treatment", s.Treatment),
			slog.Duration("duration", elapsed),
			slog.Any("error", err))
		return res, err
	}

	d.logger.InfoContext(ctx, "treatment_completed",
		slog.String("treatment", s.Treatment),
		slog.Duration("duration", elapsed),
		slog.Int("rows_in", stats.RowsIn),
		slog.Int("rows_out", stats.RowsOut),
		slog.Int("partitions", stats.PartitionsWritten))
	return res, nil
}

// resolveWindow applies the bound rules using the first step's stage
// directories as the incremental reference, matching how the flow is
// invoked end to end.
func (d *Driver) resolveWindow(ctx context.Context, req RunRequest, first StepDef,
	mode timerange.OutputMode) (timerange.Window, error) {

	in := timerange.Inputs{
		ExplicitFrom: req.From,
		ExplicitTo:   req.To,
		Incremental:  req.Incremental,
	}

	if req.Incremental {
		if ts, ok, err := d.store.LastTimestamp(first.Input); err != nil {
			return timerange.Window{}, err
		} else if ok {
			in.LastInput = &ts
		}
		// full-replace discards committed outputs anyway: resolving against
		// their last timestamp would shrink the recompute to the tail.
		if mode != timerange.ModeFullReplace {
			if ts, ok, err := d.store.LastTimestamp(first.Output); err != nil {
				return timerange.Window{}, err
			} else if ok {
				in.LastOutput = &ts
			}
		}
	}

	window, err := d.resolver.Resolve(in)
	if err != nil {
		return timerange.Window{}, err
	}
	if req.Incremental && !window.NoOp {
		d.logger.InfoContext(ctx, "incremental_window_resolved",
			slog.String("window", window.String()))
	}
	return window, nil
}
