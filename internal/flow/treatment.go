package flow

import (
	"context"
	"log/slog"

	"myxcli/internal/metrics"
	"myxcli/internal/storage"
	"myxcli/internal/timerange"
)

// Treatment is one pluggable processing step. Implementations are resolved
// from the registry by name at startup; the driver depends only on this
// capability, not on how implementations are discovered.
type Treatment interface {
	// Name returns the unique identifier used in flow definitions.
	Name() string

	// Run processes every partition the window touches, reading from
	// env.InputDir and committing to env.OutputDir under env.Mode. It must be
	// idempotent for a fixed (input, params, window, mode).
	Run(ctx context.Context, env *Env) (Stats, error)
}

// Env carries everything a treatment needs for one invocation. It is built
// by the driver per step and never shared across steps.
type Env struct {
	Dataset   string
	InputDir  string
	OutputDir string
	Params    Params
	Window    timerange.Window
	Mode      timerange.OutputMode

	// Workers bounds intra-step partition parallelism. Always >= 1.
	Workers int

	Store   *storage.Store
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// Stats summarizes one treatment run for logs and metrics.
type Stats struct {
	RowsIn            int
	RowsOut           int
	Filled            int
	Dropped           int
	PartitionsWritten int
}

// Add merges another stats value in. Used when partitions are processed
// concurrently and tallied at the end.
func (s *Stats) Add(o Stats) {
	s.RowsIn += o.RowsIn
	s.RowsOut += o.RowsOut
	s.Filled += o.Filled
	s.Dropped += o.Dropped
	s.PartitionsWritten += o.PartitionsWritten
}

// Observe publishes the stats to the prometheus collector.
func (s Stats) Observe(c *metrics.Collector, treatment string) {
	if c == nil {
		return
	}
	c.RowsIn.WithLabelValues(treatment).Add(float64(s.RowsIn))
	c.RowsOut.WithLabelValues(treatment).Add(float64(s.RowsOut))
	c.GapFilledValues.WithLabelValues(treatment).Add(float64(s.Filled))
	c.RowsDropped.WithLabelValues(treatment).Add(float64(s.Dropped))
	c.PartitionsWritten.WithLabelValues(treatment).Add(float64(s.PartitionsWritten))
}
