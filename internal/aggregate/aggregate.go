// Package aggregate rolls fixed-frequency grids up into epoch-aligned
// aggregation windows with configurable metrics.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
)

// WindowSpec is one aggregation bucket duration. Buckets are left-closed,
// right-open and aligned to absolute Unix-epoch boundaries, never to where a
// grid happens to start, so overlapping ranges processed independently
// produce identical buckets.
type WindowSpec struct {
	Duration time.Duration
	Label    string
}

// ParseWindow parses a duration label such as "10s", "60s", "5m" or "1h".
// The label is preserved verbatim for partition naming.
func ParseWindow(s string) (WindowSpec, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return WindowSpec{}, errors.NewConfigError(fmt.Sprintf("bad window %q", s), err)
	}
	if d <= 0 {
		return WindowSpec{}, errors.NewConfigError(fmt.Sprintf("window %q must be positive", s), nil)
	}
	return WindowSpec{Duration: d, Label: s}, nil
}

// Params configures one aggregation pass.
type Params struct {
	Windows []WindowSpec
	Metrics []string

	// OmitEmptyBuckets drops all-null bucket rows instead of emitting them
	// with null metrics. Default (false) emits the row: consumers should see
	// "no data" explicitly rather than infer it from absence.
	OmitEmptyBuckets bool
}

// Validate resolves metric names and checks the window list; any failure here
// is fatal before a single partition is touched.
func (p Params) Validate() error {
	if len(p.Windows) == 0 {
		return errors.NewConfigError("at least one aggregation window is required", nil)
	}
	if len(p.Metrics) == 0 {
		return errors.NewConfigError("at least one metric is required", nil)
	}
	for _, w := range p.Windows {
		if w.Duration <= 0 {
			return errors.NewConfigError(fmt.Sprintf("window %q must be positive", w.Label), nil)
		}
	}
	for _, m := range p.Metrics {
		if _, err := LookupMetric(m); err != nil {
			return err
		}
	}
	return nil
}

// ColumnName builds the deterministic output column for a source column and
// metric: m0__sqrt_inv + mean → m0__sqrt_inv__mean, and bare columns gain a
// raw tag: m0 + mean → m0__raw__mean.
func ColumnName(col, metric string) string {
	if strings.Contains(col, "__") {
		return col + "__" + metric
	}
	return col + "__raw__" + metric
}

// Run buckets the grid into every requested window and computes every
// requested metric per bucket per column. The result maps window label to a
// frame with one row per bucket boundary between the grid's first and last
// timestamps — including all-null buckets unless OmitEmptyBuckets is set.
func Run(grid *dataset.Frame, p Params) (map[string]*dataset.Frame, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	funcs := make([]MetricFunc, len(p.Metrics))
	for i, m := range p.Metrics {
		f, err := LookupMetric(m)
		if err != nil {
			return nil, err
		}
		funcs[i] = f
	}

	out := make(map[string]*dataset.Frame, len(p.Windows))
	for _, w := range p.Windows {
		out[w.Label] = runWindow(grid, w, p.Metrics, funcs, p.OmitEmptyBuckets)
	}
	return out, nil
}

func runWindow(grid *dataset.Frame, w WindowSpec, metrics []string, funcs []MetricFunc, omitEmpty bool) *dataset.Frame {
	cols := grid.Columns()
	if grid.Len() == 0 {
		empty := dataset.NewFrame(nil)
		for _, c := range cols {
			for _, m := range metrics {
				empty.SetColumn(ColumnName(c, m), nil)
			}
		}
		return empty
	}

	first := dataset.FloorTo(grid.Times[0], w.Duration)
	last := dataset.FloorTo(grid.Times[grid.Len()-1], w.Duration)
	nBuckets := int(last.Sub(first)/w.Duration) + 1

	// Half-open row ranges per bucket; grid rows are contiguous so each
	// bucket is a slice of consecutive rows.
	starts := make([]int, nBuckets+1)
	row := 0
	for b := 0; b < nBuckets; b++ {
		starts[b] = row
		end := first.Add(time.Duration(b+1) * w.Duration)
		for row < grid.Len() && grid.Times[row].Before(end) {
			row++
		}
	}
	starts[nBuckets] = row

	times := make([]time.Time, nBuckets)
	for b := range times {
		times[b] = first.Add(time.Duration(b) * w.Duration)
	}

	cells := make([]cell, len(cols))
	for ci, c := range cols {
		src := grid.Column(c)
		values := make([][]float64, nBuckets)
		for b := 0; b < nBuckets; b++ {
			for i := starts[b]; i < starts[b+1]; i++ {
				if src[i].Valid {
					values[b] = append(values[b], src[i].F)
				}
			}
		}
		cells[ci] = cell{col: c, values: values}
	}

	keep := make([]int, 0, nBuckets)
	for b := 0; b < nBuckets; b++ {
		if omitEmpty && bucketEmpty(cells, b) {
			continue
		}
		keep = append(keep, b)
	}

	keptTimes := make([]time.Time, len(keep))
	for i, b := range keep {
		keptTimes[i] = times[b]
	}
	frame := dataset.NewFrame(keptTimes)
	for _, c := range cells {
		for mi, m := range metrics {
			vals := make([]dataset.Value, len(keep))
			for i, b := range keep {
				if len(c.values[b]) == 0 {
					continue // null for every metric
				}
				if v, ok := funcs[mi](c.values[b]); ok {
					vals[i] = dataset.Of(v)
				}
			}
			frame.SetColumn(ColumnName(c.col, m), vals)
		}
	}
	return frame
}

// cell holds, for one source column, the non-null values of every bucket in
// time order.
type cell struct {
	col    string
	values [][]float64
}

func bucketEmpty(cells []cell, b int) bool {
	for _, c := range cells {
		if len(c.values[b]) > 0 {
			return false
		}
	}
	return true
}
