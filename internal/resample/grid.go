// Package resample converts irregular sample frames into fixed-frequency,
// gap-controlled grids.
package resample

import (
	"fmt"
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
)

// Method reduces multiple raw samples landing in the same grid bucket.
type Method string

const (
	// MethodNearest keeps the sample whose raw timestamp is closest to the
	// grid timestamp, ties resolved toward the later sample.
	MethodNearest Method = "nearest"
	// MethodMean takes the arithmetic mean of the bucket's non-null values.
	MethodMean Method = "mean"
)

// ParseMethod validates a reduction method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodNearest, MethodMean:
		return Method(s), nil
	}
	return "", errors.NewConfigError(fmt.Sprintf("unknown agg_method %q (want nearest or mean)", s), nil)
}

// Params configures grid construction for one partition.
type Params struct {
	Freq       time.Duration
	MaxGapFill time.Duration
	Method     Method
}

// Validate rejects parameter combinations before any partition is touched.
func (p Params) Validate() error {
	if p.Freq <= 0 {
		return errors.NewConfigError(fmt.Sprintf("freq must be positive, got %s", p.Freq), nil)
	}
	if p.MaxGapFill < 0 {
		return errors.NewConfigError(fmt.Sprintf("max_gap_fill_s must not be negative, got %s", p.MaxGapFill), nil)
	}
	if _, err := ParseMethod(string(p.Method)); err != nil {
		return err
	}
	return nil
}

// Result is a built grid plus, per column, the mask of positions whose value
// was imputed by the forward fill rather than observed.
type Result struct {
	Grid    *dataset.Frame
	Imputed map[string][]bool
}

// Build resamples one partition's frame onto the fixed-frequency grid and
// forward-fills short gaps. The input must be sorted by timestamp and
// deduplicated; it may include trailing context rows from the prior partition
// so the first grid point can seed correctly — callers slice the output back
// to their window.
//
// The grid spans the floor of the first timestamp carrying any valid value
// through the floor of the last (not midnight-to-midnight: rows before
// sensing begins or after it ends would be meaningless). Every intermediate
// bucket is present exactly once.
func Build(in *dataset.Frame, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cols := in.Columns()
	start, ok := firstValidBucket(in, p.Freq)
	if !ok {
		// No valid value anywhere: an empty grid, not an error.
		empty := dataset.NewFrame(nil)
		imputed := make(map[string][]bool, len(cols))
		for _, c := range cols {
			empty.SetColumn(c, nil)
			imputed[c] = nil
		}
		return &Result{Grid: empty, Imputed: imputed}, nil
	}

	// Trailing all-null rows carry no signal and must not extend the grid
	// (or be forward-filled past the last observation).
	end, _ := lastValidBucket(in, p.Freq)
	n := int(end.Sub(start)/p.Freq) + 1

	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * p.Freq)
	}
	grid := dataset.NewFrame(times)

	// Row index range of each bucket, resolved once for all columns.
	buckets := bucketRanges(in.Times, start, p.Freq, n)

	maxRun := 0
	if p.MaxGapFill > 0 {
		maxRun = int(p.MaxGapFill / p.Freq)
	}

	imputed := make(map[string][]bool, len(cols))
	for _, c := range cols {
		src := in.Column(c)
		vals := make([]dataset.Value, n)
		for i := range vals {
			vals[i] = reduceBucket(in.Times, src, buckets[i], times[i], p.Method)
		}
		// Fill state is scoped to this call: one column of one partition.
		imputed[c] = fillColumn(vals, maxRun)
		grid.SetColumn(c, vals)
	}

	return &Result{Grid: grid, Imputed: imputed}, nil
}

// firstValidBucket finds the floor of the earliest row holding at least one
// valid value.
func firstValidBucket(in *dataset.Frame, freq time.Duration) (time.Time, bool) {
	cols := in.Columns()
	for i, ts := range in.Times {
		for _, c := range cols {
			if in.Column(c)[i].Valid {
				return dataset.FloorTo(ts, freq), true
			}
		}
	}
	return time.Time{}, false
}

// lastValidBucket finds the floor of the latest row holding at least one
// valid value.
func lastValidBucket(in *dataset.Frame, freq time.Duration) (time.Time, bool) {
	cols := in.Columns()
	for i := in.Len() - 1; i >= 0; i-- {
		for _, c := range cols {
			if in.Column(c)[i].Valid {
				return dataset.FloorTo(in.Times[i], freq), true
			}
		}
	}
	return time.Time{}, false
}

// span is a half-open row index range [lo, hi) of input rows in one bucket.
type span struct{ lo, hi int }

func bucketRanges(times []time.Time, start time.Time, freq time.Duration, n int) []span {
	out := make([]span, n)
	row := 0
	// Skip context rows before the grid start.
	for row < len(times) && times[row].Before(start) {
		row++
	}
	for i := 0; i < n; i++ {
		bucketEnd := start.Add(time.Duration(i+1) * freq)
		lo := row
		for row < len(times) && times[row].Before(bucketEnd) {
			row++
		}
		out[i] = span{lo: lo, hi: row}
	}
	return out
}

// reduceBucket collapses the bucket's raw samples to one value. Lower bucket
// boundary is inclusive, upper exclusive.
func reduceBucket(times []time.Time, vals []dataset.Value, s span, gridTs time.Time, m Method) dataset.Value {
	switch s.hi - s.lo {
	case 0:
		return dataset.Null()
	case 1:
		return vals[s.lo]
	}

	switch m {
	case MethodMean:
		sum := 0.0
		count := 0
		for i := s.lo; i < s.hi; i++ {
			if vals[i].Valid {
				sum += vals[i].F
				count++
			}
		}
		if count == 0 {
			return dataset.Null()
		}
		return dataset.Of(sum / float64(count))
	default: // nearest
		best := s.lo
		bestDist := absDuration(times[s.lo].Sub(gridTs))
		for i := s.lo + 1; i < s.hi; i++ {
			d := absDuration(times[i].Sub(gridTs))
			// <= keeps the later sample on a distance tie.
			if d <= bestDist {
				best = i
				bestDist = d
			}
		}
		return vals[best]
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
