package treatment

import (
	"context"
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
)

// Clean nulls out physically impossible readings (bounds check) and transient
// spikes (deviation from a centered rolling median). Values are nulled, never
// removed: the row grid stays intact for downstream resampling.
type Clean struct{}

func (Clean) Name() string { return "clean" }

const defaultSpikeWindow = 7

// cleanSpec is one domain's cleaning configuration. Nil bounds and threshold
// disable the corresponding check.
type cleanSpec struct {
	minValue       *float64
	maxValue       *float64
	spikeWindow    int
	spikeThreshold *float64
}

func (Clean) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	specs, err := parseCleanSpecs(env.Params)
	if err != nil {
		return flow.Stats{}, err
	}

	parts, err := files.FindPartitions(env.InputDir)
	if err != nil {
		return flow.Stats{}, errors.NewStorageError(fmt.Sprintf("failed to list partitions in %s", env.InputDir), err)
	}
	if len(parts) == 0 {
		return flow.Stats{}, errors.NewNotFoundError(fmt.Sprintf("no partitions found in %s", env.InputDir), nil)
	}

	return forEachPartition(ctx, partitionsInWindow(parts, env.Window), env.Workers,
		func(ctx context.Context, p files.PartitionFile) (flow.Stats, error) {
			return cleanOne(env, p, specs)
		})
}

func cleanOne(env *flow.Env, p files.PartitionFile, specs map[string]cleanSpec) (flow.Stats, error) {
	var s flow.Stats

	frame, err := env.Store.Read(p.Path)
	if err != nil {
		return s, err
	}
	frame = windowSlice(frame, env.Window)
	s.RowsIn = frame.Len()

	// Unknown domain passes through unchanged.
	if spec, ok := specs[p.Key.Domain]; ok {
		for _, col := range frame.Columns() {
			vals := frame.Column(col)
			s.Dropped += applyBounds(vals, spec.minValue, spec.maxValue)
			if spec.spikeThreshold != nil {
				s.Dropped += rejectSpikes(vals, spec.spikeWindow, *spec.spikeThreshold)
			}
		}
	}

	if err := env.Store.Write(env.OutputDir, "clean", p.Key, frame, env.Mode, env.Window); err != nil {
		return s, err
	}
	s.RowsOut = frame.Len()
	s.PartitionsWritten = 1
	return s, nil
}

// applyBounds nulls values outside [min, max] in place and returns the count.
func applyBounds(vals []dataset.Value, min, max *float64) int {
	if min == nil && max == nil {
		return 0
	}
	n := 0
	for i, v := range vals {
		if !v.Valid {
			continue
		}
		if (min != nil && v.F < *min) || (max != nil && v.F > *max) {
			vals[i] = dataset.Null()
			n++
		}
	}
	return n
}

// rejectSpikes nulls values whose absolute deviation from a centered rolling
// median exceeds threshold. The median ignores nulls; a window with no valid
// neighbors cannot flag anything.
func rejectSpikes(vals []dataset.Value, window int, threshold float64) int {
	if window < 1 {
		window = defaultSpikeWindow
	}

	// The medians are computed against the original values before any
	// nulling, so earlier rejections do not shift later windows.
	medians := make([]float64, len(vals))
	valid := make([]bool, len(vals))
	half := window / 2
	buf := make([]float64, 0, window)
	for i := range vals {
		lo := i - half
		hi := i + (window - 1 - half)
		if lo < 0 {
			lo = 0
		}
		if hi > len(vals)-1 {
			hi = len(vals) - 1
		}
		buf = buf[:0]
		for j := lo; j <= hi; j++ {
			if vals[j].Valid {
				buf = append(buf, vals[j].F)
			}
		}
		if len(buf) == 0 {
			continue
		}
		med, err := stats.Median(stats.Float64Data(buf))
		if err != nil {
			continue
		}
		medians[i] = med
		valid[i] = true
	}

	n := 0
	for i, v := range vals {
		if !v.Valid || !valid[i] {
			continue
		}
		if math.Abs(v.F-medians[i]) > threshold {
			vals[i] = dataset.Null()
			n++
		}
	}
	return n
}

func parseCleanSpecs(p flow.Params) (map[string]cleanSpec, error) {
	raw, err := p.Map("domains")
	if err != nil {
		return nil, err
	}

	out := make(map[string]cleanSpec, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: expected an object", name), nil)
		}
		spec := cleanSpec{spikeWindow: defaultSpikeWindow}
		if spec.minValue, err = optFloat(m, "min_value"); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad min_value", name), err)
		}
		if spec.maxValue, err = optFloat(m, "max_value"); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad max_value", name), err)
		}
		if spec.spikeThreshold, err = optFloat(m, "spike_threshold"); err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad spike_threshold", name), err)
		}
		if w, ok := m["spike_window"]; ok {
			f, err := asFloat(w)
			if err != nil {
				return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad spike_window", name), err)
			}
			spec.spikeWindow = int(f)
		}
		out[name] = spec
	}
	return out, nil
}

func optFloat(m map[string]any, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, err := asFloat(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}
