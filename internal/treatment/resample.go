package treatment

import (
	"context"
	"fmt"
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
	"myxcli/internal/resample"
)

// Resample projects each partition onto a fixed-frequency grid and
// forward-fills gaps short enough to be trusted. The aggregation method can
// vary per domain: slow-moving channels average, event-like ones take the
// nearest sample.
type Resample struct{}

func (Resample) Name() string { return "resample" }

func (Resample) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	freq, err := env.Params.Duration("freq")
	if err != nil {
		return flow.Stats{}, err
	}
	var maxGapFill time.Duration
	if env.Params.Has("max_gap_fill_s") {
		maxGapFill, err = env.Params.Seconds("max_gap_fill_s")
		if err != nil {
			return flow.Stats{}, err
		}
	}
	methods := map[string]string{}
	if env.Params.Has("agg_method") {
		methods, err = env.Params.StringMap("agg_method")
		if err != nil {
			return flow.Stats{}, err
		}
	}
	for domain, m := range methods {
		if _, err := resample.ParseMethod(m); err != nil {
			return flow.Stats{}, errors.NewConfigError(fmt.Sprintf("agg_method for domain %q", domain), err)
		}
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
			method := resample.MethodMean
			if m, ok := methods[p.Key.Domain]; ok {
				method = resample.Method(m)
			}
			return resampleOne(env, p, resample.Params{
				Freq:       freq,
				MaxGapFill: maxGapFill,
				Method:     method,
			})
		})
}

func resampleOne(env *flow.Env, p files.PartitionFile, params resample.Params) (flow.Stats, error) {
	var s flow.Stats

	dayStart, err := p.Key.DayStart()
	if err != nil {
		return s, err
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	// The slice this invocation owns: the window clamped to the partition's day.
	lo := dayStart
	if env.Window.From.After(dayStart) {
		lo = env.Window.From
	}
	hi := dayEnd
	if to := env.Window.HalfOpenTo(); !to.IsZero() && to.Before(dayEnd) {
		hi = to
	}

	frame, err := env.Store.Read(p.Path)
	if err != nil {
		return s, err
	}

	// Seed the grid with rows just before the slice so the first buckets can
	// bind and fill like any interior bucket. The seed reaches back one fill
	// horizon plus one bucket; when that crosses midnight it comes from the
	// previous day's partition.
	contextStart := lo.Add(-(params.MaxGapFill + params.Freq))
	input := frame.Slice(contextStart, hi)
	if contextStart.Before(dayStart) {
		prevKey, err := p.Key.PrevDay()
		if err != nil {
			return s, err
		}
		prevFrame, err := env.Store.ReadKey(env.InputDir, p.Step, prevKey)
		if err != nil {
			return s, err
		}
		if prevFrame.Len() > 0 {
			input = dataset.Merge(prevFrame.Slice(contextStart, dayStart), input)
		}
	}
	s.RowsIn = input.Len()

	result, err := resample.Build(input, params)
	if err != nil {
		return s, err
	}

	grid := result.Grid.Slice(lo, hi)
	s.Filled = countImputed(result, lo, hi)

	if err := env.Store.Write(env.OutputDir, "resampled", p.Key, grid, env.Mode, env.Window); err != nil {
		return s, err
	}
	s.RowsOut = grid.Len()
	s.PartitionsWritten = 1
	return s, nil
}

// countImputed tallies gap-filled cells within [lo, hi).
func countImputed(r *resample.Result, lo, hi time.Time) int {
	n := 0
	for i, ts := range r.Grid.Times {
		if ts.Before(lo) || !ts.Before(hi) {
			continue
		}
		for _, mask := range r.Imputed {
			if mask[i] {
				n++
			}
		}
	}
	return n
}
