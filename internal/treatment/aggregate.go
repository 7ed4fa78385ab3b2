package treatment

import (
	"context"
	"fmt"
	"sort"

	"myxcli/internal/aggregate"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
)

// Aggregate reduces gridded partitions to windowed summary metrics, one
// output partition per (input partition, window label).
type Aggregate struct{}

func (Aggregate) Name() string { return "aggregate" }

func (Aggregate) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	windowLabels, err := env.Params.Strings("windows")
	if err != nil {
		return flow.Stats{}, err
	}
	metricNames, err := env.Params.Strings("metrics")
	if err != nil {
		return flow.Stats{}, err
	}

	windows := make([]aggregate.WindowSpec, len(windowLabels))
	for i, label := range windowLabels {
		if windows[i], err = aggregate.ParseWindow(label); err != nil {
			return flow.Stats{}, err
		}
	}
	params := aggregate.Params{
		Windows:          windows,
		Metrics:          metricNames,
		OmitEmptyBuckets: env.Params.BoolOr("omit_empty_buckets", false),
	}
	if err := params.Validate(); err != nil {
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
			return aggregateOne(env, p, params)
		})
}

func aggregateOne(env *flow.Env, p files.PartitionFile, params aggregate.Params) (flow.Stats, error) {
	var s flow.Stats

	grid, err := env.Store.Read(p.Path)
	if err != nil {
		return s, err
	}
	grid = windowSlice(grid, env.Window)
	s.RowsIn = grid.Len()
	if grid.Len() == 0 {
		return s, nil
	}

	byWindow, err := aggregate.Run(grid, params)
	if err != nil {
		return s, err
	}

	labels := make([]string, 0, len(byWindow))
	for label := range byWindow {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		frame := byWindow[label]
		key := p.Key
		key.Window = label
		if err := env.Store.Write(env.OutputDir, "aggregated", key, frame, env.Mode, env.Window); err != nil {
			return s, err
		}
		s.RowsOut += frame.Len()
		s.PartitionsWritten++
	}
	return s, nil
}
