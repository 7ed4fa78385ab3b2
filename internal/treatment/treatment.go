// Package treatment implements the pluggable pipeline steps: parse, clean,
// resample, transform, normalize, aggregate and exportcsv. Each treatment
// processes the partitions its window touches and commits results under the
// invocation's output mode.
package treatment

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"myxcli/internal/dataset"
	"myxcli/internal/files"
	"myxcli/internal/flow"
	"myxcli/internal/timerange"
)

// RegisterAll wires every built-in treatment into the registry.
func RegisterAll(r *flow.Registry) error {
	for _, t := range []flow.Treatment{
		Parse{},
		Clean{},
		Resample{},
		Transform{},
		Normalize{},
		Aggregate{},
		ExportCSV{},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// partitionsInWindow keeps partitions whose day intersects the window.
func partitionsInWindow(parts []files.PartitionFile, w timerange.Window) []files.PartitionFile {
	out := make([]files.PartitionFile, 0, len(parts))
	for _, p := range parts {
		dayStart, err := p.Key.DayStart()
		if err != nil {
			continue
		}
		if w.OverlapsDay(dayStart) {
			out = append(out, p)
		}
	}
	return out
}

// forEachPartition processes partitions concurrently with bounded
// parallelism. Partitions share no state, so this is safe by construction;
// the first error cancels the remaining work. Stats are tallied across all
// completed partitions.
func forEachPartition(ctx context.Context, parts []files.PartitionFile, workers int,
	fn func(ctx context.Context, p files.PartitionFile) (flow.Stats, error)) (flow.Stats, error) {

	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		total flow.Stats
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, p := range parts {
		p := p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats, err := fn(ctx, p)
			if err != nil {
				return err
			}
			mu.Lock()
			total.Add(stats)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return total, err
}

// windowSlice trims a frame to the invocation's window.
func windowSlice(f *dataset.Frame, w timerange.Window) *dataset.Frame {
	return f.Slice(w.From, w.HalfOpenTo())
}
