package treatment

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
	"myxcli/internal/timerange"
)

// ExportCSV flattens aggregated partitions into one tab-separated file per
// source, with timestamps rendered in a display timezone. This is the hand-off
// format for downstream analysis tools, so it writes plain files rather than
// partitions.
type ExportCSV struct{}

func (ExportCSV) Name() string { return "exportcsv" }

const exportTimeLayout = "2006-01-02 15:04:05"

// exportColumn maps one stored column to its display name.
type exportColumn struct {
	column string
	as     string
}

func (ExportCSV) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	aggregation, err := env.Params.String("aggregation")
	if err != nil {
		return flow.Stats{}, err
	}
	domain, err := env.Params.String("domain")
	if err != nil {
		return flow.Stats{}, err
	}
	loc := time.UTC
	if tz := env.Params.StringOr("tz", "UTC"); tz != "UTC" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return flow.Stats{}, errors.NewConfigError(fmt.Sprintf("unknown tz %q", tz), err)
		}
	}
	columns, err := parseExportColumns(env.Params)
	if err != nil {
		return flow.Stats{}, err
	}

	all, err := files.FindPartitions(env.InputDir)
	if err != nil {
		return flow.Stats{}, errors.NewStorageError(fmt.Sprintf("failed to list partitions in %s", env.InputDir), err)
	}

	bySource := make(map[string][]files.PartitionFile)
	for _, p := range partitionsInWindow(all, env.Window) {
		if p.Key.Domain != domain || p.Key.Window != aggregation {
			continue
		}
		bySource[p.Key.Source] = append(bySource[p.Key.Source], p)
	}
	if len(bySource) == 0 {
		return flow.Stats{}, errors.NewNotFoundError(fmt.Sprintf(
			"no partitions found matching domain=%s aggregation=%s in %s", domain, aggregation, env.InputDir), nil)
	}

	if err := os.MkdirAll(env.OutputDir, 0o755); err != nil {
		return flow.Stats{}, errors.NewStorageError(fmt.Sprintf("failed to create %s", env.OutputDir), err)
	}

	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var stats flow.Stats
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		s, err := exportSource(env, source, bySource[source], aggregation, columns, loc)
		if err != nil {
			return stats, err
		}
		stats.Add(s)
	}
	return stats, nil
}

func exportSource(env *flow.Env, source string, parts []files.PartitionFile,
	aggregation string, columns []exportColumn, loc *time.Location) (flow.Stats, error) {

	var s flow.Stats

	merged := dataset.NewFrame(nil)
	for _, p := range parts {
		frame, err := env.Store.Read(p.Path)
		if err != nil {
			return s, err
		}
		merged = dataset.Merge(merged, frame)
	}
	merged = windowSlice(merged, env.Window)
	s.RowsIn = merged.Len()
	if merged.Len() == 0 {
		return s, nil
	}

	var missing []string
	for _, c := range columns {
		if !merged.HasColumn(c.column) {
			missing = append(missing, c.column)
		}
	}
	if len(missing) > 0 {
		return s, errors.NewDataError(fmt.Sprintf("columns not found in data: %v", missing), nil)
	}

	name := exportFileName(env.Dataset, source, aggregation, env.Window)
	path := filepath.Join(env.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return s, errors.NewStorageError(fmt.Sprintf("failed to create export %s", path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = '\t'

	header := make([]string, 0, len(columns)+1)
	header = append(header, "Time")
	for _, c := range columns {
		header = append(header, c.as)
	}
	if err := w.Write(header); err != nil {
		return s, errors.NewStorageError(fmt.Sprintf("failed to write export %s", path), err)
	}

	row := make([]string, len(header))
	for i, ts := range merged.Times {
		row[0] = ts.In(loc).Format(exportTimeLayout)
		for j, c := range columns {
			row[j+1] = ""
			if v := merged.At(c.column, i); v.Valid {
				row[j+1] = strconv.FormatFloat(v.F, 'g', -1, 64)
			}
		}
		if err := w.Write(row); err != nil {
			return s, errors.NewStorageError(fmt.Sprintf("failed to write export %s", path), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return s, errors.NewStorageError(fmt.Sprintf("failed to write export %s", path), err)
	}

	env.Logger.Info("export written",
		slog.String("source", source),
		slog.Int("rows", merged.Len()),
		slog.String("file", name))
	s.RowsOut = merged.Len()
	s.PartitionsWritten = 1
	return s, nil
}

// exportFileName builds <dataset>_<source>_aggregated_<window>_<from>_<to>.csv
// with day-resolution bounds taken from the processing window.
func exportFileName(ds, source, aggregation string, w timerange.Window) string {
	from := "start"
	if !w.From.IsZero() {
		from = w.From.UTC().Format(dataset.DayFormat)
	}
	to := "end"
	if !w.To.IsZero() {
		to = w.To.UTC().Format(dataset.DayFormat)
	}
	return fmt.Sprintf("%s_%s_aggregated_%s_%s_%s.csv", ds, source, aggregation, from, to)
}

// parseExportColumns reads the columns param. A list of {column, as} objects
// preserves declaration order; a plain column → name map exports in sorted
// column order.
func parseExportColumns(p flow.Params) ([]exportColumn, error) {
	v, ok := p["columns"]
	if !ok {
		return nil, errors.NewConfigError("columns is required", nil)
	}

	switch spec := v.(type) {
	case []any:
		out := make([]exportColumn, 0, len(spec))
		for i, item := range spec {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, errors.NewConfigError(fmt.Sprintf("columns[%d]: expected an object", i), nil)
			}
			col, ok := m["column"].(string)
			if !ok {
				return nil, errors.NewConfigError(fmt.Sprintf("columns[%d]: column is required", i), nil)
			}
			as, ok := m["as"].(string)
			if !ok {
				as = col
			}
			out = append(out, exportColumn{column: col, as: as})
		}
		return out, nil
	case map[string]any:
		m, err := asStringMap(spec)
		if err != nil {
			return nil, errors.NewConfigError("bad columns", err)
		}
		cols := make([]string, 0, len(m))
		for c := range m {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		out := make([]exportColumn, len(cols))
		for i, c := range cols {
			out[i] = exportColumn{column: c, as: m[c]}
		}
		return out, nil
	}
	return nil, errors.NewConfigError(fmt.Sprintf("columns must be a list or an object, got %T", v), nil)
}
