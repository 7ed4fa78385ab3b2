package treatment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
)

// Normalize rescales columns to [0, 1] using per-source bounds. Bounds are
// fitted once over a trailing window of history and persisted next to the
// output partitions, so incremental runs reuse them instead of refitting on
// a sliver of new data.
type Normalize struct{}

func (Normalize) Name() string { return "normalize" }

// ParamsFile is the fitted-bounds document written into the output stage.
const ParamsFile = "normalize_params.json"

// normBounds is one column's fitted range. The field names are the historical
// document keys and stay fixed regardless of the fitting method.
type normBounds struct {
	Lo float64 `json:"p2"`
	Hi float64 `json:"p98"`
}

// normParams maps source → column → fitted bounds.
type normParams map[string]map[string]normBounds

type normMeta struct {
	Method        string  `json:"method"`
	PercentileMin float64 `json:"percentile_min"`
	PercentileMax float64 `json:"percentile_max"`
	FitWindowDays any     `json:"fit_window_days"` // int, or "all"
	FittedAt      string  `json:"fitted_at"`
	NFiles        int     `json:"n_files"`
	NSources      int     `json:"n_sources"`
}

type normalizeConfig struct {
	domain        string
	fit           bool
	method        string
	percentileMin float64
	percentileMax float64
	columns       columnsSpec
	clip          bool
	fitWindowDays int
	minRangeWarn  float64
}

func (Normalize) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	cfg, err := parseNormalizeConfig(env.Params)
	if err != nil {
		return flow.Stats{}, err
	}

	all, err := files.FindPartitions(env.InputDir)
	if err != nil {
		return flow.Stats{}, errors.NewStorageError(fmt.Sprintf("failed to list partitions in %s", env.InputDir), err)
	}
	domainParts := all[:0:0]
	for _, p := range all {
		if p.Key.Domain == cfg.domain {
			domainParts = append(domainParts, p)
		}
	}
	if len(domainParts) == 0 {
		return flow.Stats{}, errors.NewNotFoundError(fmt.Sprintf(
			"no partitions found for domain %q in %s", cfg.domain, env.InputDir), nil)
	}

	paramsPath := filepath.Join(env.OutputDir, ParamsFile)

	var bounds normParams
	if cfg.fit {
		bounds, err = fitBounds(env, domainParts, cfg, paramsPath)
	} else {
		bounds, err = loadBounds(paramsPath)
	}
	if err != nil {
		return flow.Stats{}, err
	}

	return forEachPartition(ctx, partitionsInWindow(domainParts, env.Window), env.Workers,
		func(ctx context.Context, p files.PartitionFile) (flow.Stats, error) {
			return normalizeOne(env, p, cfg, bounds)
		})
}

// fitBounds computes per-source bounds over the trailing fit window of all
// available history (not just the processing window: bounds fitted on a
// sliver of new data would drift run to run) and persists them.
func fitBounds(env *flow.Env, parts []files.PartitionFile, cfg normalizeConfig, paramsPath string) (normParams, error) {
	fitParts := trailingDays(parts, cfg.fitWindowDays)
	if len(fitParts) == 0 {
		return nil, errors.NewValidationError(fmt.Sprintf(
			"fit_window_days=%d excluded all partitions", cfg.fitWindowDays), nil)
	}

	// source → column → accumulated observations
	raw := make(map[string]map[string][]float64)
	for _, p := range fitParts {
		frame, err := env.Store.Read(p.Path)
		if err != nil {
			return nil, err
		}
		cols := raw[p.Key.Source]
		if cols == nil {
			cols = make(map[string][]float64)
			raw[p.Key.Source] = cols
		}
		for _, pair := range resolveColumnPairs(frame.Columns(), cfg.columns) {
			for _, v := range frame.Column(pair.in) {
				if v.Valid {
					cols[pair.in] = append(cols[pair.in], v.F)
				}
			}
		}
	}

	bounds := make(normParams, len(raw))
	for source, cols := range raw {
		bounds[source] = make(map[string]normBounds, len(cols))
		for col, vals := range cols {
			if len(vals) == 0 {
				continue
			}
			var lo, hi float64
			var err error
			if cfg.method == "percentile" {
				if lo, err = stats.Percentile(vals, cfg.percentileMin); err != nil {
					return nil, errors.NewDataError(fmt.Sprintf("fit failed for %s/%s", source, col), err)
				}
				if hi, err = stats.Percentile(vals, cfg.percentileMax); err != nil {
					return nil, errors.NewDataError(fmt.Sprintf("fit failed for %s/%s", source, col), err)
				}
			} else {
				lo, _ = stats.Min(vals)
				hi, _ = stats.Max(vals)
			}
			bounds[source][col] = normBounds{Lo: round6(lo), Hi: round6(hi)}
		}
	}

	warnNarrowRanges(env.Logger, bounds, cfg.minRangeWarn)

	if err := writeBounds(paramsPath, bounds, cfg, len(fitParts)); err != nil {
		return nil, err
	}
	env.Logger.Info("normalization bounds fitted",
		slog.Int("sources", len(bounds)),
		slog.Int("partitions", len(fitParts)),
		slog.String("params_file", paramsPath))
	return bounds, nil
}

// trailingDays keeps partitions within the last windowDays days of available
// data. Zero means everything.
func trailingDays(parts []files.PartitionFile, windowDays int) []files.PartitionFile {
	if windowDays <= 0 {
		return parts
	}
	maxDay := ""
	for _, p := range parts {
		if p.Key.Day > maxDay {
			maxDay = p.Key.Day
		}
	}
	end, err := time.ParseInLocation(dataset.DayFormat, maxDay, time.UTC)
	if err != nil {
		return parts
	}
	cutoff := end.AddDate(0, 0, -(windowDays - 1)).Format(dataset.DayFormat)

	out := parts[:0:0]
	for _, p := range parts {
		if p.Key.Day >= cutoff {
			out = append(out, p)
		}
	}
	return out
}

func warnNarrowRanges(logger *slog.Logger, bounds normParams, minRange float64) {
	if minRange <= 0 {
		return
	}
	for source, cols := range bounds {
		for col, b := range cols {
			if rng := b.Hi - b.Lo; rng < minRange {
				logger.Warn("fitted range is suspiciously narrow",
					slog.String("source", source),
					slog.String("column", col),
					slog.Float64("range", rng),
					slog.Float64("lo", b.Lo),
					slog.Float64("hi", b.Hi))
			}
		}
	}
}

func writeBounds(path string, bounds normParams, cfg normalizeConfig, nFiles int) error {
	var window any = "all"
	if cfg.fitWindowDays > 0 {
		window = cfg.fitWindowDays
	}
	payload := make(map[string]any, len(bounds)+1)
	payload["_meta"] = normMeta{
		Method:        cfg.method,
		PercentileMin: cfg.percentileMin,
		PercentileMax: cfg.percentileMax,
		FitWindowDays: window,
		FittedAt:      time.Now().UTC().Format(time.RFC3339),
		NFiles:        nFiles,
		NSources:      len(bounds),
	}
	for source, cols := range bounds {
		payload[source] = cols
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.NewStorageError("failed to encode normalization params", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to create %s", filepath.Dir(path)), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

func loadBounds(path string) (normParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf(
			"%s not found; run with fit=true first to compute normalization params", path), err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewDataError(fmt.Sprintf("failed to parse %s", path), err)
	}

	bounds := make(normParams, len(raw))
	for source, msg := range raw {
		if strings.HasPrefix(source, "_") {
			continue
		}
		var cols map[string]normBounds
		if err := json.Unmarshal(msg, &cols); err != nil {
			return nil, errors.NewDataError(fmt.Sprintf("failed to parse bounds for source %q in %s", source, path), err)
		}
		bounds[source] = cols
	}
	return bounds, nil
}

func normalizeOne(env *flow.Env, p files.PartitionFile, cfg normalizeConfig, bounds normParams) (flow.Stats, error) {
	var s flow.Stats

	sourceBounds, ok := bounds[p.Key.Source]
	if !ok {
		return s, errors.NewDataError(fmt.Sprintf(
			"no normalization params for source %q; re-run with fit=true to include it", p.Key.Source), nil)
	}

	frame, err := env.Store.Read(p.Path)
	if err != nil {
		return s, err
	}
	frame = windowSlice(frame, env.Window)
	s.RowsIn = frame.Len()

	for _, pair := range resolveColumnPairs(frame.Columns(), cfg.columns) {
		b, ok := sourceBounds[pair.in]
		if !ok {
			continue
		}
		in := frame.Column(pair.in)
		out := make([]dataset.Value, len(in))
		denom := b.Hi - b.Lo
		for i, v := range in {
			if !v.Valid {
				continue
			}
			scaled := 0.0
			if denom != 0 {
				scaled = (v.F - b.Lo) / denom
			}
			if cfg.clip {
				scaled = math.Min(math.Max(scaled, 0), 1)
			}
			out[i] = dataset.Of(scaled)
		}
		frame.SetColumn(pair.out, out)
	}

	if err := env.Store.Write(env.OutputDir, "normalized", p.Key, frame, env.Mode, env.Window); err != nil {
		return s, err
	}
	s.RowsOut = frame.Len()
	s.PartitionsWritten = 1
	return s, nil
}

// columnsSpec selects the columns to normalize:
//
//   - empty: every column, in place
//   - list: the named columns, in place
//   - patterns: wildcard input → output pairs; new columns are added when the
//     output name differs (e.g. "*__sqrt_inv" → "*__sqrt_inv__norm")
type columnsSpec struct {
	list     []string
	patterns map[string]string
}

type colPair struct {
	in, out string
}

func resolveColumnPairs(columns []string, spec columnsSpec) []colPair {
	if len(spec.list) > 0 {
		present := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			present[c] = struct{}{}
		}
		out := make([]colPair, 0, len(spec.list))
		for _, c := range spec.list {
			if _, ok := present[c]; ok {
				out = append(out, colPair{in: c, out: c})
			}
		}
		return out
	}

	if len(spec.patterns) > 0 {
		inPatterns := make([]string, 0, len(spec.patterns))
		for p := range spec.patterns {
			inPatterns = append(inPatterns, p)
		}
		sort.Strings(inPatterns)

		var out []colPair
		seen := make(map[string]struct{})
		for _, inPat := range inPatterns {
			outPat := spec.patterns[inPat]
			for _, col := range columns {
				if ok, _ := path.Match(inPat, col); !ok {
					continue
				}
				outCol := expandPattern(col, inPat, outPat)
				if _, dup := seen[outCol]; dup {
					continue
				}
				seen[outCol] = struct{}{}
				out = append(out, colPair{in: col, out: outCol})
			}
		}
		return out
	}

	out := make([]colPair, len(columns))
	for i, c := range columns {
		out[i] = colPair{in: c, out: c}
	}
	return out
}

// expandPattern maps a matched input column onto the output pattern:
// col "m0__sqrt_inv" matched by "*__sqrt_inv" with output "*__norm" yields
// "m0__norm". Patterns without a wildcard name the output literally.
func expandPattern(col, inPattern, outPattern string) string {
	if !strings.Contains(inPattern, "*") {
		return outPattern
	}
	suffix := strings.TrimLeft(inPattern, "*")
	prefix := col
	if suffix != "" && strings.HasSuffix(col, suffix) {
		prefix = col[:len(col)-len(suffix)]
	}
	return strings.Replace(outPattern, "*", prefix, 1)
}

func parseNormalizeConfig(p flow.Params) (normalizeConfig, error) {
	cfg := normalizeConfig{
		method:        p.StringOr("method", "percentile"),
		percentileMin: p.FloatOr("percentile_min", 2),
		percentileMax: p.FloatOr("percentile_max", 98),
		clip:          p.BoolOr("clip", true),
		fit:           p.BoolOr("fit", false),
		fitWindowDays: p.IntOr("fit_window_days", 0),
		minRangeWarn:  p.FloatOr("min_range_warn", 0),
	}

	var err error
	cfg.domain, err = p.String("domain")
	if err != nil {
		return cfg, err
	}

	switch cfg.method {
	case "percentile", "minmax":
	default:
		return cfg, errors.NewConfigError(fmt.Sprintf("unknown method %q (want percentile or minmax)", cfg.method), nil)
	}
	if cfg.percentileMin < 0 || cfg.percentileMax > 100 || cfg.percentileMin >= cfg.percentileMax {
		return cfg, errors.NewConfigError(fmt.Sprintf(
			"percentile bounds must satisfy 0 <= min < max <= 100, got [%v, %v]",
			cfg.percentileMin, cfg.percentileMax), nil)
	}

	if p.Has("columns") {
		switch v := p["columns"].(type) {
		case []any:
			cfg.columns.list, err = asStringSlice(v)
			if err != nil {
				return cfg, errors.NewConfigError("bad columns", err)
			}
		case map[string]any:
			cfg.columns.patterns, err = asStringMap(v)
			if err != nil {
				return cfg, errors.NewConfigError("bad columns", err)
			}
		default:
			return cfg, errors.NewConfigError(fmt.Sprintf("columns must be a list or an object, got %T", v), nil)
		}
	}
	return cfg, nil
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
