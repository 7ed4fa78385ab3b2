package treatment

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
	"myxcli/internal/timerange"
)

// Parse ingests raw KV-CSV files into per-domain daily partitions. Each input
// line is a timestamp followed by delimiter-separated key:value pairs; the
// column set is whatever keys the device happened to emit.
type Parse struct{}

func (Parse) Name() string { return "parse" }

// domainSpec selects and renames the raw keys that belong to one domain.
// Exactly one of columns or prefix is set.
type domainSpec struct {
	columns []string
	prefix  string
	rename  map[string]string
}

func (Parse) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	format := env.Params.StringOr("format", "kv_csv")
	if format != "kv_csv" {
		return flow.Stats{}, errors.NewConfigError(fmt.Sprintf("unknown parse format %q", format), nil)
	}
	delimiter := env.Params.StringOr("delimiter", ",")

	domains, err := parseDomains(env.Params)
	if err != nil {
		return flow.Stats{}, err
	}

	substitutions := map[string]string{}
	if env.Params.Has("file_name_substitute") {
		substitutions, err = env.Params.StringMap("file_name_substitute")
		if err != nil {
			return flow.Stats{}, err
		}
	}

	raws, err := files.FindRawCSVs(env.InputDir, substitutions)
	if err != nil {
		return flow.Stats{}, errors.NewStorageError(fmt.Sprintf("failed to list raw files in %s", env.InputDir), err)
	}
	if len(raws) == 0 {
		return flow.Stats{}, errors.NewNotFoundError(fmt.Sprintf("no CSV files found in %s", env.InputDir), nil)
	}

	inWindow := raws[:0:0]
	for _, rf := range raws {
		dayStart, err := time.ParseInLocation(dataset.DayFormat, rf.Day, time.UTC)
		if err != nil {
			continue
		}
		if env.Window.OverlapsDay(dayStart) {
			inWindow = append(inWindow, rf)
		}
	}
	env.Logger.Info("raw files discovered",
		slog.Int("total", len(raws)),
		slog.Int("in_window", len(inWindow)))

	var (
		mu    sync.Mutex
		total flow.Stats
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(env.Workers)

	for _, rf := range inWindow {
		rf := rf
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats, err := parseOne(env, rf, delimiter, domains)
			if err != nil {
				return err
			}
			mu.Lock()
			total.Add(stats)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return total, err
}

// kvRow is one parsed input line: an instant plus the raw key set it carried.
type kvRow struct {
	ts     time.Time
	fields map[string]string
}

func parseOne(env *flow.Env, rf files.RawFile, delimiter string, domains map[string]domainSpec) (flow.Stats, error) {
	var stats flow.Stats

	rows, cols, dropped, err := readKVCSV(rf.Path, delimiter, env.Window)
	if err != nil {
		return stats, err
	}
	stats.RowsIn = len(rows) + dropped
	stats.Dropped = dropped
	if dropped > 0 {
		env.Logger.Warn("malformed rows discarded",
			slog.String("file", rf.Path),
			slog.Int("count", dropped))
	}
	if len(rows) == 0 {
		return stats, nil
	}

	domainNames := make([]string, 0, len(domains))
	for name := range domains {
		domainNames = append(domainNames, name)
	}
	sort.Strings(domainNames)

	for _, domain := range domainNames {
		spec := domains[domain]
		selected := spec.resolve(cols)
		if len(selected) == 0 {
			continue
		}

		byDay := make(map[string][]dataset.Sample)
		for _, row := range rows {
			day := row.ts.Format(dataset.DayFormat)
			for _, col := range selected {
				v := dataset.Null()
				if raw, ok := row.fields[col]; ok {
					if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
						v = dataset.Of(f)
					}
				}
				byDay[day] = append(byDay[day], dataset.Sample{
					Ts:     row.ts,
					Column: spec.outputName(col),
					Value:  v,
				})
			}
		}

		days := make([]string, 0, len(byDay))
		for day := range byDay {
			days = append(days, day)
		}
		sort.Strings(days)

		for _, day := range days {
			frame := dataset.FromSamples(byDay[day])
			key := dataset.PartitionKey{Source: rf.Source, Domain: domain, Day: day}
			if err := env.Store.Write(env.OutputDir, "parsed", key, frame, env.Mode, env.Window); err != nil {
				return stats, err
			}
			stats.RowsOut += frame.Len()
			stats.PartitionsWritten++
		}
	}
	return stats, nil
}

// readKVCSV scans one raw file. Lines without at least one key:value pair and
// lines with an unparseable timestamp are counted as dropped; rows outside the
// window are silently skipped (they belong to another invocation).
func readKVCSV(path, delimiter string, window timerange.Window) (rows []kvRow, cols []string, dropped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, errors.NewStorageError(fmt.Sprintf("failed to open raw file %s", path), err)
	}
	defer f.Close()

	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, delimiter)

		ts, err := dataset.ParseUTC(strings.TrimSpace(parts[0]))
		if err != nil {
			dropped++
			continue
		}

		fields := make(map[string]string, len(parts)-1)
		for _, part := range parts[1:] {
			key, val, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			fields[key] = val
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				cols = append(cols, key)
			}
		}
		if len(fields) == 0 {
			dropped++
			continue
		}
		if !window.Contains(ts) {
			continue
		}
		rows = append(rows, kvRow{ts: ts, fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, 0, errors.NewStorageError(fmt.Sprintf("failed to read raw file %s", path), err)
	}
	return rows, cols, dropped, nil
}

// resolve picks this domain's columns from the keys actually present.
// Explicit column lists keep their declared order; prefix matches sort by
// their numeric suffix so m10 lands after m9, not after m1.
func (s domainSpec) resolve(available []string) []string {
	if len(s.columns) > 0 {
		avail := make(map[string]struct{}, len(available))
		for _, c := range available {
			avail[c] = struct{}{}
		}
		out := make([]string, 0, len(s.columns))
		for _, c := range s.columns {
			if _, ok := avail[c]; ok {
				out = append(out, c)
			}
		}
		return out
	}
	if s.prefix == "" {
		return nil
	}

	re := regexp.MustCompile("^" + regexp.QuoteMeta(s.prefix) + `(\d+)$`)
	type numbered struct {
		col string
		n   int
	}
	var matched []numbered
	for _, c := range available {
		m := re.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		matched = append(matched, numbered{col: c, n: n})
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].n < matched[j].n })

	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = m.col
	}
	return out
}

func (s domainSpec) outputName(col string) string {
	if renamed, ok := s.rename[col]; ok {
		return renamed
	}
	return col
}

func parseDomains(p flow.Params) (map[string]domainSpec, error) {
	raw, err := p.Map("domains")
	if err != nil {
		return nil, err
	}

	out := make(map[string]domainSpec, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: expected an object", name), nil)
		}
		var spec domainSpec
		if cols, ok := m["columns"]; ok {
			spec.columns, err = asStringSlice(cols)
			if err != nil {
				return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad columns", name), err)
			}
		}
		if prefix, ok := m["prefix"]; ok {
			s, ok := prefix.(string)
			if !ok {
				return nil, errors.NewConfigError(fmt.Sprintf("domain %q: prefix must be a string", name), nil)
			}
			spec.prefix = s
		}
		if len(spec.columns) == 0 && spec.prefix == "" {
			return nil, errors.NewConfigError(fmt.Sprintf("domain %q: needs columns or prefix", name), nil)
		}
		if rename, ok := m["rename"]; ok {
			spec.rename, err = asStringMap(rename)
			if err != nil {
				return nil, errors.NewConfigError(fmt.Sprintf("domain %q: bad rename", name), err)
			}
		}
		out[name] = spec
	}
	if len(out) == 0 {
		return nil, errors.NewConfigError("domains must declare at least one domain", nil)
	}
	return out, nil
}

func asStringSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("element %d: expected a string, got %T", i, item)
		}
		out[i] = s
	}
	return out, nil
}

func asStringMap(v any) (map[string]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("key %q: expected a string, got %T", k, item)
		}
		out[k] = s
	}
	return out, nil
}
