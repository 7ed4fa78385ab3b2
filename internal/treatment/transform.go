package treatment

import (
	"context"
	"fmt"
	"math"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/flow"
)

// Transform derives new columns (or rewrites existing ones) by applying a
// pointwise function. Functions are only defined for positive inputs; other
// values map to null rather than NaN so downstream math stays clean.
type Transform struct{}

func (Transform) Name() string { return "transform" }

var transformFuncs = map[string]func(float64) (float64, bool){
	"sqrt_inv": func(v float64) (float64, bool) {
		if v <= 0 {
			return 0, false
		}
		return 1 / math.Sqrt(v), true
	},
	"cbrt_inv": func(v float64) (float64, bool) {
		if v <= 0 {
			return 0, false
		}
		return 1 / math.Cbrt(v), true
	},
	"log": func(v float64) (float64, bool) {
		if v <= 0 {
			return 0, false
		}
		return math.Log(v), true
	},
}

// transformSpec is one declared transform: a function applied to a target
// column set, either added as <col>__<function> or replacing in place.
type transformSpec struct {
	function string
	columns  []string // explicit target columns
	domain   string   // or every column of one domain
	replace  bool
}

func (Transform) Run(ctx context.Context, env *flow.Env) (flow.Stats, error) {
	specs, err := parseTransforms(env.Params)
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
			return transformOne(env, p, specs)
		})
}

func transformOne(env *flow.Env, p files.PartitionFile, specs []transformSpec) (flow.Stats, error) {
	var s flow.Stats

	frame, err := env.Store.Read(p.Path)
	if err != nil {
		return s, err
	}
	frame = windowSlice(frame, env.Window)
	s.RowsIn = frame.Len()

	// Targets resolve against the input columns only, so one transform's
	// output never becomes another's input within the same step.
	original := frame.Columns()

	anyAdded := false
	for _, spec := range specs {
		fn := transformFuncs[spec.function]
		for _, col := range spec.targets(original, p.Key.Domain) {
			in := frame.Column(col)
			out := make([]dataset.Value, len(in))
			for i, v := range in {
				if !v.Valid {
					continue
				}
				if f, ok := fn(v.F); ok {
					out[i] = dataset.Of(f)
				}
			}
			name := col
			if !spec.replace {
				name = col + "__" + spec.function
				anyAdded = true
			}
			frame.SetColumn(name, out)
		}
	}

	// Derived columns sit next to their sources, in declaration order.
	if anyAdded {
		frame = reorderDerived(frame, original, specs)
	}

	if err := env.Store.Write(env.OutputDir, "transform", p.Key, frame, env.Mode, env.Window); err != nil {
		return s, err
	}
	s.RowsOut = frame.Len()
	s.PartitionsWritten = 1
	return s, nil
}

func (t transformSpec) targets(columns []string, domain string) []string {
	if len(t.columns) > 0 {
		present := make(map[string]struct{}, len(columns))
		for _, c := range columns {
			present[c] = struct{}{}
		}
		out := make([]string, 0, len(t.columns))
		for _, c := range t.columns {
			if _, ok := present[c]; ok {
				out = append(out, c)
			}
		}
		return out
	}
	if t.domain != "" && t.domain == domain {
		return columns
	}
	return nil
}

func reorderDerived(frame *dataset.Frame, original []string, specs []transformSpec) *dataset.Frame {
	ordered := make([]string, 0, len(frame.Columns()))
	seen := make(map[string]struct{})
	push := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			ordered = append(ordered, c)
		}
	}

	for _, col := range original {
		push(col)
		for _, spec := range specs {
			if spec.replace {
				continue
			}
			derived := col + "__" + spec.function
			if frame.HasColumn(derived) {
				push(derived)
			}
		}
	}
	for _, c := range frame.Columns() {
		push(c)
	}

	out := dataset.NewFrame(frame.Times)
	for _, c := range ordered {
		out.SetColumn(c, frame.Column(c))
	}
	return out
}

func parseTransforms(p flow.Params) ([]transformSpec, error) {
	items, err := p.Slice("transforms")
	if err != nil {
		return nil, err
	}

	specs := make([]transformSpec, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: expected an object", i), nil)
		}

		var spec transformSpec
		spec.function, ok = m["function"].(string)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: function is required", i), nil)
		}
		if _, known := transformFuncs[spec.function]; !known {
			return nil, errors.NewConfigError(fmt.Sprintf(
				"transforms[%d]: unknown function %q (want sqrt_inv, cbrt_inv or log)", i, spec.function), nil)
		}

		target, ok := m["target"].(map[string]any)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: target is required", i), nil)
		}
		if cols, ok := target["columns"]; ok {
			spec.columns, err = asStringSlice(cols)
			if err != nil {
				return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: bad target columns", i), err)
			}
		} else if domain, ok := target["domain"].(string); ok {
			spec.domain = domain
		} else {
			return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: target needs columns or domain", i), nil)
		}

		if mode, ok := m["mode"].(string); ok {
			switch mode {
			case "replace":
				spec.replace = true
			case "add":
			default:
				return nil, errors.NewConfigError(fmt.Sprintf("transforms[%d]: unknown mode %q (want add or replace)", i, mode), nil)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
