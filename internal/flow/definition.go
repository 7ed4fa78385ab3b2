package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"myxcli/internal/errors"
)

// StepDef is one step of a flow definition. Input and Output name stage
// directories relative to the dataset root; when omitted they come from the
// default stage registry.
type StepDef struct {
	Treatment string         `json:"treatment" validate:"required"`
	Input     string         `json:"input"`
	Output    string         `json:"output"`
	Params    map[string]any `json:"params"`
}

// Definition is a declarative flow document: an ordered step list over one
// dataset. Flow-level params are inherited by every step, with step params
// taking precedence.
type Definition struct {
	Name    string         `json:"name"`
	Dataset string         `json:"dataset" validate:"required"`
	Params  map[string]any `json:"params"`
	Steps   []StepDef      `json:"steps" validate:"required,min=1,dive"`
}

// stageDirs is the conventional treatment → (input, output) stage mapping,
// used when a step omits explicit directories. The step sequence stays data,
// so flows remain declarative and replaceable without touching the engine.
var stageDirs = map[string][2]string{
	"parse":     {"00_raw", "10_parsed"},
	"clean":     {"10_parsed", "20_clean"},
	"resample":  {"20_clean", "25_resampled"},
	"transform": {"25_resampled", "30_transform"},
	"normalize": {"30_transform", "35_normalized"},
	"aggregate": {"35_normalized", "40_aggregated"},
	"exportcsv": {"40_aggregated", "61_exportcsv"},
}

var validate = validator.New()

// Load reads and validates a flow definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("flow not found: %s", path), err)
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("failed to parse flow %s", path), err)
	}
	if def.Name == "" {
		base := filepath.Base(path)
		def.Name = base[:len(base)-len(filepath.Ext(base))]
	}

	if err := validate.Struct(&def); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid flow %s", path), err)
	}
	return &def, nil
}

// ResolveSteps merges inherited params into each step and resolves stage
// directories to absolute paths under datasetsDir/<dataset>/.
func (d *Definition) ResolveSteps(datasetsDir string) ([]StepDef, error) {
	root := filepath.Join(datasetsDir, d.Dataset)

	steps := make([]StepDef, len(d.Steps))
	for i, s := range d.Steps {
		merged := make(map[string]any, len(d.Params)+len(s.Params))
		for k, v := range d.Params {
			merged[k] = v
		}
		for k, v := range s.Params {
			merged[k] = v
		}
		s.Params = merged

		if s.Input == "" || s.Output == "" {
			dirs, ok := stageDirs[s.Treatment]
			if !ok {
				return nil, errors.NewConfigError(fmt.Sprintf(
					"step %d (%s): no input/output declared and treatment has no default stages",
					i+1, s.Treatment), nil)
			}
			if s.Input == "" {
				s.Input = dirs[0]
			}
			if s.Output == "" {
				s.Output = dirs[1]
			}
		}

		if !filepath.IsAbs(s.Input) {
			s.Input = filepath.Join(root, s.Input)
		}
		if !filepath.IsAbs(s.Output) {
			s.Output = filepath.Join(root, s.Output)
		}
		steps[i] = s
	}
	return steps, nil
}

// FilterSteps narrows the step list by --from-step/--to-step bounds or to a
// single --step. only is mutually exclusive with the range bounds.
func FilterSteps(steps []StepDef, fromStep, toStep, only string) ([]StepDef, error) {
	names := make([]string, len(steps))
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		names[i] = s.Treatment
		index[s.Treatment] = i
	}

	if only != "" {
		if fromStep != "" || toStep != "" {
			return nil, errors.NewValidationError("--step is mutually exclusive with --from-step/--to-step", nil)
		}
		i, ok := index[only]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("step %q not found in flow (available: %v)", only, names), nil)
		}
		return steps[i : i+1], nil
	}

	start, end := 0, len(steps)
	if fromStep != "" {
		i, ok := index[fromStep]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("step %q not found in flow (available: %v)", fromStep, names), nil)
		}
		start = i
	}
	if toStep != "" {
		i, ok := index[toStep]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("step %q not found in flow (available: %v)", toStep, names), nil)
		}
		end = i + 1
	}
	if start >= end {
		return nil, errors.NewValidationError("--from-step is after --to-step", nil)
	}
	return steps[start:end], nil
}
