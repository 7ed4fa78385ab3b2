package flow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myxcli/internal/errors"
)

func writeFlow(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFlow(t *testing.T) {
	path := writeFlow(t, "daily.json", `{
		"dataset": "plants",
		"params": {"tz": "UTC"},
		"steps": [
			{"treatment": "parse", "params": {"delimiter": ","}},
			{"treatment": "clean"}
		]
	}`)

	def, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "daily", def.Name, "name defaults to the file stem")
	assert.Equal(t, "plants", def.Dataset)
	require.Len(t, def.Steps, 2)
}

func TestLoadFlowErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := Load(writeFlow(t, "bad.json", "{not json"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
	})

	t.Run("no steps", func(t *testing.T) {
		_, err := Load(writeFlow(t, "empty.json", `{"dataset": "plants", "steps": []}`))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("missing dataset", func(t *testing.T) {
		_, err := Load(writeFlow(t, "nodataset.json", `{"steps": [{"treatment": "parse"}]}`))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func TestResolveStepsMergesParams(t *testing.T) {
	def := &Definition{
		Dataset: "plants",
		Params:  map[string]any{"tz": "UTC", "freq": "1s"},
		Steps: []StepDef{
			{Treatment: "resample", Params: map[string]any{"freq": "10s"}},
		},
	}

	steps, err := def.ResolveSteps("/data")
	require.NoError(t, err)
	require.Len(t, steps, 1)

	assert.Equal(t, "UTC", steps[0].Params["tz"], "flow params are inherited")
	assert.Equal(t, "10s", steps[0].Params["freq"], "step params win over flow params")
}

func TestResolveStepsDefaultsStageDirs(t *testing.T) {
	def := &Definition{
		Dataset: "plants",
		Steps: []StepDef{
			{Treatment: "parse"},
			{Treatment: "clean", Input: "15_custom"},
		},
	}

	steps, err := def.ResolveSteps("/data")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/data", "plants", "00_raw"), steps[0].Input)
	assert.Equal(t, filepath.Join("/data", "plants", "10_parsed"), steps[0].Output)
	assert.Equal(t, filepath.Join("/data", "plants", "15_custom"), steps[1].Input)
	assert.Equal(t, filepath.Join("/data", "plants", "20_clean"), steps[1].Output)
}

func TestResolveStepsUnknownTreatmentWithoutDirs(t *testing.T) {
	def := &Definition{
		Dataset: "plants",
		Steps:   []StepDef{{Treatment: "mystery"}},
	}
	_, err := def.ResolveSteps("/data")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestFilterSteps(t *testing.T) {
	steps := []StepDef{
		{Treatment: "parse"},
		{Treatment: "clean"},
		{Treatment: "resample"},
		{Treatment: "aggregate"},
	}

	names := func(s []StepDef) []string {
		out := make([]string, len(s))
		for i, step := range s {
			out[i] = step.Treatment
		}
		return out
	}

	t.Run("no filter keeps all", func(t *testing.T) {
		got, err := FilterSteps(steps, "", "", "")
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("range", func(t *testing.T) {
		got, err := FilterSteps(steps, "clean", "resample", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"clean", "resample"}, names(got))
	})

	t.Run("single step", func(t *testing.T) {
		got, err := FilterSteps(steps, "", "", "resample")
		require.NoError(t, err)
		assert.Equal(t, []string{"resample"}, names(got))
	})

	t.Run("step excludes range flags", func(t *testing.T) {
		_, err := FilterSteps(steps, "clean", "", "resample")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("unknown step name", func(t *testing.T) {
		_, err := FilterSteps(steps, "", "", "mystery")
		require.Error(t, err)
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := FilterSteps(steps, "resample", "clean", "")
		require.Error(t, err)
	})
}
