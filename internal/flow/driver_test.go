package flow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/storage"
	"myxcli/internal/timerange"
)

// fakeTreatment records its invocations and optionally fails.
type fakeTreatment struct {
	name string
	fail error
	runs []*Env
}

func (f *fakeTreatment) Name() string { return f.name }

func (f *fakeTreatment) Run(ctx context.Context, env *Env) (Stats, error) {
	f.runs = append(f.runs, env)
	if f.fail != nil {
		return Stats{}, f.fail
	}
	return Stats{RowsIn: 10, RowsOut: 10, PartitionsWritten: 1}, nil
}

func testDriver(t *testing.T, treatments ...Treatment) *Driver {
	t.Helper()
	d := NewDriver(DriverOptions{Workers: 2})
	for _, tr := range treatments {
		require.NoError(t, d.Registry().Register(tr))
	}
	return d
}

func defWith(datasetDir string, steps ...StepDef) *Definition {
	return &Definition{Name: "test-flow", Dataset: datasetDir, Steps: steps}
}

func stepFor(name, root string) StepDef {
	return StepDef{
		Treatment: name,
		Input:     filepath.Join(root, "in_"+name),
		Output:    filepath.Join(root, "out_"+name),
	}
}

func TestDriverRunsStepsInOrder(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	b := &fakeTreatment{name: "beta"}
	d := testDriver(t, a, b)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	result, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", stepFor("alpha", root), stepFor("beta", root)),
		DatasetsDir: root,
		From:        &from,
		To:          &to,
	})
	require.NoError(t, err)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "alpha", result.Steps[0].Treatment)
	assert.Equal(t, "beta", result.Steps[1].Treatment)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, a.runs, 1)
	assert.Equal(t, "plants", a.runs[0].Dataset)
	assert.Equal(t, from, a.runs[0].Window.From)
	assert.Equal(t, timerange.ModeAppend, a.runs[0].Mode, "append is the default mode")
}

func TestDriverStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	b := &fakeTreatment{name: "beta", fail: errors.NewDataError("corrupt partition", nil)}
	c := &fakeTreatment{name: "gamma"}
	d := testDriver(t, a, b, c)

	result, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", stepFor("alpha", root), stepFor("beta", root), stepFor("gamma", root)),
		DatasetsDir: root,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2/3 (beta) failed")

	assert.Len(t, a.runs, 1, "committed earlier steps stay committed")
	assert.Len(t, b.runs, 1)
	assert.Empty(t, c.runs, "later steps never run")
	require.Len(t, result.Steps, 2)
	assert.Error(t, result.Steps[1].Err)
}

func TestDriverUnknownTreatmentFailsBeforeAnyStepRuns(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	_, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", stepFor("alpha", root), stepFor("mystery", root)),
		DatasetsDir: root,
	})
	require.Error(t, err)
	assert.Empty(t, a.runs, "validation happens before the first step")
}

func TestDriverIncrementalNoOp(t *testing.T) {
	// Empty input stage: incremental resolution finds no data and the run is
	// a successful no-op.
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	result, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", stepFor("alpha", root)),
		DatasetsDir: root,
		Incremental: true,
	})
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.NotEmpty(t, result.Window.Reason)
	assert.Empty(t, a.runs)
}

func TestDriverIncrementalRejectsExplicitBounds(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", stepFor("alpha", root)),
		DatasetsDir: root,
		Incremental: true,
		From:        &from,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

// seedStepPartition commits one single-row partition to a stage directory and
// returns the store and key for later read-back.
func seedStepPartition(t *testing.T, dir, step string, tsAt time.Time) (*storage.Store, dataset.PartitionKey) {
	t.Helper()
	store := storage.NewStore(nil)
	key := dataset.PartitionKey{Source: "dev1", Domain: "env", Day: tsAt.Format("2006-01-02")}
	frame := dataset.FromSamples([]dataset.Sample{{
		Ts:     tsAt,
		Column: "m0",
		Value:  dataset.Of(1),
	}})
	require.NoError(t, store.Write(dir, step, key, frame, timerange.ModeAppend, timerange.Window{}))
	return store, key
}

func TestDriverFullReplaceWipesOutputsFirst(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	step := stepFor("alpha", root)

	// Pre-existing output partition that a full replace must remove.
	store, key := seedStepPartition(t, step.Output, "alpha",
		time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC))

	_, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", step),
		DatasetsDir: root,
		Mode:        timerange.ModeFullReplace,
	})
	require.NoError(t, err)

	got, err := store.ReadKey(step.Output, "alpha", key)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len(), "previous outputs are gone")

	require.Len(t, a.runs, 1)
	assert.Equal(t, timerange.ModeAppend, a.runs[0].Mode, "treatments see append after the wipe")
}

func TestDriverFullReplaceKeepsOutputsOnEmptyWindow(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	step := stepFor("alpha", root)
	store, key := seedStepPartition(t, step.Output, "alpha",
		time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC))

	// Equal bounds resolve to an empty window: a successful no-op that must
	// not touch committed partitions.
	bound := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	result, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", step),
		DatasetsDir: root,
		From:        &bound,
		To:          &bound,
		Mode:        timerange.ModeFullReplace,
	})
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Empty(t, a.runs)

	got, err := store.ReadKey(step.Output, "alpha", key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len(), "no-op runs leave outputs in place")
}

func TestDriverFullReplaceKeepsOutputsOnInvalidBounds(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	step := stepFor("alpha", root)
	store, key := seedStepPartition(t, step.Output, "alpha",
		time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC))

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", step),
		DatasetsDir: root,
		Incremental: true,
		From:        &from,
		Mode:        timerange.ModeFullReplace,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.Empty(t, a.runs)

	got, err := store.ReadKey(step.Output, "alpha", key)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len(), "validation failures happen before any deletion")
}

func TestDriverIncrementalFullReplaceRecomputesFromScratch(t *testing.T) {
	root := t.TempDir()
	a := &fakeTreatment{name: "alpha"}
	d := testDriver(t, a)

	step := stepFor("alpha", root)
	lastIn := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, _ = seedStepPartition(t, step.Input, "parsed", lastIn)
	store, key := seedStepPartition(t, step.Output, "alpha",
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	result, err := d.Run(context.Background(), RunRequest{
		Definition:  defWith("plants", step),
		DatasetsDir: root,
		Incremental: true,
		Mode:        timerange.ModeFullReplace,
	})
	require.NoError(t, err)
	assert.False(t, result.NoOp)

	require.Len(t, a.runs, 1)
	assert.True(t, a.runs[0].Window.From.IsZero(),
		"previous outputs must not shrink the recompute range")
	assert.Equal(t, lastIn, a.runs[0].Window.To)
	assert.True(t, a.runs[0].Window.IncludeTo)

	got, err := store.ReadKey(step.Output, "alpha", key)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len(), "previous outputs are gone")
}
