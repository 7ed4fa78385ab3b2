package treatment

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"myxcli/internal/dataset"
	"myxcli/internal/flow"
	"myxcli/internal/storage"
	"myxcli/internal/timerange"
)

func testEnv(t *testing.T, inDir, outDir string, params flow.Params, w timerange.Window) *flow.Env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &flow.Env{
		Dataset:   "plants",
		InputDir:  inDir,
		OutputDir: outDir,
		Params:    params,
		Window:    w,
		Mode:      timerange.ModeAppend,
		Workers:   2,
		Store:     storage.NewStore(logger),
		Logger:    logger,
	}
}

func window(t *testing.T, from, to string) timerange.Window {
	t.Helper()
	f, err := time.Parse(time.RFC3339, from)
	require.NoError(t, err)
	to2, err := time.Parse(time.RFC3339, to)
	require.NoError(t, err)
	return timerange.Window{From: f, To: to2}
}

func utc(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

// columnFrame builds a single-column frame from (RFC3339 ts, value) pairs.
// NaN-free: pass nil pointers via valueAt for nulls instead.
func columnFrame(t *testing.T, col string, points map[string]*float64) *dataset.Frame {
	t.Helper()
	var samples []dataset.Sample
	for tsStr, v := range points {
		val := dataset.Null()
		if v != nil {
			val = dataset.Of(*v)
		}
		samples = append(samples, dataset.Sample{Ts: utc(t, tsStr), Column: col, Value: val})
	}
	return dataset.FromSamples(samples)
}

func fp(v float64) *float64 { return &v }

// seedPartition writes a partition into a stage directory so discovery and
// treatments can find it.
func seedPartition(t *testing.T, env *flow.Env, dir, step string, key dataset.PartitionKey, f *dataset.Frame) {
	t.Helper()
	require.NoError(t, env.Store.Write(dir, step, key, f, timerange.ModeAppend, timerange.Window{}))
}

func valueAt(t *testing.T, f *dataset.Frame, col, tsStr string) dataset.Value {
	t.Helper()
	i := f.Row(utc(t, tsStr))
	require.GreaterOrEqual(t, i, 0, "row %s not found", tsStr)
	return f.At(col, i)
}
