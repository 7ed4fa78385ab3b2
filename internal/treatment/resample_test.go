package treatment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/flow"
)

func resampleParams() flow.Params {
	return flow.Params{
		"freq":           "10s",
		"max_gap_fill_s": float64(30),
	}
}

func TestResampleGridAndFill(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z")

	key := dataset.PartitionKey{Source: "dev1", Domain: "bio", Day: "2024-03-01"}
	frame := columnFrame(t, "temp", map[string]*float64{
		"2024-03-01T10:00:01Z": fp(10),
		"2024-03-01T10:00:04Z": fp(20),
		// 10:00:10 and 10:00:20 buckets are a gap within the fill horizon.
		"2024-03-01T10:00:31Z": fp(40),
	})

	env := testEnv(t, inDir, outDir, resampleParams(), w)
	seedPartition(t, env, inDir, "clean", key, frame)

	stats, err := Resample{}.Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Filled)

	got, err := env.Store.ReadKey(outDir, "resampled", key)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Len(), "one bucket per 10s between first and last sample")
	assert.Equal(t, dataset.Of(15), valueAt(t, got, "temp", "2024-03-01T10:00:00Z"),
		"mean of the bucket's samples")
	assert.Equal(t, dataset.Of(15), valueAt(t, got, "temp", "2024-03-01T10:00:10Z"), "forward-filled")
	assert.Equal(t, dataset.Of(15), valueAt(t, got, "temp", "2024-03-01T10:00:20Z"), "forward-filled")
	assert.Equal(t, dataset.Of(40), valueAt(t, got, "temp", "2024-03-01T10:00:30Z"))
}

func TestResampleSeedsFromPreviousDay(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	// Only the second day is being processed.
	w := window(t, "2024-03-02T00:00:00Z", "2024-03-03T00:00:00Z")

	prevKey := dataset.PartitionKey{Source: "dev1", Domain: "bio", Day: "2024-03-01"}
	prev := columnFrame(t, "temp", map[string]*float64{
		"2024-03-01T23:59:55Z": fp(10),
	})
	key := dataset.PartitionKey{Source: "dev1", Domain: "bio", Day: "2024-03-02"}
	frame := columnFrame(t, "temp", map[string]*float64{
		"2024-03-02T00:00:25Z": fp(30),
	})

	env := testEnv(t, inDir, outDir, resampleParams(), w)
	seedPartition(t, env, inDir, "clean", prevKey, prev)
	seedPartition(t, env, inDir, "clean", key, frame)

	_, err := Resample{}.Run(context.Background(), env)
	require.NoError(t, err)

	got, err := env.Store.ReadKey(outDir, "resampled", key)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len(), "output owns only the processed day")
	assert.Equal(t, utc(t, "2024-03-02T00:00:00Z"), got.Times[0])
	assert.Equal(t, dataset.Of(10), valueAt(t, got, "temp", "2024-03-02T00:00:00Z"),
		"midnight bucket fills from the previous day's last sample")
	assert.Equal(t, dataset.Of(10), valueAt(t, got, "temp", "2024-03-02T00:00:10Z"))
	assert.Equal(t, dataset.Of(30), valueAt(t, got, "temp", "2024-03-02T00:00:20Z"))

	// The previous day's partition was written before this window: its own
	// output is untouched by this run.
	prevOut, err := env.Store.ReadKey(outDir, "resampled", prevKey)
	require.NoError(t, err)
	assert.Equal(t, 0, prevOut.Len())
}

func TestResampleNoSeedLeavesLeadingBucketsOut(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-02T00:00:00Z", "2024-03-03T00:00:00Z")

	key := dataset.PartitionKey{Source: "dev1", Domain: "bio", Day: "2024-03-02"}
	frame := columnFrame(t, "temp", map[string]*float64{
		"2024-03-02T00:00:25Z": fp(30),
	})

	env := testEnv(t, inDir, outDir, resampleParams(), w)
	seedPartition(t, env, inDir, "clean", key, frame)

	_, err := Resample{}.Run(context.Background(), env)
	require.NoError(t, err)

	got, err := env.Store.ReadKey(outDir, "resampled", key)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len(), "without history the grid starts at the first sample")
	assert.Equal(t, utc(t, "2024-03-02T00:00:20Z"), got.Times[0])
}

func TestResamplePerDomainMethod(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z")

	key := dataset.PartitionKey{Source: "dev1", Domain: "events", Day: "2024-03-01"}
	frame := columnFrame(t, "state", map[string]*float64{
		"2024-03-01T10:00:02Z": fp(1),
		"2024-03-01T10:00:09Z": fp(5),
	})

	params := resampleParams()
	params["agg_method"] = map[string]any{"events": "nearest"}
	env := testEnv(t, inDir, outDir, params, w)
	seedPartition(t, env, inDir, "clean", key, frame)

	_, err := Resample{}.Run(context.Background(), env)
	require.NoError(t, err)

	got, err := env.Store.ReadKey(outDir, "resampled", key)
	require.NoError(t, err)
	assert.Equal(t, dataset.Of(1), valueAt(t, got, "state", "2024-03-01T10:00:00Z"),
		"nearest picks the sample closest to the bucket instant, not the mean")
}

func TestResampleConfigErrors(t *testing.T) {
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-02T00:00:00Z")

	_, err := Resample{}.Run(context.Background(),
		testEnv(t, t.TempDir(), t.TempDir(), flow.Params{}, w))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "freq is required")

	params := resampleParams()
	params["agg_method"] = map[string]any{"bio": "mode"}
	_, err = Resample{}.Run(context.Background(),
		testEnv(t, t.TempDir(), t.TempDir(), params, w))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
