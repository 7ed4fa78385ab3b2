package treatment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/flow"
)

func exportParams(extra flow.Params) flow.Params {
	p := flow.Params{
		"aggregation": "1h",
		"domain":      "bio",
		"columns": []any{
			map[string]any{"column": "temp__raw__mean", "as": "Temp"},
			map[string]any{"column": "temp__raw__max"},
		},
	}
	for k, v := range extra {
		p[k] = v
	}
	return p
}

func seedAggregated(t *testing.T, env *flow.Env, inDir, source string) {
	t.Helper()
	day1 := dataset.PartitionKey{Source: source, Domain: "bio", Day: "2024-03-01", Window: "1h"}
	day2 := dataset.PartitionKey{Source: source, Domain: "bio", Day: "2024-03-02", Window: "1h"}
	seedPartition(t, env, inDir, "aggregated", day1, dataset.FromSamples([]dataset.Sample{
		{Ts: utc(t, "2024-03-01T10:00:00Z"), Column: "temp__raw__mean", Value: dataset.Of(15.25)},
		{Ts: utc(t, "2024-03-01T10:00:00Z"), Column: "temp__raw__max", Value: dataset.Of(20)},
	}))
	seedPartition(t, env, inDir, "aggregated", day2, dataset.FromSamples([]dataset.Sample{
		{Ts: utc(t, "2024-03-02T11:00:00Z"), Column: "temp__raw__mean", Value: dataset.Of(30)},
		{Ts: utc(t, "2024-03-02T11:00:00Z"), Column: "temp__raw__max", Value: dataset.Null()},
	}))
}

func TestExportCSVWritesOneFilePerSource(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-03T00:00:00Z")

	env := testEnv(t, inDir, outDir, exportParams(nil), w)
	seedAggregated(t, env, inDir, "dev1")
	seedAggregated(t, env, inDir, "dev2")

	stats, err := ExportCSV{}.Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PartitionsWritten)

	name := "plants_dev1_aggregated_1h_2024-03-01_2024-03-03.csv"
	data, err := os.ReadFile(filepath.Join(outDir, name))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3, "header plus one row per bucket across both days")
	assert.Equal(t, "Time\tTemp\ttemp__raw__max", lines[0],
		"declared display names, column name when no alias is given")
	assert.Equal(t, "2024-03-01 10:00:00\t15.25\t20", lines[1])
	assert.Equal(t, "2024-03-02 11:00:00\t30\t", lines[2], "nulls export as empty cells")

	_, err = os.Stat(filepath.Join(outDir, "plants_dev2_aggregated_1h_2024-03-01_2024-03-03.csv"))
	require.NoError(t, err)
}

func TestExportCSVFiltersDomainAndAggregation(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-03T00:00:00Z")

	env := testEnv(t, inDir, outDir, exportParams(flow.Params{"aggregation": "5m"}), w)
	seedAggregated(t, env, inDir, "dev1")

	_, err := ExportCSV{}.Run(context.Background(), env)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound),
		"partitions of another aggregation window do not match")
}

func TestExportCSVMissingColumns(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-03T00:00:00Z")

	env := testEnv(t, inDir, outDir, exportParams(flow.Params{
		"columns": []any{map[string]any{"column": "pressure__raw__mean"}},
	}), w)
	seedAggregated(t, env, inDir, "dev1")

	_, err := ExportCSV{}.Run(context.Background(), env)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeData))
	assert.Contains(t, err.Error(), "pressure__raw__mean")
}

func TestExportCSVColumnMapSortsByName(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-03T00:00:00Z")

	env := testEnv(t, inDir, outDir, exportParams(flow.Params{
		"columns": map[string]any{
			"temp__raw__max":  "Max",
			"temp__raw__mean": "Mean",
		},
	}), w)
	seedAggregated(t, env, inDir, "dev1")

	_, err := ExportCSV{}.Run(context.Background(), env)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(outDir, "plants_dev1_aggregated_1h_2024-03-01_2024-03-03.csv"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Time\tMax\tMean\n"))
}

func TestExportCSVConfigErrors(t *testing.T) {
	w := window(t, "2024-03-01T00:00:00Z", "2024-03-03T00:00:00Z")

	_, err := ExportCSV{}.Run(context.Background(),
		testEnv(t, t.TempDir(), t.TempDir(), flow.Params{"domain": "bio"}, w))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig), "aggregation is required")

	_, err = ExportCSV{}.Run(context.Background(),
		testEnv(t, t.TempDir(), t.TempDir(), exportParams(flow.Params{"tz": "Mars/Olympus"}), w))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
