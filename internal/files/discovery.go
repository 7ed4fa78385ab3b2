package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"myxcli/internal/dataset"
)

// RawFile is a discovered raw CSV input.
type RawFile struct {
	Path   string
	Source string
	Day    string
}

// PartitionFile is a discovered parquet partition.
type PartitionFile struct {
	Path string
	Key  dataset.PartitionKey
	Step string
}

// FindRawCSVs lists raw CSV files in dir, sorted by day then source. Files
// without an embedded date are skipped: they cannot participate in windowed
// processing.
func FindRawCSVs(dir string, substitutions map[string]string) ([]RawFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var out []RawFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		source, day, err := ParseRawStem(stem, substitutions)
		if err != nil {
			continue
		}
		out = append(out, RawFile{
			Path:   filepath.Join(dir, entry.Name()),
			Source: source,
			Day:    day,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Source < out[j].Source
	})
	return out, nil
}

// FindPartitions lists parquet partitions under dir's domain=*/ layout,
// sorted by partition key. A missing directory is an empty result, not an
// error: a stage that has not run yet simply has no partitions.
func FindPartitions(dir string) ([]PartitionFile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "domain=*", "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var out []PartitionFile
	for _, path := range matches {
		key, step, err := ParsePartitionPath(path)
		if err != nil {
			continue
		}
		out = append(out, PartitionFile{Path: path, Key: key, Step: step})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}
