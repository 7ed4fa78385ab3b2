// Package storage reads and writes parquet partition files and implements
// the append/replace output-mode merge semantics.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
	"myxcli/internal/files"
	"myxcli/internal/timerange"
)

// Record is the long-form row stored on disk: one (timestamp, column, value)
// triple per cell. Files are sorted ascending by ts.
type Record struct {
	Ts     time.Time `parquet:"ts,timestamp(nanosecond)"`
	Column string    `parquet:"column,dict"`
	Value  *float64  `parquet:"value,optional"`
}

const sortRowCount = 4 << 10

// Store is the partition I/O collaborator. It owns no state beyond a logger;
// partition paths come from the files naming convention.
type Store struct {
	logger *slog.Logger
}

// NewStore creates a partition store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Read loads a partition file and pivots it to a frame.
func (s *Store) Read(path string) (*dataset.Frame, error) {
	records, err := parquet.ReadFile[Record](path)
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to read partition %s", path), err)
	}

	samples := make([]dataset.Sample, len(records))
	for i, r := range records {
		v := dataset.Null()
		if r.Value != nil {
			v = dataset.Of(*r.Value)
		}
		samples[i] = dataset.Sample{Ts: r.Ts.UTC(), Column: r.Column, Value: v}
	}
	return dataset.FromSamples(samples), nil
}

// ReadKey loads the partition identified by key from a stage directory.
// A missing file yields an empty frame: the partition simply does not exist yet.
func (s *Store) ReadKey(stageDir, step string, key dataset.PartitionKey) (*dataset.Frame, error) {
	path := files.PartitionPath(stageDir, step, key)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return dataset.NewFrame(nil), nil
	}
	return s.Read(path)
}

// Write commits computed rows to a partition under the given output mode:
//
//   - append: merge into the existing partition keyed by timestamp,
//     last write wins on duplicates, other rows preserved
//   - replace: existing rows inside the window are dropped first; rows
//     outside the window are preserved
//
// full-replace is a driver-level concern (the whole stage directory is wiped
// before any write) and arrives here as append.
func (s *Store) Write(stageDir, step string, key dataset.PartitionKey, frame *dataset.Frame,
	mode timerange.OutputMode, window timerange.Window) error {

	path := files.PartitionPath(stageDir, step, key)

	merged := frame
	if existing, err := s.ReadKey(stageDir, step, key); err != nil {
		return err
	} else if existing.Len() > 0 {
		switch mode {
		case timerange.ModeReplace:
			merged = dataset.Merge(existing.DropRange(window.From, window.HalfOpenTo()), frame)
		default: // append, full-replace
			merged = dataset.Merge(existing, frame)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to create partition directory for %s", path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to create partition %s", path), err)
	}
	defer f.Close()

	sw := parquet.NewSortingWriter[Record](f, sortRowCount,
		parquet.SortingWriterConfig(
			parquet.SortingColumns(
				parquet.Ascending("ts"),
				parquet.Ascending("column"),
			),
		),
	)

	records := toRecords(merged)
	if len(records) > 0 {
		if _, err := sw.Write(records); err != nil {
			return errors.NewStorageError(fmt.Sprintf("failed to write partition %s", path), err)
		}
	}
	if err := sw.Close(); err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to finalize partition %s", path), err)
	}

	s.logger.Debug("partition written",
		slog.String("path", path),
		slog.String("mode", string(mode)),
		slog.Int("rows", merged.Len()))
	return nil
}

// WipeStage deletes every partition file of a stage directory. Used by
// full-replace before recomputing the full range.
func (s *Store) WipeStage(stageDir string) (int, error) {
	parts, err := files.FindPartitions(stageDir)
	if err != nil {
		return 0, errors.NewStorageError(fmt.Sprintf("failed to scan stage %s", stageDir), err)
	}
	for _, p := range parts {
		if err := os.Remove(p.Path); err != nil {
			return 0, errors.NewStorageError(fmt.Sprintf("failed to delete partition %s", p.Path), err)
		}
	}
	return len(parts), nil
}

func toRecords(frame *dataset.Frame) []Record {
	samples := frame.Samples()
	records := make([]Record, len(samples))
	for i, smp := range samples {
		records[i] = Record{Ts: smp.Ts, Column: smp.Column}
		if smp.Value.Valid {
			v := smp.Value.F
			records[i].Value = &v
		}
	}
	return records
}
