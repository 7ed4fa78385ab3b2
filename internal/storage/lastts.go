package storage

import (
	"errors"
	"io/fs"
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/files"
)

// LastTimestamp is the incremental-state collaborator: the maximum timestamp
// present in a stage directory. For parquet stages it reads the actual
// timestamps of the latest day's partitions; for raw CSV inputs it falls back
// to the date embedded in the newest file name, resolved to end of day.
// Returns false when the directory holds no data at all.
func (s *Store) LastTimestamp(stageDir string) (time.Time, bool, error) {
	parts, err := files.FindPartitions(stageDir)
	if err != nil {
		return time.Time{}, false, err
	}

	if len(parts) > 0 {
		// Partitions are sorted day-major; only the newest day can carry the
		// maximum timestamp.
		maxDay := parts[len(parts)-1].Key.Day
		var last time.Time
		found := false
		for i := len(parts) - 1; i >= 0 && parts[i].Key.Day == maxDay; i-- {
			frame, err := s.Read(parts[i].Path)
			if err != nil {
				return time.Time{}, false, err
			}
			if n := frame.Len(); n > 0 {
				if ts := frame.Times[n-1]; !found || ts.After(last) {
					last = ts
					found = true
				}
			}
		}
		if found {
			return last, true, nil
		}
	}

	raws, err := files.FindRawCSVs(stageDir, nil)
	if err != nil {
		// A stage that does not exist yet simply has no data; any other
		// scan failure is real and must surface, not masquerade as a no-op.
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	if len(raws) == 0 {
		return time.Time{}, false, nil
	}
	day, err := time.ParseInLocation(dataset.DayFormat, raws[len(raws)-1].Day, time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return day.Add(24*time.Hour - time.Second), true, nil
}
