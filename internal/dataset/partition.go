package dataset

import (
	"fmt"
	"strings"
	"time"
)

// DayFormat is the canonical day key layout used in partition names.
const DayFormat = "2006-01-02"

// PartitionKey identifies one independently written unit of data:
// (source, domain, day) for sample stages, plus a window label for
// aggregated stages.
type PartitionKey struct {
	Source string
	Domain string
	Day    string
	Window string // empty for non-aggregated stages
}

// String renders the key in the file-stem convention
// source__domain__day or source__domain__window__day.
func (k PartitionKey) String() string {
	if k.Window != "" {
		return strings.Join([]string{k.Source, k.Domain, k.Window, k.Day}, "__")
	}
	return strings.Join([]string{k.Source, k.Domain, k.Day}, "__")
}

// DayStart returns the UTC midnight opening the partition's day.
func (k PartitionKey) DayStart() (time.Time, error) {
	t, err := time.ParseInLocation(DayFormat, k.Day, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("partition %s: bad day: %w", k, err)
	}
	return t, nil
}

// DayEnd returns the exclusive end of the partition's day (next midnight UTC).
func (k PartitionKey) DayEnd() (time.Time, error) {
	start, err := k.DayStart()
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(24 * time.Hour), nil
}

// PrevDay returns the key of the same partition one day earlier.
func (k PartitionKey) PrevDay() (PartitionKey, error) {
	start, err := k.DayStart()
	if err != nil {
		return PartitionKey{}, err
	}
	prev := k
	prev.Day = start.Add(-24 * time.Hour).UTC().Format(DayFormat)
	return prev, nil
}

// Less orders keys by day, then domain, then source, then window. Day-major
// ordering is what the driver relies on for deterministic processing.
func (k PartitionKey) Less(other PartitionKey) bool {
	if k.Day != other.Day {
		return k.Day < other.Day
	}
	if k.Domain != other.Domain {
		return k.Domain < other.Domain
	}
	if k.Source != other.Source {
		return k.Source < other.Source
	}
	return k.Window < other.Window
}
