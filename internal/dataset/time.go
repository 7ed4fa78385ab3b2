package dataset

import (
	"fmt"
	"time"
)

// ParseUTC parses an ISO-8601 timestamp and normalizes it to UTC. Inputs
// without an explicit offset are rejected: every timestamp crossing a package
// boundary must carry a zone, and computation happens exclusively in UTC.
func ParseUTC(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999-0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601 with an explicit offset", s)
}

// FloorTo truncates t down to a multiple of step measured from the Unix
// epoch. Alignment to absolute epoch boundaries (rather than to the first
// sample, or to Go's year-1 zero time) is what makes independently processed
// ranges line up bucket-for-bucket.
func FloorTo(t time.Time, step time.Duration) time.Time {
	if step <= 0 {
		return t
	}
	stepNanos := step.Nanoseconds()
	nanos := t.UnixNano()
	rem := nanos % stepNanos
	if rem < 0 {
		rem += stepNanos
	}
	return time.Unix(0, nanos-rem).UTC()
}
