package timerange

import (
	"fmt"
	"time"
)

// OutputMode is the merge policy applied when computed rows are written into
// an existing partition. It is caller-supplied and independent of how the
// processing window itself is resolved.
type OutputMode string

const (
	// ModeAppend merges new rows into touched partitions keyed by timestamp,
	// last write wins on duplicates; untouched rows are preserved.
	ModeAppend OutputMode = "append"
	// ModeReplace rewrites the window's slice of touched partitions from the
	// newly computed rows only; rows outside the window are preserved.
	ModeReplace OutputMode = "replace"
	// ModeFullReplace deletes every partition of the step first, then writes
	// the full recomputed range.
	ModeFullReplace OutputMode = "full-replace"
)

// ParseOutputMode validates a mode string.
func ParseOutputMode(s string) (OutputMode, error) {
	switch OutputMode(s) {
	case ModeAppend, ModeReplace, ModeFullReplace:
		return OutputMode(s), nil
	}
	return "", fmt.Errorf("unknown output mode %q (want append, replace or full-replace)", s)
}

// Window is the effective processing range of one invocation. A zero From or
// To leaves that side unbounded. The range is half-open [From, To) unless
// IncludeTo is set, which happens in incremental mode where To is the last
// observed input timestamp and must itself be reprocessed.
//
// Windows are created fresh per invocation and never persisted.
type Window struct {
	From      time.Time
	To        time.Time
	IncludeTo bool

	// NoOp signals "nothing worth processing". It is a success outcome,
	// carrying a human-readable Reason, and is distinct from any error.
	NoOp   bool
	Reason string
}

// Unbounded reports whether neither side of the window is set.
func (w Window) Unbounded() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	if w.NoOp {
		return false
	}
	if !w.From.IsZero() && ts.Before(w.From) {
		return false
	}
	if !w.To.IsZero() {
		if ts.After(w.To) {
			return false
		}
		if ts.Equal(w.To) && !w.IncludeTo {
			return false
		}
	}
	return true
}

// OverlapsDay reports whether the window intersects the UTC day starting at
// dayStart. Used to select which daily partitions an invocation touches.
func (w Window) OverlapsDay(dayStart time.Time) bool {
	if w.NoOp {
		return false
	}
	dayEnd := dayStart.Add(24 * time.Hour)
	if !w.From.IsZero() && !w.From.Before(dayEnd) {
		return false
	}
	if !w.To.IsZero() {
		if w.To.Before(dayStart) {
			return false
		}
		if w.To.Equal(dayStart) && !w.IncludeTo {
			return false
		}
	}
	return true
}

// HalfOpenTo returns the exclusive upper bound of the window, folding the
// inclusive-end case into half-open arithmetic. Zero when unbounded.
func (w Window) HalfOpenTo() time.Time {
	if w.To.IsZero() {
		return time.Time{}
	}
	if w.IncludeTo {
		return w.To.Add(time.Nanosecond)
	}
	return w.To
}

// String renders the window for logs.
func (w Window) String() string {
	if w.NoOp {
		return fmt.Sprintf("no-op (%s)", w.Reason)
	}
	from := "start"
	if !w.From.IsZero() {
		from = w.From.Format(time.RFC3339)
	}
	to := "end"
	if !w.To.IsZero() {
		to = w.To.Format(time.RFC3339)
	}
	sep := " .. "
	if w.IncludeTo {
		sep = " ..= "
	}
	return from + sep + to
}
