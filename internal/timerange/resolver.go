package timerange

import (
	"time"

	"myxcli/internal/dataset"
	"myxcli/internal/errors"
)

// DefaultMinWindow is the smallest incremental delta worth reprocessing.
// Flooring the resume point to the hour means a partially processed hour is
// always recomputed whole; deltas below this floor resolve to a no-op.
const DefaultMinWindow = time.Hour

// Inputs carries everything the resolver may consult. LastInput and
// LastOutput are the maximum timestamps observed in the step's input and
// existing output; nil means no data is available on that side.
type Inputs struct {
	ExplicitFrom *time.Time
	ExplicitTo   *time.Time
	Incremental  bool
	LastInput    *time.Time
	LastOutput   *time.Time
}

// Resolver computes the effective processing window of an invocation.
type Resolver struct {
	MinWindow time.Duration
}

// NewResolver returns a resolver with the default one-hour minimum window.
func NewResolver() Resolver {
	return Resolver{MinWindow: DefaultMinWindow}
}

// Resolve applies the bound rules in priority order:
//
//  1. both explicit bounds: exactly [from, to), no extension, no minimum
//  2. only from: [from, latest available)
//  3. only to: [earliest available, to)
//  4. incremental: resume from floor_to_hour(last output) up to and including
//     the last input timestamp, subject to the minimum window
//  5. neither: the full available range
//
// An empty or inverted explicit window and an up-to-date incremental state
// both resolve to a no-op window, never an error.
func (r Resolver) Resolve(in Inputs) (Window, error) {
	if in.Incremental && (in.ExplicitFrom != nil || in.ExplicitTo != nil) {
		return Window{}, errors.NewValidationError(
			"incremental mode is mutually exclusive with explicit bounds", nil)
	}

	switch {
	case in.ExplicitFrom != nil && in.ExplicitTo != nil:
		from := in.ExplicitFrom.UTC()
		to := in.ExplicitTo.UTC()
		if !from.Before(to) {
			return Window{NoOp: true, Reason: "empty explicit window"}, nil
		}
		return Window{From: from, To: to}, nil

	case in.ExplicitFrom != nil:
		return Window{From: in.ExplicitFrom.UTC()}, nil

	case in.ExplicitTo != nil:
		return Window{To: in.ExplicitTo.UTC()}, nil

	case in.Incremental:
		return r.resolveIncremental(in), nil
	}

	// No bounds, not incremental: full reprocessing.
	return Window{}, nil
}

func (r Resolver) resolveIncremental(in Inputs) Window {
	if in.LastInput == nil {
		return Window{NoOp: true, Reason: "no input data available"}
	}
	lastIn := in.LastInput.UTC()

	// First run: nothing committed yet, process everything up to the input's
	// last timestamp.
	if in.LastOutput == nil {
		return Window{To: lastIn, IncludeTo: true}
	}
	lastOut := in.LastOutput.UTC()

	if !lastIn.After(lastOut) {
		return Window{NoOp: true, Reason: "already up to date"}
	}

	minWindow := r.MinWindow
	if minWindow <= 0 {
		minWindow = DefaultMinWindow
	}

	// Resume from the floor of the last committed hour so a partially
	// processed hour is always recomputed whole. When the output ends exactly
	// on an hour boundary there is nothing to recompute and any strictly new
	// data is worth a run; otherwise the recompute is only worth it once the
	// window reaches the minimum.
	candidateFrom := dataset.FloorTo(lastOut, time.Hour)
	if candidateFrom.Before(lastOut) && lastIn.Sub(candidateFrom) < minWindow {
		return Window{NoOp: true, Reason: "delta below minimum window"}
	}
	return Window{From: candidateFrom, To: lastIn, IncludeTo: true}
}
