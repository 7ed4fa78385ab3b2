package dataset

import (
	"sort"
	"time"
)

// Value is a nullable measurement. The zero value is null.
type Value struct {
	F     float64
	Valid bool
}

// Of returns a valid Value.
func Of(f float64) Value {
	return Value{F: f, Valid: true}
}

// Null returns a null Value.
func Null() Value {
	return Value{}
}

// Sample is one raw observation: an instant, a column name and a nullable value.
// Timestamps are always UTC instants; no other representation crosses package
// boundaries.
type Sample struct {
	Ts     time.Time
	Column string
	Value  Value
}

// Frame is a columnar table keyed by timestamp. Rows are kept sorted by
// ascending timestamp and every column slice has exactly len(Times) entries.
type Frame struct {
	Times   []time.Time
	columns []string
	data    map[string][]Value
}

// NewFrame creates a frame over the given (already sorted) timestamps.
func NewFrame(times []time.Time) *Frame {
	return &Frame{
		Times: times,
		data:  make(map[string][]Value),
	}
}

// Len returns the row count.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Times)
}

// Columns returns column names in insertion order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// HasColumn reports whether the frame carries the named column.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.data[name]
	return ok
}

// Column returns the values of the named column, or nil if absent.
// The returned slice is the frame's backing storage; callers must not
// resize it.
func (f *Frame) Column(name string) []Value {
	return f.data[name]
}

// SetColumn adds or replaces a column. The slice length must equal Len().
func (f *Frame) SetColumn(name string, values []Value) {
	if _, exists := f.data[name]; !exists {
		f.columns = append(f.columns, name)
	}
	f.data[name] = values
}

// At returns the value of column at row i, null when the column is absent.
func (f *Frame) At(column string, i int) Value {
	vals, ok := f.data[column]
	if !ok {
		return Null()
	}
	return vals[i]
}

// Samples flattens the frame to the long form used by the partition store:
// one Sample per (row, column), column-major within a row, rows in time order.
func (f *Frame) Samples() []Sample {
	out := make([]Sample, 0, f.Len()*len(f.columns))
	for i, ts := range f.Times {
		for _, c := range f.columns {
			out = append(out, Sample{Ts: ts, Column: c, Value: f.data[c][i]})
		}
	}
	return out
}

// FromSamples pivots a long-form sample sequence into a frame. Samples need
// not be sorted; duplicate (ts, column) pairs resolve last-write-wins. Column
// order follows first appearance.
func FromSamples(samples []Sample) *Frame {
	type cell struct {
		col string
		ts  time.Time
	}
	tsSet := make(map[time.Time]struct{})
	var colOrder []string
	colSeen := make(map[string]struct{})
	values := make(map[cell]Value)

	for _, s := range samples {
		ts := s.Ts.UTC()
		tsSet[ts] = struct{}{}
		if _, ok := colSeen[s.Column]; !ok {
			colSeen[s.Column] = struct{}{}
			colOrder = append(colOrder, s.Column)
		}
		values[cell{col: s.Column, ts: ts}] = s.Value
	}

	times := make([]time.Time, 0, len(tsSet))
	for ts := range tsSet {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	f := NewFrame(times)
	for _, c := range colOrder {
		vals := make([]Value, len(times))
		for i, ts := range times {
			vals[i] = values[cell{col: c, ts: ts}]
		}
		f.SetColumn(c, vals)
	}
	return f
}

// Row returns the index of ts, or -1 when absent.
func (f *Frame) Row(ts time.Time) int {
	i := sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(ts) })
	if i < len(f.Times) && f.Times[i].Equal(ts) {
		return i
	}
	return -1
}

// Slice returns a new frame containing rows with from <= ts < to.
// A zero from or to leaves that side unbounded.
func (f *Frame) Slice(from, to time.Time) *Frame {
	lo := 0
	hi := len(f.Times)
	if !from.IsZero() {
		lo = sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(from) })
	}
	if !to.IsZero() {
		hi = sort.Search(len(f.Times), func(i int) bool { return !f.Times[i].Before(to) })
	}
	if lo > hi {
		lo = hi
	}
	out := NewFrame(append([]time.Time(nil), f.Times[lo:hi]...))
	for _, c := range f.columns {
		out.SetColumn(c, append([]Value(nil), f.data[c][lo:hi]...))
	}
	return out
}

// Merge combines base and over row-wise: the result holds the union of
// timestamps, and for any timestamp present in both, the row from over wins
// entirely. Column set is the union, with base's column order first.
func Merge(base, over *Frame) *Frame {
	if base == nil || base.Len() == 0 {
		return over
	}
	if over == nil || over.Len() == 0 {
		return base
	}

	overRows := make(map[time.Time]int, over.Len())
	for i, ts := range over.Times {
		overRows[ts] = i
	}

	tsSet := make(map[time.Time]struct{}, base.Len()+over.Len())
	for _, ts := range base.Times {
		tsSet[ts] = struct{}{}
	}
	for _, ts := range over.Times {
		tsSet[ts] = struct{}{}
	}
	times := make([]time.Time, 0, len(tsSet))
	for ts := range tsSet {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	cols := base.Columns()
	colSeen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		colSeen[c] = struct{}{}
	}
	for _, c := range over.Columns() {
		if _, ok := colSeen[c]; !ok {
			cols = append(cols, c)
		}
	}

	baseRows := make(map[time.Time]int, base.Len())
	for i, ts := range base.Times {
		baseRows[ts] = i
	}

	out := NewFrame(times)
	for _, c := range cols {
		vals := make([]Value, len(times))
		for i, ts := range times {
			if j, ok := overRows[ts]; ok {
				vals[i] = over.At(c, j)
				continue
			}
			if j, ok := baseRows[ts]; ok {
				vals[i] = base.At(c, j)
			}
		}
		out.SetColumn(c, vals)
	}
	return out
}

// DropRange removes rows with from <= ts < to and returns the remainder as a
// new frame. Zero bounds leave that side unbounded.
func (f *Frame) DropRange(from, to time.Time) *Frame {
	keep := make([]int, 0, f.Len())
	for i, ts := range f.Times {
		inside := (from.IsZero() || !ts.Before(from)) && (to.IsZero() || ts.Before(to))
		if !inside {
			keep = append(keep, i)
		}
	}
	times := make([]time.Time, len(keep))
	for i, j := range keep {
		times[i] = f.Times[j]
	}
	out := NewFrame(times)
	for _, c := range f.columns {
		vals := make([]Value, len(keep))
		for i, j := range keep {
			vals[i] = f.data[c][j]
		}
		out.SetColumn(c, vals)
	}
	return out
}
