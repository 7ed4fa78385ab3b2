package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFromSamplesPivots(t *testing.T) {
	samples := []Sample{
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m1", Value: Of(2)},
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Null()},
	}

	f := FromSamples(samples)

	require.Equal(t, 2, f.Len())
	assert.Equal(t, []time.Time{ts("2024-03-01T00:00:01Z"), ts("2024-03-01T00:00:02Z")}, f.Times)
	assert.Equal(t, []string{"m1", "m0"}, f.Columns(), "column order follows first appearance")

	// m1 has no value at the first timestamp.
	assert.False(t, f.At("m1", 0).Valid)
	assert.Equal(t, Of(2), f.At("m1", 1))
	assert.Equal(t, Of(1), f.At("m0", 0))
	assert.False(t, f.At("m0", 1).Valid)
}

func TestFromSamplesDuplicateLastWins(t *testing.T) {
	f := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(9)},
	})
	require.Equal(t, 1, f.Len())
	assert.Equal(t, Of(9), f.At("m0", 0))
}

func TestSamplesRoundTrip(t *testing.T) {
	f := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Null()},
	})
	back := FromSamples(f.Samples())
	assert.Equal(t, f.Times, back.Times)
	assert.Equal(t, f.Columns(), back.Columns())
	assert.Equal(t, f.Column("m0"), back.Column("m0"))
}

func TestFrameSlice(t *testing.T) {
	f := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Of(2)},
		{Ts: ts("2024-03-01T00:00:03Z"), Column: "m0", Value: Of(3)},
	})

	got := f.Slice(ts("2024-03-01T00:00:02Z"), ts("2024-03-01T00:00:03Z"))
	require.Equal(t, 1, got.Len())
	assert.Equal(t, Of(2), got.At("m0", 0))

	assert.Equal(t, 3, f.Slice(time.Time{}, time.Time{}).Len(), "zero bounds are unbounded")
	assert.Equal(t, 2, f.Slice(time.Time{}, ts("2024-03-01T00:00:03Z")).Len())
	assert.Equal(t, 2, f.Slice(ts("2024-03-01T00:00:02Z"), time.Time{}).Len())
	assert.Equal(t, 0, f.Slice(ts("2024-03-02T00:00:00Z"), time.Time{}).Len())
}

func TestMergeOverWinsRowWise(t *testing.T) {
	base := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Of(2)},
	})
	over := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Of(20)},
		{Ts: ts("2024-03-01T00:00:03Z"), Column: "m0", Value: Of(30)},
	})

	m := Merge(base, over)
	require.Equal(t, 3, m.Len())
	assert.Equal(t, Of(1), m.At("m0", 0))
	assert.Equal(t, Of(20), m.At("m0", 1), "overlapping rows come from over")
	assert.Equal(t, Of(30), m.At("m0", 2))
}

func TestMergeRowLevelNullsWin(t *testing.T) {
	// A null in the newer frame replaces an older valid value: rows are
	// replaced whole, never patched cell by cell.
	base := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m1", Value: Of(10)},
	})
	over := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Null()},
	})

	m := Merge(base, over)
	require.Equal(t, 1, m.Len())
	assert.False(t, m.At("m0", 0).Valid)
	assert.False(t, m.At("m1", 0).Valid, "columns absent from the newer row become null, not inherited")
}

func TestMergeEmptySides(t *testing.T) {
	f := FromSamples([]Sample{{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)}})
	assert.Equal(t, f, Merge(NewFrame(nil), f))
	assert.Equal(t, f, Merge(f, NewFrame(nil)))
}

func TestDropRange(t *testing.T) {
	f := FromSamples([]Sample{
		{Ts: ts("2024-03-01T00:00:01Z"), Column: "m0", Value: Of(1)},
		{Ts: ts("2024-03-01T00:00:02Z"), Column: "m0", Value: Of(2)},
		{Ts: ts("2024-03-01T00:00:03Z"), Column: "m0", Value: Of(3)},
	})

	got := f.DropRange(ts("2024-03-01T00:00:02Z"), ts("2024-03-01T00:00:03Z"))
	require.Equal(t, 2, got.Len())
	assert.Equal(t, Of(1), got.At("m0", 0))
	assert.Equal(t, Of(3), got.At("m0", 1))
}
