package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUTC(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-01T10:00:00Z", "2024-03-01T10:00:00Z"},
		{"2024-03-01T10:00:00.5Z", "2024-03-01T10:00:00.5Z"},
		{"2024-03-01T12:00:00+02:00", "2024-03-01T10:00:00Z"},
		{"2024-03-01T12:00:00.25+0200", "2024-03-01T10:00:00.25Z"},
	}
	for _, tt := range tests {
		got, err := ParseUTC(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(ts(tt.want)), "%s: got %s", tt.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}
}

func TestParseUTCRejectsNaiveTimestamps(t *testing.T) {
	for _, in := range []string{"2024-03-01T10:00:00", "2024-03-01 10:00:00", "not-a-time", ""} {
		_, err := ParseUTC(in)
		assert.Error(t, err, in)
	}
}

func TestFloorToEpochAlignment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		step time.Duration
		want string
	}{
		{"already aligned", "2024-03-01T10:00:00Z", time.Hour, "2024-03-01T10:00:00Z"},
		{"mid-hour floors down", "2024-03-01T13:50:12Z", time.Hour, "2024-03-01T13:00:00Z"},
		{"sub-second step", "2024-03-01T10:00:00.7Z", time.Second, "2024-03-01T10:00:00Z"},
		{"odd step stays epoch-anchored", "2024-03-01T00:00:25Z", 10 * time.Second, "2024-03-01T00:00:20Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, ts(tt.want), FloorTo(ts(tt.in), tt.step))
		})
	}
}

func TestFloorToSameInstantAcrossRanges(t *testing.T) {
	// Two overlapping processing ranges must agree on bucket boundaries.
	step := 7 * time.Second
	a := FloorTo(ts("2024-03-01T00:01:00Z"), step)
	b := FloorTo(a.Add(3*time.Second), step)
	assert.Equal(t, a, b)
}

func TestPartitionKey(t *testing.T) {
	k := PartitionKey{Source: "dev1", Domain: "env", Day: "2024-03-01"}

	start, err := k.DayStart()
	require.NoError(t, err)
	assert.Equal(t, ts("2024-03-01T00:00:00Z"), start)

	end, err := k.DayEnd()
	require.NoError(t, err)
	assert.Equal(t, ts("2024-03-02T00:00:00Z"), end)

	prev, err := k.PrevDay()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", prev.Day, "leap day")

	assert.Equal(t, "dev1__env__2024-03-01", k.String())
	k.Window = "1h"
	assert.Equal(t, "dev1__env__1h__2024-03-01", k.String())
}

func TestPartitionKeyLessIsDayMajor(t *testing.T) {
	a := PartitionKey{Source: "z", Domain: "z", Day: "2024-03-01"}
	b := PartitionKey{Source: "a", Domain: "a", Day: "2024-03-02"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}
