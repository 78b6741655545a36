package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCheckedIn, true},
		{StatusCheckedIn, StatusCheckedOut, true},
		{StatusCheckedOut, StatusCompleted, true},
		{StatusPending, StatusCheckedIn, false},
		{StatusConfirmed, StatusCompleted, false},
		{StatusCheckedIn, StatusCancelled, false},
		{StatusCancelled, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusCheckedOut, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	assert.Empty(t, NextStatuses(StatusCancelled))
	assert.Empty(t, NextStatuses(StatusCompleted))
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusCheckedOut.IsTerminal())
}

func TestOccupyingStatuses(t *testing.T) {
	for _, s := range OccupyingStatuses {
		assert.True(t, s.IsOccupying(), s)
	}
	assert.False(t, StatusCheckedOut.IsOccupying())
	assert.False(t, StatusCancelled.IsOccupying())
	assert.False(t, BookingStatus("pending").Valid())
}

func TestDates(t *testing.T) {
	start, err := ParseDate("2024-03-01")
	require.NoError(t, err)
	end, _ := ParseDate("2024-03-04")

	assert.Equal(t, 3, DaysBetween(start, end))
	assert.Equal(t, 1, DaysBetween(start, start.Add(2*time.Hour)))
	assert.Len(t, EachDay(start, end), 3)
	assert.Empty(t, EachDay(end, start))

	assert.Equal(t, start, DateOnly(start.Add(13*time.Hour)))
}

func TestOverlapsHalfOpen(t *testing.T) {
	d := func(s string) time.Time {
		v, _ := ParseDate(s)
		return v
	}

	assert.True(t, Overlaps(d("2024-04-01"), d("2024-04-05"), d("2024-04-04"), d("2024-04-08")))
	assert.False(t, Overlaps(d("2024-04-01"), d("2024-04-05"), d("2024-04-05"), d("2024-04-08")))
	assert.False(t, Overlaps(d("2024-04-05"), d("2024-04-08"), d("2024-04-01"), d("2024-04-05")))
	assert.True(t, Overlaps(d("2024-04-01"), d("2024-04-30"), d("2024-04-10"), d("2024-04-11")))
}

func TestCancellationPolicyWindow(t *testing.T) {
	assert.Equal(t, 24*time.Hour, PolicyFlexible.Window())
	assert.Equal(t, 30*24*time.Hour, PolicySuperStrict.Window())
	assert.Zero(t, CancellationPolicy("").Window())
	assert.True(t, CancellationPolicy("").Valid())
	assert.False(t, CancellationPolicy("LAX").Valid())
}
