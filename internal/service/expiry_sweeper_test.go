package service

import (
	"context"
	"testing"
	"time"

	"staybook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnceExpiresStalePending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pending := f.book(t, "2024-03-01", "2024-03-04")
	confirmed := f.book(t, "2024-03-10", "2024-03-12")
	_, err := f.bookings.Transition(ctx, confirmed.ID, models.StatusConfirmed, owner, "")
	require.NoError(t, err)

	logger := zerolog.Nop()
	sweeper := NewExpirySweeper(f.db, f.bookings, time.Hour, time.Minute, &logger)

	// nothing is older than an hour yet
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.db.GetBooking(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, models.ExpiredReason, got.CancellationReason)

	got, err = f.db.GetBooking(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	res, err := f.avail.ResolveRange(ctx, f.property.ID, day("2024-03-01"), day("2024-03-04"))
	require.NoError(t, err)
	assert.True(t, res.IsAvailable)

	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestExpirePendingSkipsConfirmed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	b := f.book(t, "2024-03-01", "2024-03-04")
	_, err := f.bookings.Transition(ctx, b.ID, models.StatusConfirmed, owner, "")
	require.NoError(t, err)

	_, err = f.bookings.ExpirePending(ctx, b.ID)
	assert.Error(t, err)

	got, err := f.db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	logger := zerolog.Nop()
	sweeper := NewExpirySweeper(f.db, f.bookings, time.Hour, 10*time.Millisecond, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
