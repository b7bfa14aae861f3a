package zap

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// TestTrackerTake checks that an entry can only be taken once.
func TestTrackerTake(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(clock.NewTestClock(testTime), time.Hour, nil)

	hash := lntypes.Hash{1}
	tracker.Track(&Pending{PaymentHash: hash, Bolt11: "lnbc1"})
	require.True(t, tracker.IsTracked(hash))
	require.Equal(t, 1, tracker.Len())

	p, ok := tracker.Take(hash)
	require.True(t, ok)
	require.Equal(t, "lnbc1", p.Bolt11)
	require.Equal(t, testTime, p.CreatedAt)

	_, ok = tracker.Take(hash)
	require.False(t, ok)
	require.Zero(t, tracker.Len())
}

// TestTrackerSweep checks that only entries past the retention window are
// removed.
func TestTrackerSweep(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testTime)
	tracker := NewTracker(testClock, time.Hour, nil)

	tracker.Track(&Pending{PaymentHash: lntypes.Hash{1}})

	testClock.SetTime(testTime.Add(30 * time.Minute))
	tracker.Track(&Pending{PaymentHash: lntypes.Hash{2}})

	require.Zero(t, tracker.Sweep())

	testClock.SetTime(testTime.Add(61 * time.Minute))
	require.Equal(t, 1, tracker.Sweep())
	require.False(t, tracker.IsTracked(lntypes.Hash{1}))
	require.True(t, tracker.IsTracked(lntypes.Hash{2}))
}
