package zap

import (
	"path/filepath"
	"testing"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestBoltStore checks that pending zaps and the settle index survive
// reopening the database.
func TestBoltStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), DefaultBoltFileName)

	store, err := NewBoltStore(path)
	require.NoError(t, err)

	idx, err := store.SettleIndex()
	require.NoError(t, err)
	require.Zero(t, idx)

	pending, err := store.FetchPending()
	require.NoError(t, err)
	require.Empty(t, pending)

	p := &Pending{
		PaymentHash: lntypes.Hash{1, 2},
		Bolt11:      "lnbc1",
		Amount:      21000,
		Request:     &Request{Raw: `{"kind":9734}`},
		CreatedAt:   testTime,
	}
	require.NoError(t, store.PutPending(p))
	require.NoError(t, store.PutPending(&Pending{
		PaymentHash: lntypes.Hash{3},
		Request:     &Request{Raw: "{}"},
	}))
	require.NoError(t, store.DeletePending(lntypes.Hash{3}))
	require.NoError(t, store.PutSettleIndex(42))
	require.NoError(t, store.Close())

	store, err = NewBoltStore(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	idx, err = store.SettleIndex()
	require.NoError(t, err)
	require.EqualValues(t, 42, idx)

	pending, err = store.FetchPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, p.PaymentHash, pending[0].PaymentHash)
	require.Equal(t, p.Bolt11, pending[0].Bolt11)
	require.Equal(t, p.Amount, pending[0].Amount)
	require.Equal(t, p.Request.Raw, pending[0].Request.Raw)
	require.True(t, p.CreatedAt.Equal(pending[0].CreatedAt))
}

// TestTrackerWritesThrough checks that the tracker mirrors every change to
// its store.
func TestTrackerWritesThrough(t *testing.T) {
	t.Parallel()

	store, err := NewBoltStore(filepath.Join(t.TempDir(), "zaps.db"))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, store.Close())
	}()

	testClock := clock.NewTestClock(testTime)
	tracker := NewTracker(testClock, 0, store)

	for i := byte(1); i <= 3; i++ {
		tracker.Track(&Pending{
			PaymentHash: lntypes.Hash{i},
			Request:     &Request{Raw: "{}"},
		})
	}

	stored, err := store.FetchPending()
	require.NoError(t, err)
	require.Len(t, stored, 3)

	_, ok := tracker.Take(lntypes.Hash{1})
	require.True(t, ok)

	// Zero retention expires everything created before now.
	testClock.SetTime(testTime.Add(1))
	require.Equal(t, 2, tracker.Sweep())

	stored, err = store.FetchPending()
	require.NoError(t, err)
	require.Empty(t, stored)
}
