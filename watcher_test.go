package lndaddr

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const watcherTimeout = 5 * time.Second

type mockSubscriber struct {
	mock.Mock
}

func (m *mockSubscriber) SubscribeInvoices(ctx context.Context,
	req lndclient.InvoiceSubscriptionRequest) (<-chan *lndclient.Invoice,
	<-chan error, error) {

	args := m.Called(req)
	return args.Get(0).(chan *lndclient.Invoice),
		args.Get(1).(chan error), args.Error(2)
}

type settleRecorder struct {
	settles chan *zap.Settlement
}

func (r *settleRecorder) HandleSettle(_ context.Context,
	settle *zap.Settlement) (bool, error) {

	r.settles <- settle
	return true, nil
}

func (r *settleRecorder) next(t *testing.T) *zap.Settlement {
	t.Helper()

	select {
	case settle := <-r.settles:
		return settle

	case <-time.After(watcherTimeout):
		t.Fatal("no settlement received")
		return nil
	}
}

func sendInvoice(t *testing.T, invoices chan *lndclient.Invoice,
	inv *lndclient.Invoice) {

	t.Helper()

	select {
	case invoices <- inv:
	case <-time.After(watcherTimeout):
		t.Fatal("watcher not reading invoices")
	}
}

func TestWatcherResubscribes(t *testing.T) {
	var (
		sub      = &mockSubscriber{}
		recorder = &settleRecorder{
			settles: make(chan *zap.Settlement, 10),
		}
		paidAt = time.Unix(1700000000, 0)

		invoices1 = make(chan *lndclient.Invoice)
		errs1     = make(chan error, 1)
		invoices2 = make(chan *lndclient.Invoice)
		errs2     = make(chan error)
	)

	sub.On("SubscribeInvoices", lndclient.InvoiceSubscriptionRequest{
		SettleIndex: 0,
	}).Return(invoices1, errs1, nil).Once()
	sub.On("SubscribeInvoices", lndclient.InvoiceSubscriptionRequest{
		SettleIndex: 5,
	}).Return(invoices2, errs2, nil).Once()

	watcher := NewWatcher(
		sub, recorder, nil, 0, clock.NewTestClock(paidAt),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// Unsettled invoices are skipped.
	sendInvoice(t, invoices1, &lndclient.Invoice{Hash: lntypes.Hash{1}})

	preimage := lntypes.Preimage{7}
	sendInvoice(t, invoices1, &lndclient.Invoice{
		Hash:        lntypes.Hash{2},
		AmountPaid:  21000,
		SettleDate:  paidAt,
		SettleIndex: 5,
		Preimage:    &preimage,
	})

	settle := recorder.next(t)
	require.Equal(t, &zap.Settlement{
		PaymentHash: lntypes.Hash{2},
		AmountPaid:  lnwire.MilliSatoshi(21000),
		PaidAt:      paidAt,
		Preimage:    &preimage,
	}, settle)
	require.EqualValues(t, 5, watcher.SettleIndex())

	// Break the stream, the watcher must resume from index 5.
	errs1 <- errors.New("stream broke")

	// A replayed invoice is ignored.
	sendInvoice(t, invoices2, &lndclient.Invoice{
		Hash:        lntypes.Hash{2},
		SettleIndex: 5,
	})
	sendInvoice(t, invoices2, &lndclient.Invoice{
		Hash:        lntypes.Hash{3},
		SettleIndex: 6,
	})

	settle = recorder.next(t)
	require.Equal(t, lntypes.Hash{3}, settle.PaymentHash)

	cancel()
	select {
	case <-done:
	case <-time.After(watcherTimeout):
		t.Fatal("watcher didn't exit")
	}

	require.Empty(t, recorder.settles)
	sub.AssertExpectations(t)
}

func TestWatcherSubscribeError(t *testing.T) {
	var (
		sub      = &mockSubscriber{}
		recorder = &settleRecorder{
			settles: make(chan *zap.Settlement, 1),
		}
		invoices = make(chan *lndclient.Invoice)
		errs     = make(chan error)
	)

	sub.On("SubscribeInvoices", mock.Anything).Return(
		(chan *lndclient.Invoice)(nil), (chan error)(nil),
		errors.New("lnd down"),
	).Once()
	sub.On("SubscribeInvoices", mock.Anything).Return(
		invoices, errs, nil,
	).Once()

	watcher := NewWatcher(
		sub, recorder, nil, 0, clock.NewTestClock(time.Unix(0, 0)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	sendInvoice(t, invoices, &lndclient.Invoice{
		Hash:        lntypes.Hash{4},
		SettleIndex: 1,
	})
	require.Equal(t, lntypes.Hash{4}, recorder.next(t).PaymentHash)

	cancel()
	<-done
	sub.AssertExpectations(t)
}

type memIndexStore struct {
	mu  sync.Mutex
	idx uint64
}

func (m *memIndexStore) SettleIndex() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.idx, nil
}

func (m *memIndexStore) PutSettleIndex(idx uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.idx = idx
	return nil
}

// TestWatcherPersistsSettleIndex checks that the watcher resumes from a
// stored settle index and keeps it current, so invoices settled while the
// daemon was down are replayed on start.
func TestWatcherPersistsSettleIndex(t *testing.T) {
	var (
		sub      = &mockSubscriber{}
		store    = &memIndexStore{idx: 7}
		recorder = &settleRecorder{
			settles: make(chan *zap.Settlement, 1),
		}
		invoices = make(chan *lndclient.Invoice)
		errs     = make(chan error)
	)

	sub.On("SubscribeInvoices", lndclient.InvoiceSubscriptionRequest{
		SettleIndex: 7,
	}).Return(invoices, errs, nil).Once()

	watcher := NewWatcher(
		sub, recorder, store, 0, clock.NewTestClock(time.Unix(0, 0)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	// Already handled before the restart.
	sendInvoice(t, invoices, &lndclient.Invoice{
		Hash:        lntypes.Hash{6},
		SettleIndex: 7,
	})
	sendInvoice(t, invoices, &lndclient.Invoice{
		Hash:        lntypes.Hash{8},
		SettleIndex: 8,
	})
	require.Equal(t, lntypes.Hash{8}, recorder.next(t).PaymentHash)

	cancel()
	<-done

	idx, err := store.SettleIndex()
	require.NoError(t, err)
	require.EqualValues(t, 8, idx)
	require.Empty(t, recorder.settles)
	sub.AssertExpectations(t)
}

// TestZapSettlement runs a zap from the callback request to the published
// receipt.
func TestZapSettlement(t *testing.T) {
	h := newServerHarness(t, true)
	h.addAccount(accounts.Account{Username: "alice"})

	zapReq := signedZapRequest(t, 21000)
	h.invoices.On("AddInvoice", mock.Anything).Return(
		testHash, testPayReq, nil,
	).Once()

	code, _ := h.get("/alice?amount=21000&nostr=" +
		url.QueryEscape(zapReq))
	require.Equal(t, http.StatusOK, code)

	receipts := make(chan nostr.Event, 1)
	h.publisher.On("Publish", "wss://relay.one", mock.Anything).Run(
		func(args mock.Arguments) {
			receipts <- args.Get(1).(nostr.Event)
		},
	).Return(nil).Once()

	var (
		sub      = &mockSubscriber{}
		invoices = make(chan *lndclient.Invoice)
		errs     = make(chan error)
	)
	sub.On("SubscribeInvoices", mock.Anything).Return(
		invoices, errs, nil,
	).Once()

	watcher := NewWatcher(
		sub, h.signer, nil, 0, clock.NewTestClock(time.Unix(0, 0)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watcher.Run(ctx)
		close(done)
	}()

	paidAt := time.Unix(1700000100, 0)
	sendInvoice(t, invoices, &lndclient.Invoice{
		Hash:        testHash,
		AmountPaid:  21000,
		SettleDate:  paidAt,
		SettleIndex: 1,
	})

	var receipt nostr.Event
	select {
	case receipt = <-receipts:
	case <-time.After(watcherTimeout):
		t.Fatal("no receipt published")
	}

	cancel()
	<-done

	require.Equal(t, nostr.KindZap, receipt.Kind)
	require.Equal(t, h.signer.PubKey(), receipt.PubKey)
	require.Equal(t, nostr.Timestamp(paidAt.Unix()), receipt.CreatedAt)
	tags := make(map[string]string)
	for _, tag := range receipt.Tags {
		if len(tag) >= 2 {
			tags[tag[0]] = tag[1]
		}
	}
	require.Equal(t, testPayReq, tags["bolt11"])
	require.Equal(t, zapReq, tags["description"])
	require.Equal(t, "21000", tags["amount"])

	ok, err := receipt.CheckSignature()
	require.NoError(t, err)
	require.True(t, ok)

	require.False(t, h.signer.Tracker().IsTracked(testHash))
	h.publisher.AssertExpectations(t)
}
