package lndaddr

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ellemouton/lndaddr/zap"
	"github.com/lightninglabs/lndclient"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnwire"
)

// InvoiceSubscriber streams invoice updates from the node.
// lndclient.LightningClient satisfies it.
type InvoiceSubscriber interface {
	SubscribeInvoices(ctx context.Context,
		req lndclient.InvoiceSubscriptionRequest) (
		<-chan *lndclient.Invoice, <-chan error, error)
}

// SettleHandler is notified of every settled invoice. It returns false if it
// didn't know the invoice.
type SettleHandler interface {
	HandleSettle(ctx context.Context, settle *zap.Settlement) (bool,
		error)
}

// SettleIndexStore persists the highest settle index handled.
// zap.BoltStore satisfies it.
type SettleIndexStore interface {
	SettleIndex() (uint64, error)
	PutSettleIndex(idx uint64) error
}

// Watcher subscribes to the node's invoice updates and hands settled
// invoices to a SettleHandler. The subscription is re-established after an
// error, resuming from the last settle index seen.
type Watcher struct {
	subscriber InvoiceSubscriber
	handler    SettleHandler
	store      SettleIndexStore
	backoff    time.Duration
	clock      clock.Clock

	mu          sync.Mutex
	settleIndex uint64

	wg sync.WaitGroup
}

// NewWatcher creates a watcher. The subscription is restarted backoff after
// it failed. If store is not nil, the watcher resumes from the settle index
// it holds and keeps it up to date.
func NewWatcher(subscriber InvoiceSubscriber, handler SettleHandler,
	store SettleIndexStore, backoff time.Duration,
	clk clock.Clock) *Watcher {

	return &Watcher{
		subscriber: subscriber,
		handler:    handler,
		store:      store,
		backoff:    backoff,
		clock:      clk,
	}
}

// Run watches invoices until ctx is cancelled. It waits for all pending
// settlement handlers before returning.
func (w *Watcher) Run(ctx context.Context) {
	defer w.wg.Wait()

	if w.store != nil {
		idx, err := w.store.SettleIndex()
		if err != nil {
			log.Errorf("Unable to load settle index, starting "+
				"from zero: %v", err)
		}

		w.mu.Lock()
		w.settleIndex = idx
		w.mu.Unlock()
	}

	for {
		err := w.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}

		log.Warnf("Invoice subscription failed, retrying in %v: %v",
			w.backoff, err)

		select {
		case <-w.clock.TickAfter(w.backoff):
		case <-ctx.Done():
			return
		}
	}
}

// SettleIndex returns the highest settle index seen so far.
func (w *Watcher) SettleIndex() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.settleIndex
}

// subscribe runs a single subscription until it fails or ctx is cancelled.
func (w *Watcher) subscribe(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	invoices, errChan, err := w.subscriber.SubscribeInvoices(
		subCtx, lndclient.InvoiceSubscriptionRequest{
			SettleIndex: w.SettleIndex(),
		},
	)
	if err != nil {
		return err
	}

	log.Debugf("Subscribed to invoices from settle index %d",
		w.SettleIndex())

	for {
		select {
		case inv, ok := <-invoices:
			if !ok {
				return errors.New("invoice stream closed")
			}

			w.handleInvoice(ctx, inv)

		case err, ok := <-errChan:
			if !ok {
				return errors.New("invoice error stream closed")
			}

			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleInvoice dispatches settled invoices. Updates of unsettled invoices
// are ignored.
func (w *Watcher) handleInvoice(ctx context.Context, inv *lndclient.Invoice) {
	if inv.SettleIndex == 0 {
		return
	}

	w.mu.Lock()
	if inv.SettleIndex <= w.settleIndex {
		w.mu.Unlock()
		return
	}
	w.settleIndex = inv.SettleIndex
	w.mu.Unlock()

	if w.store != nil {
		if err := w.store.PutSettleIndex(inv.SettleIndex); err != nil {
			log.Errorf("Unable to persist settle index %d: %v",
				inv.SettleIndex, err)
		}
	}

	settle := &zap.Settlement{
		PaymentHash: inv.Hash,
		AmountPaid:  lnwire.MilliSatoshi(inv.AmountPaid),
		PaidAt:      inv.SettleDate,
		Preimage:    inv.Preimage,
	}

	log.Debugf("Invoice %v (%s) settled at index %d", inv.Hash,
		inv.Memo, inv.SettleIndex)

	// Relays can be slow, don't hold up the stream.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		tracked, err := w.handler.HandleSettle(ctx, settle)
		switch {
		case err != nil:
			receiptsTotal.WithLabelValues("failed").Inc()
			log.Errorf("Zap receipt for %v: %v", settle.PaymentHash,
				err)

		case tracked:
			receiptsTotal.WithLabelValues("published").Inc()
		}
	}()
}
