package zap

import (
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

// Pending is an invoice created for a zap request that hasn't been settled
// yet.
type Pending struct {
	// PaymentHash identifies the invoice.
	PaymentHash lntypes.Hash

	// Bolt11 is the payment request handed to the payer.
	Bolt11 string

	// Amount is the requested amount.
	Amount lnwire.MilliSatoshi

	// Request is the zap request committed to by the invoice.
	Request *Request

	// CreatedAt is set by the Tracker.
	CreatedAt time.Time
}

// Tracker correlates settled invoices with the zap requests they were
// created for. Entries are removed once settled or after the retention
// window passed. With a Store, every change is written through so that
// entries survive a restart.
type Tracker struct {
	clock     clock.Clock
	retention time.Duration
	store     Store

	mu      sync.RWMutex
	pending map[lntypes.Hash]*Pending
}

// NewTracker creates an empty tracker. store may be nil.
func NewTracker(clk clock.Clock, retention time.Duration,
	store Store) *Tracker {

	return &Tracker{
		clock:     clk,
		retention: retention,
		store:     store,
		pending:   make(map[lntypes.Hash]*Pending),
	}
}

// Track adds an invoice to the tracker.
func (t *Tracker) Track(p *Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p.CreatedAt = t.clock.Now()
	t.pending[p.PaymentHash] = p

	if t.store == nil {
		return
	}
	if err := t.store.PutPending(p); err != nil {
		log.Errorf("Unable to persist zap invoice %v: %v",
			p.PaymentHash, err)
	}
}

// Restore adds a previously persisted entry, keeping its creation time.
func (t *Tracker) Restore(p *Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending[p.PaymentHash] = p
}

// forget removes hash from the store. The caller must hold mu.
func (t *Tracker) forget(hash lntypes.Hash) {
	if t.store == nil {
		return
	}
	if err := t.store.DeletePending(hash); err != nil {
		log.Errorf("Unable to delete zap invoice %v: %v", hash, err)
	}
}

// Take removes and returns the entry for hash.
func (t *Tracker) Take(hash lntypes.Hash) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[hash]
	if ok {
		delete(t.pending, hash)
		t.forget(hash)
	}

	return p, ok
}

// IsTracked returns true if there is an entry for hash.
func (t *Tracker) IsTracked(hash lntypes.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.pending[hash]

	return ok
}

// Len returns the number of tracked invoices.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.pending)
}

// Sweep removes all entries older than the retention window and returns the
// number of removed entries.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-t.retention)

	var removed int
	for hash, p := range t.pending {
		if p.CreatedAt.Before(cutoff) {
			delete(t.pending, hash)
			t.forget(hash)
			removed++
		}
	}

	return removed
}
