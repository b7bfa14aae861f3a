package zap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRetention is how long an unpaid zap invoice is tracked.
	DefaultRetention = 24 * time.Hour

	// DefaultSweepInterval is how often expired entries are removed.
	DefaultSweepInterval = 10 * time.Minute

	// DefaultPublishRetries is the number of publish attempts per relay.
	DefaultPublishRetries = 3

	// DefaultRetryBackoff is multiplied by the attempt number to get the
	// delay before the next publish attempt.
	DefaultRetryBackoff = 2 * time.Second

	// DefaultPublishTimeout bounds a single publish attempt.
	DefaultPublishTimeout = 10 * time.Second

	// MaxRelays caps the number of relays a single receipt is sent to.
	MaxRelays = 20
)

// Config holds the signer's configuration.
type Config struct {
	// PrivKey is the hex encoded nostr private key receipts are signed
	// with.
	PrivKey string

	// Relays are published to in addition to the relays listed in the
	// zap request.
	Relays []string

	// Retention is how long unpaid invoices are tracked.
	Retention time.Duration

	// PublishRetries is the number of attempts per relay.
	PublishRetries int

	// RetryBackoff is the base delay between attempts.
	RetryBackoff time.Duration

	// PublishTimeout bounds a single attempt.
	PublishTimeout time.Duration

	// Publisher sends events to relays.
	Publisher Publisher

	// Clock is used for tracking and retry delays.
	Clock clock.Clock

	// SweepTicker triggers removal of expired entries.
	SweepTicker ticker.Ticker

	// Store persists pending zaps. Without one they are kept in memory
	// only.
	Store Store
}

// Signer tracks zap invoices and, once they are paid, signs and publishes
// their zap receipts.
type Signer struct {
	cfg     *Config
	pubKey  string
	tracker *Tracker

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewSigner creates a signer. Zero values in cfg are replaced by defaults.
func NewSigner(cfg *Config) (*Signer, error) {
	privKey, pubKey, err := ParsePrivateKey(cfg.PrivKey)
	if err != nil {
		return nil, err
	}
	cfg.PrivKey = privKey

	if cfg.Retention == 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = DefaultPublishRetries
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SweepTicker == nil {
		cfg.SweepTicker = ticker.New(DefaultSweepInterval)
	}

	s := &Signer{
		cfg:     cfg,
		pubKey:  pubKey,
		tracker: NewTracker(cfg.Clock, cfg.Retention, cfg.Store),
		quit:    make(chan struct{}),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}

	return s, nil
}

// restore loads the pending zaps of a previous run into the tracker. Entries
// whose request no longer validates are dropped.
func (s *Signer) restore() error {
	if s.cfg.Store == nil {
		return nil
	}

	pending, err := s.cfg.Store.FetchPending()
	if err != nil {
		return fmt.Errorf("unable to load pending zaps: %w", err)
	}

	for _, p := range pending {
		req, err := ParseRequest(p.Request.Raw, p.Amount, s.pubKey)
		if err != nil {
			log.Warnf("Dropping stored zap invoice %v: %v",
				p.PaymentHash, err)

			if err := s.cfg.Store.DeletePending(
				p.PaymentHash,
			); err != nil {
				return err
			}

			continue
		}

		p.Request = req
		s.tracker.Restore(p)
	}

	if len(pending) > 0 {
		log.Infof("Restored %d pending zap invoice(s)",
			s.tracker.Len())
	}

	return nil
}

// PubKey returns the hex encoded public key receipts are signed with.
func (s *Signer) PubKey() string {
	return s.pubKey
}

// Tracker returns the signer's pending invoice tracker.
func (s *Signer) Tracker() *Tracker {
	return s.tracker
}

// Start launches the goroutine that sweeps expired entries.
func (s *Signer) Start() {
	s.cfg.SweepTicker.Resume()

	s.wg.Add(1)
	go s.sweeper()
}

// Stop stops the sweeper and waits for it to exit.
func (s *Signer) Stop() {
	close(s.quit)
	s.cfg.SweepTicker.Stop()
	s.wg.Wait()
}

func (s *Signer) sweeper() {
	defer s.wg.Done()

	for {
		select {
		case <-s.cfg.SweepTicker.Ticks():
			if n := s.tracker.Sweep(); n > 0 {
				log.Debugf("Removed %d expired zap invoice(s)",
					n)
			}

		case <-s.quit:
			return
		}
	}
}

// Track registers a zap invoice so that a receipt is published once it is
// settled.
func (s *Signer) Track(p *Pending) {
	s.tracker.Track(p)

	log.Debugf("Tracking zap invoice %v for %v", p.PaymentHash,
		p.Request.Recipient)
}

// HandleSettle publishes the receipt for a settled invoice. It returns
// false if the invoice wasn't tracked. Errors are only meant to be logged,
// the payment has already happened at this point.
func (s *Signer) HandleSettle(ctx context.Context,
	settle *Settlement) (bool, error) {

	pending, ok := s.tracker.Take(settle.PaymentHash)
	if !ok {
		return false, nil
	}

	if settle.PaidAt.IsZero() {
		stamped := *settle
		stamped.PaidAt = s.cfg.Clock.Now()
		settle = &stamped
	}

	receipt := BuildReceipt(pending, settle)
	if err := receipt.Sign(s.cfg.PrivKey); err != nil {
		return true, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	// Configured relays go first so that the cap never drops them.
	relays := mergeRelays(s.cfg.Relays, pending.Request.Relays)
	published := s.publish(ctx, receipt, relays)

	log.Infof("Published zap receipt %s for invoice %v to %d/%d "+
		"relay(s)", receipt.ID, settle.PaymentHash, published,
		len(relays))

	if published == 0 {
		return true, fmt.Errorf("%w: all %d relay(s) failed",
			ErrPublish, len(relays))
	}

	return true, nil
}

// publish sends the event to all relays in parallel and returns the number
// of relays that accepted it.
func (s *Signer) publish(ctx context.Context, ev nostr.Event,
	relays []string) int {

	results := make([]bool, len(relays))

	var g errgroup.Group
	for i, url := range relays {
		i, url := i, url
		g.Go(func() error {
			err := s.publishToRelay(ctx, url, ev)
			if err != nil {
				log.Warnf("Zap receipt %s: %v", ev.ID, err)
				return nil
			}
			results[i] = true

			return nil
		})
	}
	_ = g.Wait()

	var published int
	for _, ok := range results {
		if ok {
			published++
		}
	}

	return published
}

// publishToRelay publishes to a single relay with bounded retries.
func (s *Signer) publishToRelay(ctx context.Context, url string,
	ev nostr.Event) error {

	var err error
	for attempt := 1; attempt <= s.cfg.PublishRetries; attempt++ {
		pubCtx, cancel := context.WithTimeout(
			ctx, s.cfg.PublishTimeout,
		)
		err = s.cfg.Publisher.Publish(pubCtx, url, ev)
		cancel()
		if err == nil {
			return nil
		}

		log.Debugf("Publish attempt %d/%d to %s failed: %v", attempt,
			s.cfg.PublishRetries, url, err)

		if attempt == s.cfg.PublishRetries {
			break
		}

		delay := s.cfg.RetryBackoff * time.Duration(attempt)
		select {
		case <-s.cfg.Clock.TickAfter(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w to %s: %v", ErrPublish, url,
				ctx.Err())
		}
	}

	return fmt.Errorf("%w to %s after %d attempt(s): %v", ErrPublish, url,
		s.cfg.PublishRetries, err)
}

// mergeRelays returns the union of both lists without duplicates, capped at
// MaxRelays.
func mergeRelays(lists ...[]string) []string {
	seen := make(map[string]struct{})

	var relays []string
	for _, list := range lists {
		for _, url := range list {
			if url == "" {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}

			if len(relays) == MaxRelays {
				return relays
			}
			relays = append(relays, url)
		}
	}

	return relays
}
