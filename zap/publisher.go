package zap

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// Publisher sends a signed event to a single relay.
type Publisher interface {
	Publish(ctx context.Context, relayURL string, ev nostr.Event) error
}

// RelayPublisher publishes events through a pool of relay connections that
// is shared between receipts.
type RelayPublisher struct {
	pool *nostr.SimplePool
}

// NewRelayPublisher creates a publisher whose relay connections live as long
// as ctx.
func NewRelayPublisher(ctx context.Context) *RelayPublisher {
	return &RelayPublisher{
		pool: nostr.NewSimplePool(ctx),
	}
}

// Publish connects to the relay if needed and publishes the event.
func (r *RelayPublisher) Publish(ctx context.Context, relayURL string,
	ev nostr.Event) error {

	relay, err := r.pool.EnsureRelay(relayURL)
	if err != nil {
		return err
	}

	return relay.Publish(ctx, ev)
}
