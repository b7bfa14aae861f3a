package zap

import (
	"strconv"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/nbd-wtf/go-nostr"
)

// Settlement is the node's notification that an invoice has been paid.
type Settlement struct {
	// PaymentHash identifies the invoice.
	PaymentHash lntypes.Hash

	// AmountPaid is the amount received.
	AmountPaid lnwire.MilliSatoshi

	// PaidAt is the settle time reported by the node.
	PaidAt time.Time

	// Preimage is the invoice preimage, if known.
	Preimage *lntypes.Preimage
}

// BuildReceipt creates the unsigned zap receipt (kind 9735) for a settled
// zap invoice. The receipt is timestamped with s.PaidAt.
func BuildReceipt(p *Pending, s *Settlement) nostr.Event {
	req := p.Request

	tags := nostr.Tags{
		{"p", req.Recipient},
	}
	if req.Sender != "" {
		tags = append(tags, nostr.Tag{"P", req.Sender})
	}
	if req.EventID != "" {
		tags = append(tags, nostr.Tag{"e", req.EventID})
	}
	if req.Coordinate != "" {
		tags = append(tags, nostr.Tag{"a", req.Coordinate})
	}

	tags = append(tags,
		nostr.Tag{"bolt11", p.Bolt11},
		nostr.Tag{"description", req.Raw},
	)
	if s.Preimage != nil {
		tags = append(tags, nostr.Tag{"preimage", s.Preimage.String()})
	}
	tags = append(tags, nostr.Tag{
		"amount", strconv.FormatUint(uint64(s.AmountPaid), 10),
	})

	return nostr.Event{
		Kind:      nostr.KindZap,
		CreatedAt: nostr.Timestamp(s.PaidAt.Unix()),
		Tags:      tags,
		Content:   "",
	}
}
