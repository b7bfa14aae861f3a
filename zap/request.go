package zap

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/nbd-wtf/go-nostr"
)

// Request is a validated NIP-57 zap request (kind 9734).
type Request struct {
	// Raw is the zap request exactly as received. Its sha256 is the
	// description hash of the invoice and it is echoed back in the
	// receipt's description tag.
	Raw string

	// Event is the decoded zap request.
	Event nostr.Event

	// Recipient is the pubkey of the `p` tag.
	Recipient string

	// Sender is the pubkey that signed the zap request.
	Sender string

	// EventID is the value of the optional `e` tag.
	EventID string

	// Coordinate is the value of the optional `a` tag.
	Coordinate string

	// Relays are the relays the receipt should be published to.
	Relays []string

	// Amount is the value of the optional `amount` tag, zero if absent.
	Amount lnwire.MilliSatoshi
}

// DescriptionHash returns the sha256 of the raw zap request, which is what
// the invoice commits to instead of the LNURL metadata.
func (r *Request) DescriptionHash() [32]byte {
	return sha256.Sum256([]byte(r.Raw))
}

// ParseRequest decodes and validates a zap request. amt is the amount of the
// invoice being requested and receiptPubKey is the key zap receipts will be
// signed with.
func ParseRequest(raw string, amt lnwire.MilliSatoshi,
	receiptPubKey string) (*Request, error) {

	var ev nostr.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidZapRequest, err)
	}

	ok, err := ev.CheckSignature()
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: bad signature", ErrInvalidZapRequest)
	}

	if ev.Kind != nostr.KindZapRequest {
		return nil, fmt.Errorf("%w: wrong kind %d",
			ErrInvalidZapRequest, ev.Kind)
	}

	if len(ev.Tags) == 0 {
		return nil, fmt.Errorf("%w: no tags", ErrInvalidZapRequest)
	}

	req := &Request{
		Raw:    raw,
		Event:  ev,
		Sender: ev.PubKey,
	}

	var numP, numE, numBigP int
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}

		switch tag[0] {
		case "amount":
			zapAmt, err := strconv.ParseUint(tag[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad amount tag: %v",
					ErrInvalidZapRequest, err)
			}
			if lnwire.MilliSatoshi(zapAmt) != amt {
				return nil, fmt.Errorf("%w: amount tag does "+
					"not match query amount: %d != %d",
					ErrInvalidZapRequest, zapAmt, amt)
			}
			req.Amount = lnwire.MilliSatoshi(zapAmt)

		case "relays":
			req.Relays = append(req.Relays, tag[1:]...)

		case "p":
			numP++
			if !nostr.IsValidPublicKey(tag[1]) {
				return nil, fmt.Errorf("%w: invalid p tag",
					ErrInvalidZapRequest)
			}
			req.Recipient = tag[1]

		case "e":
			numE++
			req.EventID = tag[1]

		case "a":
			if err := validateCoordinate(tag[1]); err != nil {
				return nil, err
			}
			req.Coordinate = tag[1]

		case "P":
			// NIP-57 requires a P tag to equal the pubkey of the
			// receipt, not the recipient.
			numBigP++
			if tag[1] != receiptPubKey {
				return nil, fmt.Errorf("%w: P tag must equal "+
					"the receipt pubkey",
					ErrInvalidZapRequest)
			}
		}
	}

	switch {
	case numP != 1:
		return nil, fmt.Errorf("%w: must have exactly one p tag",
			ErrInvalidZapRequest)

	case numE > 1:
		return nil, fmt.Errorf("%w: must have 0 or 1 e tags",
			ErrInvalidZapRequest)

	case numBigP > 1:
		return nil, fmt.Errorf("%w: too many P tags",
			ErrInvalidZapRequest)

	case len(req.Relays) == 0:
		return nil, fmt.Errorf("%w: missing relays tag",
			ErrInvalidZapRequest)
	}

	return req, nil
}

// validateCoordinate checks an `a` tag of the form kind:pubkey[:d].
func validateCoordinate(coord string) error {
	parts := strings.Split(coord, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("%w: invalid a tag format",
			ErrInvalidZapRequest)
	}

	if _, err := strconv.ParseUint(parts[0], 10, 16); err != nil {
		return fmt.Errorf("%w: invalid kind in a tag",
			ErrInvalidZapRequest)
	}

	if !nostr.IsValidPublicKey(parts[1]) {
		return fmt.Errorf("%w: invalid pubkey in a tag",
			ErrInvalidZapRequest)
	}

	return nil
}
