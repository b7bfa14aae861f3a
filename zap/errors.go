package zap

import "errors"

var (
	// ErrZapsDisabled is returned when a zap request is received but no
	// nostr key has been configured.
	ErrZapsDisabled = errors.New("nostr zaps not configured")

	// ErrInvalidZapRequest is returned when a zap request fails NIP-57
	// validation.
	ErrInvalidZapRequest = errors.New("invalid zap request")

	// ErrInvalidKey is returned when the configured nostr key can't be
	// parsed.
	ErrInvalidKey = errors.New("invalid nostr private key")

	// ErrSigning is returned when a zap receipt can't be signed.
	ErrSigning = errors.New("unable to sign zap receipt")

	// ErrPublish is returned when a zap receipt couldn't be published to
	// any relay.
	ErrPublish = errors.New("unable to publish zap receipt")
)
