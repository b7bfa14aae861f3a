package zap

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ParsePrivateKey accepts a nostr private key either as 64 hex characters or
// as a bech32 "nsec" string and returns the hex encoded key together with
// its public key.
func ParsePrivateKey(key string) (string, string, error) {
	key = strings.TrimSpace(key)

	if strings.HasPrefix(key, "nsec") {
		prefix, value, err := nip19.Decode(key)
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}

		hexKey, ok := value.(string)
		if prefix != "nsec" || !ok {
			return "", "", fmt.Errorf("%w: unexpected nip19 "+
				"prefix %s", ErrInvalidKey, prefix)
		}
		key = hexKey
	}

	if !nostr.IsValid32ByteHex(key) {
		return "", "", fmt.Errorf("%w: expected 32 byte hex or nsec",
			ErrInvalidKey)
	}

	pubKey, err := nostr.GetPublicKey(key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return key, pubKey, nil
}
