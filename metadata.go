package lndaddr

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"net/url"

	"github.com/ellemouton/lndaddr/accounts"
)

const (
	mimeTextPlain = "text/plain"
	mimeTextEmail = "text/email"

	// EmailCommentLength is the max comment length accepted for email
	// accounts.
	EmailCommentLength = 255
)

// Metadata is the LUD-06 metadata document: an ordered list of
// [mime type, content] pairs.
type Metadata [][2]string

// BuildMetadata creates the metadata document of an account. Accounts flagged
// as email get an additional text/email entry holding their address.
func BuildMetadata(acct *accounts.Account, defaultDescription string,
	baseURL *url.URL) Metadata {

	m := Metadata{
		{mimeTextPlain, acct.EffectiveDescription(defaultDescription)},
	}

	if acct.IsEmail {
		m = append(m, [2]string{
			mimeTextEmail, LightningAddress(acct.Username, baseURL.Host),
		})
	}

	return m
}

// Encode returns the JSON string wallets hash to verify the invoice.
func (m Metadata) Encode() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Encoding a slice of string pairs can't fail.
	_ = enc.Encode(m)

	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Hash returns the sha256 of the encoded metadata, used as the invoice's
// description hash.
func (m Metadata) Hash() [32]byte {
	return sha256.Sum256([]byte(m.Encode()))
}

// Description returns the text/plain entry.
func (m Metadata) Description() string {
	for _, entry := range m {
		if entry[0] == mimeTextPlain {
			return entry[1]
		}
	}

	return ""
}

// CommentAllowed returns the LUD-12 comment length limit for an account.
func CommentAllowed(acct *accounts.Account) int {
	if acct.IsEmail {
		return EmailCommentLength
	}

	return 0
}

// BuildPayResponse creates the first contact document for an account.
// callback is the URL the wallet requests the invoice from and nostrPubKey
// is the zap receipt key, empty if zaps are disabled.
func BuildPayResponse(acct *accounts.Account, cfg *Config, callback string,
	nostrPubKey string) *PayResponse {

	minAmt, maxAmt := acct.EffectiveBounds(cfg.Bounds())
	metadata := BuildMetadata(acct, cfg.Description, cfg.BaseURLParsed())

	return &PayResponse{
		Callback:       callback,
		MaxSendable:    uint64(maxAmt),
		MinSendable:    uint64(minAmt),
		Metadata:       metadata.Encode(),
		Tag:            TypePayRequest,
		CommentAllowed: CommentAllowed(acct),
		AllowsNostr:    nostrPubKey != "",
		NostrPubkey:    nostrPubKey,
	}
}
