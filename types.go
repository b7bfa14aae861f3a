package lndaddr

// PayResponse is the LUD-06 first contact response of a payRequest. The
// field names are part of the protocol.
type PayResponse struct {
	// Callback is the URL from LN SERVICE which will accept the pay request
	// parameters.
	Callback string `json:"callback"`

	// MaxSendable is the max amount LN SERVICE is willing to receive.
	MaxSendable uint64 `json:"maxSendable"`

	// MinSendable is the min amount LN SERVICE is willing to receive.
	MinSendable uint64 `json:"minSendable"`

	// Metadata json which must be presented as raw string here, this is
	// required to pass signature verification at a later step.
	Metadata string `json:"metadata"`

	// Tag is the type of LNURL.
	Tag Type `json:"tag"`

	// CommentAllowed is the max length of the optional LUD-12 comment, 0
	// if comments aren't accepted.
	CommentAllowed int `json:"commentAllowed"`

	// AllowsNostr signals NIP-57 zap support.
	AllowsNostr bool `json:"allowsNostr,omitempty"`

	// NostrPubkey is the key zap receipts are signed with.
	NostrPubkey string `json:"nostrPubkey,omitempty"`
}

// InvoiceResponse is the LUD-06 callback response.
type InvoiceResponse struct {
	// PayRequest is a bech32-serialized lightning invoice.
	PayRequest string `json:"pr"`

	// Routes is always an empty array.
	Routes []string `json:"routes"`
}

// Type is the LNURL tag.
type Type string

const (
	// TypePayRequest is the tag of an LNURL-pay response.
	TypePayRequest Type = "payRequest"

	// StatusError is the status of an Error envelope.
	StatusError = "ERROR"
)

// Error is the LNURL error envelope.
type Error struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}
