package accounts

import (
	"fmt"
	"regexp"

	"github.com/lightningnetwork/lnd/lnwire"
)

// MaxUsernameLength is the longest username we accept.
const MaxUsernameLength = 64

// usernameRegex is the allow-list of username characters. It is the LUD-16
// local part character set: lower case ASCII letters, digits and "-_.+".
// Names made up of digits only are valid.
var usernameRegex = regexp.MustCompile(`^[a-z0-9\-_.+]+$`)

// reservedUsernames can't be registered since they collide with the routes
// served next to the per user paths.
var reservedUsernames = map[string]struct{}{
	"lnurlp": {},
}

// Account holds the configuration of a single lightning address.
type Account struct {
	// Username is the local part of the lightning address.
	Username string `json:"user"`

	// IsEmail marks the address as also being a valid email address,
	// which changes the metadata we hand out for it.
	IsEmail bool `json:"is_email"`

	// Description overrides the global default description if set.
	Description string `json:"description,omitempty"`

	// MinReceivable overrides the global minimum amount if set.
	MinReceivable *lnwire.MilliSatoshi `json:"min_receivable,omitempty"`

	// MaxReceivable overrides the global maximum amount if set.
	MaxReceivable *lnwire.MilliSatoshi `json:"max_receivable,omitempty"`

	// Seq is the insertion sequence number assigned by the Store.
	Seq uint64 `json:"seq"`
}

// ValidateUsername checks a username against the allowed character set.
func ValidateUsername(username string) error {
	switch {
	case len(username) == 0:
		return fmt.Errorf("%w: empty username", ErrInvalidUsername)

	case len(username) > MaxUsernameLength:
		return fmt.Errorf("%w: username longer than %d characters",
			ErrInvalidUsername, MaxUsernameLength)

	case !usernameRegex.MatchString(username):
		return fmt.Errorf("%w: `%s` may only contain a-z, 0-9 and "+
			"-_.+", ErrInvalidUsername, username)
	}

	if _, ok := reservedUsernames[username]; ok {
		return fmt.Errorf("%w: `%s` is reserved", ErrInvalidUsername,
			username)
	}

	return nil
}

// Validate checks that the account can be stored.
func (a *Account) Validate() error {
	if err := ValidateUsername(a.Username); err != nil {
		return err
	}

	if a.MinReceivable != nil && a.MaxReceivable != nil &&
		*a.MinReceivable > *a.MaxReceivable {

		return fmt.Errorf("%w: %v > %v", ErrInvalidBounds,
			*a.MinReceivable, *a.MaxReceivable)
	}

	return nil
}

// EffectiveBounds returns the account's receivable bounds, falling back to
// the passed defaults for any bound that isn't overridden. This is evaluated
// on every lookup so that changing the defaults affects all accounts without
// overrides.
func (a *Account) EffectiveBounds(defaultMin,
	defaultMax lnwire.MilliSatoshi) (lnwire.MilliSatoshi,
	lnwire.MilliSatoshi) {

	minAmt, maxAmt := defaultMin, defaultMax
	if a.MinReceivable != nil {
		minAmt = *a.MinReceivable
	}
	if a.MaxReceivable != nil {
		maxAmt = *a.MaxReceivable
	}

	return minAmt, maxAmt
}

// EffectiveDescription returns the account's description or the default.
func (a *Account) EffectiveDescription(defaultDescription string) string {
	if a.Description != "" {
		return a.Description
	}

	return defaultDescription
}

// Copy returns a deep copy of the account.
func (a *Account) Copy() *Account {
	c := *a
	if a.MinReceivable != nil {
		minAmt := *a.MinReceivable
		c.MinReceivable = &minAmt
	}
	if a.MaxReceivable != nil {
		maxAmt := *a.MaxReceivable
		c.MaxReceivable = &maxAmt
	}

	return &c
}
