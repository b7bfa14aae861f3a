package lndaddr

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrAmountTooLow is returned if the requested amount is below the
	// account's minimum.
	ErrAmountTooLow = errors.New("amount too low")

	// ErrAmountTooHigh is returned if the requested amount is above the
	// account's maximum.
	ErrAmountTooHigh = errors.New("amount too high")

	// ErrAmountUnparseable is returned if the amount isn't a non-negative
	// integer.
	ErrAmountUnparseable = errors.New("invalid amount")
)

// ParseAmount parses the msat amount query parameter.
func ParseAmount(raw string) (lnwire.MilliSatoshi, error) {
	amt, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountUnparseable, raw)
	}

	return lnwire.MilliSatoshi(amt), nil
}

// ValidateAmount checks that amt lies within [minAmt, maxAmt].
func ValidateAmount(amt, minAmt, maxAmt lnwire.MilliSatoshi) error {
	switch {
	case amt < minAmt:
		return fmt.Errorf("%w: %d msat is less than the minimum of "+
			"%d msat", ErrAmountTooLow, amt, minAmt)

	case amt > maxAmt:
		return fmt.Errorf("%w: %d msat is more than the maximum of "+
			"%d msat", ErrAmountTooHigh, amt, maxAmt)
	}

	return nil
}
