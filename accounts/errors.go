package accounts

import "errors"

var (
	// ErrDuplicateUser is returned when an account with the same username
	// already exists.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrUnknownUser is returned when no account exists for a username.
	ErrUnknownUser = errors.New("user not found")

	// ErrInvalidUsername is returned when a username contains characters
	// outside of the allowed set or is empty, too long or reserved.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidBounds is returned when an account's minimum receivable
	// amount is larger than its maximum receivable amount.
	ErrInvalidBounds = errors.New("min receivable is greater than max " +
		"receivable")
)
