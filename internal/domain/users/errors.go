package users

import "errors"

var (
	// ErrNotFound indicates the user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken indicates a registration conflict on the email column.
	ErrEmailTaken = errors.New("email already registered")
)
