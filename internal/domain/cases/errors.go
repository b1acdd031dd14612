package cases

import "errors"

// ErrNotFound indicates the case does not exist for the owner.
var ErrNotFound = errors.New("case not found")
