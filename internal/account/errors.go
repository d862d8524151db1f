package account

import "errors"

// ErrDuplicateAccount is returned by Pool.Add when the name already exists.
var ErrDuplicateAccount = errors.New("account: duplicate name")

// ErrAccountNotFound is returned by Pool.RemoveAccount for an unknown name.
var ErrAccountNotFound = errors.New("account: not found")
