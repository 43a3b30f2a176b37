package core

import "errors"

// ErrNotFound is returned by storage lookups when a key is absent.
var ErrNotFound = errors.New("not found")

var (
	// ErrBalanceOverflow means a credit would exceed the uint64 range.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrBalanceUnderflow means a debit exceeds the available balance.
	ErrBalanceUnderflow = errors.New("balance underflow")
)
