package market

import (
	"context"
	"errors"
)

// Every failed operation returns one of these (possibly wrapped) and leaves
// state unchanged.
var (
	ErrNoActiveOffer       = errors.New("no active offer")
	ErrNoActiveBid         = errors.New("no active bid")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrOwnershipMismatch   = errors.New("seller no longer owns item")
	ErrTransferDenied      = errors.New("transfer denied by ownership registry")
	ErrInvalidAmount       = errors.New("amount overflow or invalid")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnknownItem         = errors.New("unknown item")
	ErrPayoutFailed        = errors.New("payout failed")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNoActiveOffer, "no_active_offer"},
	{ErrNoActiveBid, "no_active_bid"},
	{ErrUnauthorized, "unauthorized"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrOwnershipMismatch, "ownership_mismatch"},
	{ErrTransferDenied, "transfer_denied"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrNothingToWithdraw, "nothing_to_withdraw"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrUnknownItem, "unknown_item"},
	{ErrPayoutFailed, "payout_failed"},
	{context.Canceled, "canceled"},
	{context.DeadlineExceeded, "deadline_exceeded"},
}

// Kind returns a short stable label for err: "ok" for nil, the sentinel's
// name for marketplace errors and "internal" for anything else.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
