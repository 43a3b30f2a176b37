package market

import (
	"context"
	"errors"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
)

// OfferForSale lists item for anyone at minValue or more, replacing any
// existing offer. Only the current owner may list.
func (l *Ledger) OfferForSale(ctx context.Context, caller, item string, minValue uint64) error {
	return l.offer(ctx, "offer_for_sale", caller, item, minValue, "")
}

// OfferForSaleToAddress lists item for onlyBuyer alone. An empty onlyBuyer
// makes the offer unrestricted.
func (l *Ledger) OfferForSaleToAddress(ctx context.Context, caller, item string, minValue uint64, onlyBuyer string) error {
	return l.offer(ctx, "offer_for_sale_to_address", caller, item, minValue, onlyBuyer)
}

func (l *Ledger) offer(ctx context.Context, op, caller, item string, minValue uint64, onlyBuyer string) error {
	return l.run(ctx, opInfo{op, item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		owner, err := l.ownerOf(st, item)
		if err != nil {
			return nil, err
		}
		if owner != caller {
			return nil, ErrUnauthorized
		}
		o := &core.Offer{
			ItemID:     item,
			Seller:     caller,
			MinValue:   minValue,
			OnlySellTo: onlyBuyer,
			CreatedAt:  l.now().UnixNano(),
		}
		if err := st.SetOffer(o); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventOffered, map[string]any{
			"item_id":      item,
			"seller":       caller,
			"min_value":    minValue,
			"only_sell_to": onlyBuyer,
		})}, nil
	})
}

// WithdrawOffer cancels the active offer on item. Only the seller of record
// may cancel.
func (l *Ledger) WithdrawOffer(ctx context.Context, caller, item string) error {
	return l.run(ctx, opInfo{"withdraw_offer", item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		o, err := activeOffer(st, item)
		if err != nil {
			return nil, err
		}
		if o.Seller != caller {
			return nil, ErrUnauthorized
		}
		if err := st.DeleteOffer(item); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventOfferWithdrawn, map[string]any{
			"item_id": item,
			"seller":  caller,
		})}, nil
	})
}

// AcceptOffer buys item from its active offer, paying payment from the
// caller's native balance. The full payment goes to the seller's
// withdrawable balance. The offer is cleared, and so is any standing bid,
// whose escrow is refunded to its bidder.
func (l *Ledger) AcceptOffer(ctx context.Context, caller, item string, payment uint64) error {
	return l.run(ctx, opInfo{"accept_offer", item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		o, err := activeOffer(st, item)
		if err != nil {
			return nil, err
		}
		if o.OnlySellTo != "" && o.OnlySellTo != caller {
			return nil, ErrUnauthorized
		}
		if caller == o.Seller {
			return nil, ErrUnauthorized
		}
		if payment < o.MinValue {
			return nil, ErrInsufficientPayment
		}
		owner, err := l.ownerOf(st, item)
		if err != nil {
			return nil, err
		}
		if owner != o.Seller {
			return nil, ErrOwnershipMismatch
		}

		if err := debit(st, caller, payment); err != nil {
			return nil, err
		}
		if err := l.transfer(st, item, o.Seller, caller); err != nil {
			return nil, err
		}
		if err := st.DeleteOffer(item); err != nil {
			return nil, err
		}
		if err := creditTo(st, o.Seller, payment); err != nil {
			return nil, err
		}
		refund, err := clearBid(ctx, st, item)
		if err != nil {
			return nil, err
		}

		evs := []events.Event{
			events.New(ctx, events.EventItemTransferred, map[string]any{
				"item_id": item,
				"from":    o.Seller,
				"to":      caller,
			}),
			events.New(ctx, events.EventBought, map[string]any{
				"item_id": item,
				"seller":  o.Seller,
				"buyer":   caller,
				"value":   payment,
			}),
		}
		if refund != nil {
			evs = append(evs, *refund)
		}
		return evs, nil
	})
}

func activeOffer(st core.State, item string) (*core.Offer, error) {
	o, err := st.GetOffer(item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoActiveOffer
	}
	return o, err
}
