package market

import (
	"context"
	"errors"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
)

// EnterBid escrows value from the caller's native balance as the new
// highest bid on item. value must strictly exceed the standing bid; the
// displaced bidder is refunded to their withdrawable balance. The owner may
// not bid on their own item.
func (l *Ledger) EnterBid(ctx context.Context, caller, item string, value uint64) error {
	return l.run(ctx, opInfo{"enter_bid", item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		owner, err := l.ownerOf(st, item)
		if err != nil {
			return nil, err
		}
		if owner == caller {
			return nil, ErrUnauthorized
		}
		prev, err := st.GetBid(item)
		switch {
		case errors.Is(err, core.ErrNotFound):
			prev = nil
		case err != nil:
			return nil, err
		}
		var floor uint64
		if prev != nil {
			floor = prev.Value
		}
		if value <= floor {
			return nil, ErrInsufficientPayment
		}

		if err := debit(st, caller, value); err != nil {
			return nil, err
		}
		if prev != nil {
			if err := creditTo(st, prev.Bidder, prev.Value); err != nil {
				return nil, err
			}
		}
		if err := st.SetBid(&core.Bid{
			ItemID:    item,
			Bidder:    caller,
			Value:     value,
			CreatedAt: l.now().UnixNano(),
		}); err != nil {
			return nil, err
		}

		evs := []events.Event{events.New(ctx, events.EventBidEntered, map[string]any{
			"item_id": item,
			"bidder":  caller,
			"value":   value,
		})}
		if prev != nil {
			evs = append(evs, refundEvent(ctx, prev))
		}
		return evs, nil
	})
}

// AcceptBid sells item to its standing bidder, provided the bid is at least
// minAccepted. Only the current owner may accept. The bid value goes to the
// owner's withdrawable balance; the bid and any offer are cleared.
func (l *Ledger) AcceptBid(ctx context.Context, caller, item string, minAccepted uint64) error {
	return l.run(ctx, opInfo{"accept_bid", item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		b, err := activeBid(st, item)
		if err != nil {
			return nil, err
		}
		owner, err := l.ownerOf(st, item)
		if err != nil {
			return nil, err
		}
		if owner != caller || b.Bidder == caller {
			return nil, ErrUnauthorized
		}
		if b.Value < minAccepted {
			return nil, ErrInsufficientPayment
		}

		if err := l.transfer(st, item, caller, b.Bidder); err != nil {
			return nil, err
		}
		if err := st.DeleteBid(item); err != nil {
			return nil, err
		}
		if err := st.DeleteOffer(item); err != nil {
			return nil, err
		}
		if err := creditTo(st, caller, b.Value); err != nil {
			return nil, err
		}
		return []events.Event{
			events.New(ctx, events.EventItemTransferred, map[string]any{
				"item_id": item,
				"from":    caller,
				"to":      b.Bidder,
			}),
			events.New(ctx, events.EventBidAccepted, map[string]any{
				"item_id": item,
				"seller":  caller,
				"buyer":   b.Bidder,
				"value":   b.Value,
			}),
		}, nil
	})
}

// WithdrawBid cancels the caller's standing bid on item and returns the
// escrow to the caller's withdrawable balance.
func (l *Ledger) WithdrawBid(ctx context.Context, caller, item string) error {
	return l.run(ctx, opInfo{"withdraw_bid", item, caller}, []string{keylock.ItemKey(item)}, func(st core.State) ([]events.Event, error) {
		b, err := activeBid(st, item)
		if err != nil {
			return nil, err
		}
		if b.Bidder != caller {
			return nil, ErrUnauthorized
		}
		if err := st.DeleteBid(item); err != nil {
			return nil, err
		}
		if err := creditTo(st, caller, b.Value); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventBidWithdrawn, map[string]any{
			"item_id": item,
			"bidder":  caller,
			"value":   b.Value,
		})}, nil
	})
}

func activeBid(st core.State, item string) (*core.Bid, error) {
	b, err := st.GetBid(item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoActiveBid
	}
	return b, err
}

// clearBid removes any standing bid on item and refunds it. It returns the
// refund event, or nil when there was no bid.
func clearBid(ctx context.Context, st core.State, item string) (*events.Event, error) {
	b, err := st.GetBid(item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := st.DeleteBid(item); err != nil {
		return nil, err
	}
	if err := creditTo(st, b.Bidder, b.Value); err != nil {
		return nil, err
	}
	ev := refundEvent(ctx, b)
	return &ev, nil
}

func refundEvent(ctx context.Context, b *core.Bid) events.Event {
	return events.New(ctx, events.EventBidRefunded, map[string]any{
		"item_id": b.ItemID,
		"bidder":  b.Bidder,
		"value":   b.Value,
	})
}
