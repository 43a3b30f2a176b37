package registry

import (
	"context"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
	"go.uber.org/zap"
)

// Service runs the user-facing registry operations, each in its own
// transaction under the item lock shared with the marketplace.
type Service struct {
	store   core.Store
	reg     *Registry
	locks   *keylock.Set
	emitter *events.Emitter
	log     *zap.Logger
}

// NewService wires a Service. locks must be the same Set the marketplace
// ledger uses, otherwise item operations are not mutually exclusive.
func NewService(store core.Store, reg *Registry, locks *keylock.Set, emitter *events.Emitter, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{store: store, reg: reg, locks: locks, emitter: emitter, log: log.Named("registry")}
}

// Registry returns the underlying ownership rules.
func (s *Service) Registry() *Registry { return s.reg }

func (s *Service) run(ctx context.Context, op string, keys []string, fn func(st core.State) ([]events.Event, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	txn := s.store.Begin()
	evs, err := fn(txn)
	if err != nil {
		txn.Discard()
		s.log.Debug("operation rejected", zap.String("op", op), zap.Error(err))
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	for _, ev := range evs {
		s.emitter.Emit(ev)
	}
	return nil
}

// Approve sets or clears the single-item delegate of id.
func (s *Service) Approve(ctx context.Context, caller, id, operator string) error {
	return s.run(ctx, "approve", []string{keylock.ItemKey(id)}, func(st core.State) ([]events.Event, error) {
		if err := s.reg.Approve(st, id, caller, operator); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventItemApproved, map[string]any{
			"item_id":  id,
			"owner":    caller,
			"operator": operator,
		})}, nil
	})
}

// SetApprovalForAll grants or revokes operator over all of owner's items.
func (s *Service) SetApprovalForAll(ctx context.Context, owner, operator string, approved bool) error {
	return s.run(ctx, "set_approval_for_all", []string{keylock.OperatorsKey(owner)}, func(st core.State) ([]events.Event, error) {
		if err := s.reg.SetApprovalForAll(st, owner, operator, approved); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventApprovalForAll, map[string]any{
			"owner":    owner,
			"operator": operator,
			"approved": approved,
		})}, nil
	})
}

// Transfer moves id from its current owner to to, on behalf of caller.
// Standing offers and bids are left in place; the marketplace re-checks
// ownership before matching them.
func (s *Service) Transfer(ctx context.Context, caller, id, to string) error {
	return s.run(ctx, "transfer_item", []string{keylock.ItemKey(id)}, func(st core.State) ([]events.Event, error) {
		from, err := s.reg.OwnerOf(st, id)
		if err != nil {
			return nil, err
		}
		if err := s.reg.Transfer(st, id, from, to, caller); err != nil {
			return nil, err
		}
		return []events.Event{events.New(ctx, events.EventItemTransferred, map[string]any{
			"item_id": id,
			"from":    from,
			"to":      to,
		})}, nil
	})
}

// Item returns the committed record for id.
func (s *Service) Item(id string) (*core.Item, error) {
	txn := s.store.Begin()
	defer txn.Discard()
	return s.reg.item(txn, id)
}
