package market

import (
	"context"
	"fmt"

	"github.com/tolelom/tolmarket/core"
)

// Oracle is the ownership registry as seen by the marketplace. The state
// view is passed in so custody changes commit or roll back together with
// the marketplace's own writes.
type Oracle interface {
	OwnerOf(st core.State, item string) (string, error)
	IsApproved(st core.State, item, operator string) (bool, error)
	Transfer(st core.State, item, from, to, operator string) error
}

// Payer moves withdrawn value out of the marketplace to its recipient.
type Payer interface {
	Pay(ctx context.Context, to string, amount uint64) error
}

// AccountPayer pays withdrawals into the recipient's native balance.
type AccountPayer struct {
	store core.Store
}

// NewAccountPayer creates a Payer crediting native balances in store.
func NewAccountPayer(store core.Store) *AccountPayer {
	return &AccountPayer{store: store}
}

// Pay credits amount to to's native balance in its own transaction.
func (p *AccountPayer) Pay(ctx context.Context, to string, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := p.store.Begin()
	if err := txn.AddBalance(to, amount); err != nil {
		txn.Discard()
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return txn.Commit()
}
