package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// handleTransfer moves native tokens between accounts. The sender lock is
// held by the executor; the recipient is only credited, which commits as a
// delta and needs no lock.
func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: transfer amount must be > 0", market.ErrInvalidAmount)
	}
	if err := crypto.ValidateAddress(p.To); err != nil {
		return fmt.Errorf("transfer to: %w", err)
	}
	if p.To == ctx.Tx.From {
		return errors.New("cannot transfer to self")
	}

	txn := ctx.Store.Begin()
	if err := txn.SubBalance(ctx.Tx.From, p.Amount); err != nil {
		txn.Discard()
		if errors.Is(err, core.ErrBalanceUnderflow) {
			return fmt.Errorf("%w: have less than %d", market.ErrInsufficientFunds, p.Amount)
		}
		return err
	}
	if err := txn.AddBalance(p.To, p.Amount); err != nil {
		txn.Discard()
		if errors.Is(err, core.ErrBalanceOverflow) {
			return fmt.Errorf("%w: recipient balance overflow", market.ErrInvalidAmount)
		}
		return err
	}
	if err := txn.Commit(); err != nil {
		switch {
		case errors.Is(err, core.ErrBalanceUnderflow):
			return fmt.Errorf("%w: %v", market.ErrInsufficientFunds, err)
		case errors.Is(err, core.ErrBalanceOverflow):
			return fmt.Errorf("%w: %v", market.ErrInvalidAmount, err)
		}
		return err
	}

	ctx.Emitter.Emit(events.New(ctx.Ctx, events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	}))
	return nil
}
