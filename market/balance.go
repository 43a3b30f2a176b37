package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
	"go.uber.org/zap"
)

// creditTo adds amount to principal's withdrawable balance.
func creditTo(st core.State, principal string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := st.AddPending(principal, amount); err != nil {
		if errors.Is(err, core.ErrBalanceOverflow) {
			return fmt.Errorf("%w: credit %d to %s", ErrInvalidAmount, amount, principal)
		}
		return err
	}
	return nil
}

// debit takes a tender from principal's native balance.
func debit(st core.State, principal string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := st.SubBalance(principal, amount); err != nil {
		if errors.Is(err, core.ErrBalanceUnderflow) {
			return fmt.Errorf("%w: %s cannot cover %d", ErrInsufficientFunds, principal, amount)
		}
		return err
	}
	return nil
}

// Withdraw pays out caller's entire withdrawable balance and returns the
// amount paid. The balance is zeroed and committed before the payer runs,
// and the lock is released first, so a payer calling back into the ledger
// sees nothing left to withdraw. If the payout fails the balance is
// restored and the payout error returned. The recorded result is the
// outcome of the payout, not of the commit.
func (l *Ledger) Withdraw(ctx context.Context, caller string) (_ uint64, err error) {
	start := time.Now()
	defer func() { l.observe(opInfo{"withdraw", "", caller}, start, err) }()

	var amount uint64
	err = l.apply(ctx, []string{keylock.PendingKey(caller)}, func(st core.State) ([]events.Event, error) {
		bal, err := st.Pending(caller)
		if err != nil {
			return nil, err
		}
		if bal == 0 {
			return nil, ErrNothingToWithdraw
		}
		if err := st.SubPending(caller, bal); err != nil {
			return nil, err
		}
		amount = bal
		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	if err := l.payer.Pay(ctx, caller, amount); err != nil {
		l.metrics.PayoutFailed()
		if rerr := l.restore(caller, amount); rerr != nil {
			l.log.Error("CRITICAL: payout failed and balance restore failed",
				zap.String("principal", caller),
				zap.Uint64("amount", amount),
				zap.NamedError("payout", err),
				zap.NamedError("restore", rerr))
			return 0, fmt.Errorf("%w: to %s: %w (restore failed: %v)", ErrPayoutFailed, caller, err, rerr)
		}
		l.log.Warn("payout failed, balance restored",
			zap.String("principal", caller),
			zap.Uint64("amount", amount),
			zap.Error(err))
		return 0, fmt.Errorf("%w: to %s: %w", ErrPayoutFailed, caller, err)
	}

	l.emitter.Emit(events.New(ctx, events.EventWithdrawal, map[string]any{
		"principal": caller,
		"amount":    amount,
	}))
	return amount, nil
}

func (l *Ledger) restore(principal string, amount uint64) error {
	txn := l.store.Begin()
	if err := txn.AddPending(principal, amount); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}
