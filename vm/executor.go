package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/metrics"
	"github.com/tolelom/tolmarket/registry"
	"go.uber.org/zap"
)

var (
	ErrChainMismatch = errors.New("chain id mismatch")
	ErrInvalidNonce  = errors.New("invalid nonce")
)

// Context is passed to every Handler. Ctx carries the transaction ID for
// event tagging.
type Context struct {
	Ctx     context.Context
	Tx      *core.Transaction
	Store   core.Store
	Market  *market.Ledger
	Items   *registry.Service
	Emitter *events.Emitter
}

// Deps are the components an Executor dispatches into. Locks must be the
// set shared with Market and Items.
type Deps struct {
	ChainID string
	Store   core.Store
	Market  *market.Ledger
	Items   *registry.Service
	Locks   *keylock.Set
	Emitter *events.Emitter
	Metrics *metrics.Collector
	Log     *zap.Logger
}

// Executor verifies signed transactions and applies them one at a time per
// sender using the global Handler registry.
type Executor struct {
	d   Deps
	log *zap.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(d Deps) *Executor {
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{d: d, log: log.Named("vm")}
}

// ExecuteTx verifies tx, consumes its nonce and runs its handler.
//
// Once the signature, chain ID, type and nonce check out the nonce is
// consumed even if the handler then fails, so a rejected transaction cannot
// be replayed. The handler's own effects are all-or-nothing.
func (e *Executor) ExecuteTx(ctx context.Context, tx *core.Transaction) (err error) {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	tx.ID = tx.Hash()
	if tx.ChainID != e.d.ChainID {
		return fmt.Errorf("%w: got %q want %q", ErrChainMismatch, tx.ChainID, e.d.ChainID)
	}
	h, err := globalRegistry.lookup(tx.Type)
	if err != nil {
		return err
	}

	unlock := e.d.Locks.Lock(keylock.AccountKey(tx.From))
	defer unlock()

	if err := e.consumeNonce(tx); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		result := market.Kind(err)
		e.d.Metrics.Observe("tx_"+string(tx.Type), result, time.Since(start))
		e.d.Emitter.Emit(events.New(events.WithTx(ctx, tx.ID), events.EventTxExecuted, map[string]any{
			"type":   string(tx.Type),
			"from":   tx.From,
			"result": result,
		}))
		e.log.Debug("tx executed",
			zap.String("tx", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.Uint64("nonce", tx.Nonce),
			zap.String("result", result))
	}()

	hctx := &Context{
		Ctx:     events.WithTx(ctx, tx.ID),
		Tx:      tx,
		Store:   e.d.Store,
		Market:  e.d.Market,
		Items:   e.d.Items,
		Emitter: e.d.Emitter,
	}
	return h(hctx, tx.Payload)
}

func (e *Executor) consumeNonce(tx *core.Transaction) error {
	txn := e.d.Store.Begin()
	nonce, err := txn.Nonce(tx.From)
	if err != nil {
		txn.Discard()
		return fmt.Errorf("get nonce: %w", err)
	}
	if nonce != tx.Nonce {
		txn.Discard()
		return fmt.Errorf("%w: expected %d got %d", ErrInvalidNonce, nonce, tx.Nonce)
	}
	if nonce == math.MaxUint64 {
		txn.Discard()
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	if err := txn.SetNonce(tx.From, nonce+1); err != nil {
		txn.Discard()
		return err
	}
	return txn.Commit()
}
