// Package market is the marketplace ledger: standing sale offers, escrowed
// bids and the withdrawable proceeds they produce, matched against the
// ownership registry.
//
// Each public operation runs in one store transaction under the lock of the
// item it touches. Either every effect commits (custody change, records,
// credits) or none does.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
	"github.com/tolelom/tolmarket/metrics"
	"go.uber.org/zap"
)

// Ledger orchestrates the offer registry, the bid registry and the
// withdrawable balance ledger.
type Ledger struct {
	store   core.Store
	oracle  Oracle
	self    string
	payer   Payer
	locks   *keylock.Set
	emitter *events.Emitter
	metrics *metrics.Collector
	log     *zap.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEmitter publishes committed marketplace events to em.
func WithEmitter(em *events.Emitter) Option { return func(l *Ledger) { l.emitter = em } }

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option { return func(l *Ledger) { l.log = log } }

// WithMetrics records operation outcomes in c.
func WithMetrics(c *metrics.Collector) Option { return func(l *Ledger) { l.metrics = c } }

// WithPayer replaces the default AccountPayer used by Withdraw.
func WithPayer(p Payer) Option { return func(l *Ledger) { l.payer = p } }

// WithLocks shares a lock set with other components touching items.
func WithLocks(s *keylock.Set) Option { return func(l *Ledger) { l.locks = s } }

// WithClock overrides the time source stamped on offers and bids.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// New creates a Ledger over store. self is the marketplace's own address:
// owners approve it in the registry so it can move items on a match.
func New(store core.Store, oracle Oracle, self string, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		oracle: oracle,
		self:   self,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.payer == nil {
		l.payer = NewAccountPayer(store)
	}
	if l.locks == nil {
		l.locks = keylock.New()
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.Named("market")
	return l
}

// Address returns the marketplace's operator address.
func (l *Ledger) Address() string { return l.self }

type opInfo struct {
	name   string
	item   string
	caller string
}

// run executes fn in a fresh transaction while holding keys and records
// the outcome. Events returned by fn are emitted only after a successful
// commit.
func (l *Ledger) run(ctx context.Context, op opInfo, keys []string, fn func(st core.State) ([]events.Event, error)) (err error) {
	start := time.Now()
	defer func() { l.observe(op, start, err) }()
	return l.apply(ctx, keys, fn)
}

// observe writes the metric sample and log line for one finished operation.
func (l *Ledger) observe(op opInfo, start time.Time, err error) {
	l.metrics.Observe(op.name, Kind(err), time.Since(start))
	l.log.Info(op.name,
		zap.String("item", op.item),
		zap.String("caller", op.caller),
		zap.String("result", Kind(err)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
}

// apply is run without the bookkeeping, for operations that finish after
// the commit.
func (l *Ledger) apply(ctx context.Context, keys []string, fn func(st core.State) ([]events.Event, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := l.locks.Lock(keys...)
	defer unlock()

	txn := l.store.Begin()
	evs, err := fn(txn)
	if err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return commitError(err)
	}
	for _, ev := range evs {
		if sale, ok := events.SaleFromEvent(ev); ok {
			l.metrics.Sale(string(sale.Kind), sale.Value)
		}
		l.emitter.Emit(ev)
	}
	return nil
}

// commitError maps counter validation failures detected at commit time
// onto the marketplace taxonomy.
func commitError(err error) error {
	switch {
	case errors.Is(err, core.ErrBalanceOverflow):
		return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	case errors.Is(err, core.ErrBalanceUnderflow):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return fmt.Errorf("commit: %w", err)
}

// ownerOf asks the oracle for item's owner.
func (l *Ledger) ownerOf(st core.State, item string) (string, error) {
	owner, err := l.oracle.OwnerOf(st, item)
	if errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	return owner, err
}

// transfer moves custody through the oracle with the marketplace as
// operator. Any refusal is reported as ErrTransferDenied.
func (l *Ledger) transfer(st core.State, item, from, to string) error {
	ok, err := l.oracle.IsApproved(st, item, l.self)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: marketplace not approved for item %q", ErrTransferDenied, item)
	}
	if err := l.oracle.Transfer(st, item, from, to, l.self); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferDenied, err)
	}
	return nil
}

// ---- read-only queries ----

// Offer returns the active offer on item.
func (l *Ledger) Offer(item string) (*core.Offer, error) {
	txn := l.store.Begin()
	defer txn.Discard()
	o, err := txn.GetOffer(item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoActiveOffer
	}
	return o, err
}

// Bid returns the active bid on item.
func (l *Ledger) Bid(item string) (*core.Bid, error) {
	txn := l.store.Begin()
	defer txn.Discard()
	b, err := txn.GetBid(item)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrNoActiveBid
	}
	return b, err
}

// PendingWithdrawal returns addr's withdrawable balance.
func (l *Ledger) PendingWithdrawal(addr string) (uint64, error) {
	txn := l.store.Begin()
	defer txn.Discard()
	return txn.Pending(addr)
}

// Account returns the combined view of addr's balances and nonce.
func (l *Ledger) Account(addr string) (*core.Account, error) {
	txn := l.store.Begin()
	defer txn.Discard()
	acc := &core.Account{Address: addr}
	var err error
	if acc.Balance, err = txn.Balance(addr); err != nil {
		return nil, err
	}
	if acc.Pending, err = txn.Pending(addr); err != nil {
		return nil, err
	}
	if acc.Nonce, err = txn.Nonce(addr); err != nil {
		return nil, err
	}
	return acc, nil
}
