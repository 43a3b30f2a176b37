package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"

	"github.com/tolelom/tolmarket/core"
)

// txn is a write buffer over a Store. Records are buffered whole in
// dirty/deleted; counters (balances, pending withdrawals) are buffered as
// credit/debit deltas and re-applied to the committed value at Commit, so
// two transactions crediting the same principal do not overwrite each other.
type txn struct {
	s       *Store
	dirty   map[string][]byte
	deleted map[string]bool
	credit  map[string]uint64
	debit   map[string]uint64
	closed  bool
}

// ---- internal helpers ----

func (t *txn) get(key string) ([]byte, error) {
	if t.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := t.dirty[key]; ok {
		return v, nil
	}
	return t.s.db.Get([]byte(key))
}

func (t *txn) set(key string, val []byte) {
	delete(t.deleted, key)
	t.dirty[key] = val
}

func (t *txn) del(key string) {
	delete(t.dirty, key)
	t.deleted[key] = true
}

func (t *txn) getJSON(key string, v any) error {
	data, err := t.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	return nil
}

func (t *txn) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.set(key, data)
	return nil
}

// counter returns the committed value with this transaction's deltas applied.
func (t *txn) counter(key string) (uint64, error) {
	base, err := t.s.readUint(key)
	if err != nil {
		return 0, err
	}
	return applyDelta(base, t.credit[key], t.debit[key])
}

func (t *txn) add(key string, amount uint64) error {
	cur, err := t.counter(key)
	if err != nil {
		return err
	}
	if _, carry := bits.Add64(cur, amount, 0); carry != 0 {
		return core.ErrBalanceOverflow
	}
	return bump(t.credit, t.debit, key, amount, core.ErrBalanceOverflow)
}

func (t *txn) sub(key string, amount uint64) error {
	cur, err := t.counter(key)
	if err != nil {
		return err
	}
	if cur < amount {
		return core.ErrBalanceUnderflow
	}
	return bump(t.debit, t.credit, key, amount, core.ErrBalanceUnderflow)
}

// bump records amount on one side of key's delta, first cancelling it
// against the opposite side so at most one side is ever non-zero.
func bump(side, opposite map[string]uint64, key string, amount uint64, errCarry error) error {
	if o := opposite[key]; o > 0 {
		if amount <= o {
			if o == amount {
				delete(opposite, key)
			} else {
				opposite[key] = o - amount
			}
			return nil
		}
		delete(opposite, key)
		amount -= o
	}
	sum, carry := bits.Add64(side[key], amount, 0)
	if carry != 0 {
		return errCarry
	}
	side[key] = sum
	return nil
}

// applyDelta nets credit against debit before touching base so that a
// credit followed by an equal debit never overflows.
func applyDelta(base, credit, debit uint64) (uint64, error) {
	if credit >= debit {
		v, carry := bits.Add64(base, credit-debit, 0)
		if carry != 0 {
			return 0, core.ErrBalanceOverflow
		}
		return v, nil
	}
	d := debit - credit
	if base < d {
		return 0, core.ErrBalanceUnderflow
	}
	return base - d, nil
}

// ---- Balances ----

func (t *txn) Balance(address string) (uint64, error) { return t.counter(prefixBalance + address) }

func (t *txn) AddBalance(address string, amount uint64) error {
	return t.add(prefixBalance+address, amount)
}

func (t *txn) SubBalance(address string, amount uint64) error {
	return t.sub(prefixBalance+address, amount)
}

func (t *txn) Pending(address string) (uint64, error) { return t.counter(prefixPending + address) }

func (t *txn) AddPending(address string, amount uint64) error {
	return t.add(prefixPending+address, amount)
}

func (t *txn) SubPending(address string, amount uint64) error {
	return t.sub(prefixPending+address, amount)
}

// ---- Nonce ----

func (t *txn) Nonce(address string) (uint64, error) {
	data, err := t.get(prefixNonce + address)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt nonce for %s", address)
	}
	return decodeUint(data), nil
}

func (t *txn) SetNonce(address string, nonce uint64) error {
	t.set(prefixNonce+address, encodeUint(nonce))
	return nil
}

// ---- Items ----

func (t *txn) GetItem(id string) (*core.Item, error) {
	var item core.Item
	if err := t.getJSON(prefixItem+id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *txn) SetItem(item *core.Item) error {
	return t.putJSON(prefixItem+item.ID, item)
}

func operatorKey(owner, operator string) string {
	return prefixOperator + owner + ":" + operator
}

func (t *txn) IsApprovedForAll(owner, operator string) (bool, error) {
	_, err := t.get(operatorKey(owner, operator))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *txn) SetApprovalForAll(owner, operator string, approved bool) error {
	if approved {
		t.set(operatorKey(owner, operator), []byte{1})
	} else {
		t.del(operatorKey(owner, operator))
	}
	return nil
}

// ---- Offers and bids ----

func (t *txn) GetOffer(itemID string) (*core.Offer, error) {
	var o core.Offer
	if err := t.getJSON(prefixOffer+itemID, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *txn) SetOffer(o *core.Offer) error { return t.putJSON(prefixOffer+o.ItemID, o) }

func (t *txn) DeleteOffer(itemID string) error {
	t.del(prefixOffer + itemID)
	return nil
}

func (t *txn) GetBid(itemID string) (*core.Bid, error) {
	var b core.Bid
	if err := t.getJSON(prefixBid+itemID, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txn) SetBid(b *core.Bid) error { return t.putJSON(prefixBid+b.ItemID, b) }

func (t *txn) DeleteBid(itemID string) error {
	t.del(prefixBid + itemID)
	return nil
}

// ---- Meta ----

func (t *txn) GetMeta(key string) (string, error) {
	data, err := t.get(prefixMeta + key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *txn) SetMeta(key, value string) error {
	t.set(prefixMeta+key, []byte(value))
	return nil
}

// ---- Commit / Discard ----

// Commit validates every counter delta against the latest committed value
// and applies all writes in one batch. If any delta would overflow or
// underflow nothing is written.
func (t *txn) Commit() error {
	if t.closed {
		return errTxnClosed
	}
	t.closed = true

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	batch := t.s.db.NewBatch()
	for k, v := range t.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range t.deleted {
		batch.Delete([]byte(k))
	}
	for k := range t.counterKeys() {
		base, err := t.s.readUint(k)
		if err != nil {
			return fmt.Errorf("commit %s: %w", k, err)
		}
		next, err := applyDelta(base, t.credit[k], t.debit[k])
		if err != nil {
			return fmt.Errorf("commit %s: %w", k, err)
		}
		if next == 0 {
			batch.Delete([]byte(k))
		} else {
			batch.Set([]byte(k), encodeUint(next))
		}
	}
	return batch.Write()
}

func (t *txn) counterKeys() map[string]struct{} {
	keys := make(map[string]struct{}, len(t.credit)+len(t.debit))
	for k := range t.credit {
		keys[k] = struct{}{}
	}
	for k := range t.debit {
		keys[k] = struct{}{}
	}
	return keys
}

// Discard drops every buffered write.
func (t *txn) Discard() {
	t.closed = true
	t.dirty = nil
	t.deleted = nil
	t.credit = nil
	t.debit = nil
}
