// Package keylock provides per-key mutual exclusion so that operations on
// different items proceed in parallel while operations on the same item are
// serialized.
package keylock

import (
	"sort"
	"sync"
)

// Set hands out one mutex per key. Entries are reference counted and removed
// once nobody holds or waits on them.
type Set struct {
	mu    sync.Mutex
	byKey map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New creates an empty Set.
func New() *Set {
	return &Set{byKey: make(map[string]*entry)}
}

// Lock acquires every key and returns a function releasing them. Keys are
// deduplicated and taken in sorted order, so callers locking overlapping key
// sets cannot deadlock each other. Locks are not reentrant.
func (s *Set) Lock(keys ...string) (unlock func()) {
	keys = normalize(keys)
	held := make([]*entry, 0, len(keys))
	for _, k := range keys {
		e := s.acquire(k)
		e.mu.Lock()
		held = append(held, e)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			s.release(keys[i])
		}
	}
}

// Len returns the number of keys currently held or awaited.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *Set) acquire(key string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	if !ok {
		e = &entry{}
		s.byKey[key] = e
	}
	e.refs++
	return e
}

func (s *Set) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.byKey[key]
	e.refs--
	if e.refs == 0 {
		delete(s.byKey, key)
	}
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	out = append(out, keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

// ItemKey is the lock key guarding one item's ownership, offer and bid.
func ItemKey(id string) string { return "item:" + id }

// AccountKey is the lock key serializing a principal's nonce and withdrawals.
func AccountKey(addr string) string { return "acct:" + addr }

// PendingKey serializes withdrawals of one principal's proceeds. It is
// distinct from AccountKey so a withdrawal can run while the executor holds
// the sender's account lock.
func PendingKey(addr string) string { return "pend:" + addr }

// OperatorsKey guards a principal's approval-for-all table.
func OperatorsKey(addr string) string { return "ops:" + addr }
