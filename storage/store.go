package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// Root() always covers it. All prefix constants must be declared via this
// function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

var statePrefixes []string

var (
	prefixBalance  = registerPrefix("bal:")
	prefixPending  = registerPrefix("pend:")
	prefixNonce    = registerPrefix("nonce:")
	prefixItem     = registerPrefix("item:")
	prefixOperator = registerPrefix("opapr:")
	prefixOffer    = registerPrefix("offer:")
	prefixBid      = registerPrefix("bid:")
	prefixMeta     = registerPrefix("meta:")
)

var errTxnClosed = errors.New("transaction already committed or discarded")

// Store is the marketplace world state on top of a DB. Writes happen only
// through transactions opened with Begin; commits are serialized.
type Store struct {
	mu sync.RWMutex
	db DB
}

// NewStore creates a Store backed by db.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying key-value store.
func (s *Store) DB() DB { return s.db }

// Begin opens a transaction over the current committed state.
func (s *Store) Begin() core.Txn {
	return &txn{
		s:       s,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
		credit:  make(map[string]uint64),
		debit:   make(map[string]uint64),
	}
}

// Root returns the deterministic hash of the complete committed state. It
// scans every registered prefix, sorts the keys and hashes the pairs with
// length-prefix encoding.
func (s *Store) Root() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[string(it.Key())] = v
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return "", fmt.Errorf("scan %q: %w", prefix, err)
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = merged[k]
	}
	return crypto.HashPairs(keys, values), nil
}

func (s *Store) readUint(key string) (uint64, error) {
	data, err := s.db.Get([]byte(key))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt counter at %q", key)
	}
	return decodeUint(data), nil
}

func encodeUint(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
