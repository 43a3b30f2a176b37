// Package indexer maintains secondary indexes over committed marketplace
// events so clients can list items by owner and the trade history of an item
// without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/storage"
	"go.uber.org/zap"
)

// Index keys live outside the state prefixes and do not affect the state root.
const (
	prefixOwnerItems = "idx:owner:item:"
	prefixItemSales  = "idx:item:sale:"
)

// Indexer subscribes to events and updates secondary lookup tables.
type Indexer struct {
	mu  sync.Mutex
	db  storage.DB
	log *zap.Logger
}

// New creates an Indexer backed by db and subscribes it to emitter.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Indexer{db: db, log: log.Named("indexer")}
	emitter.Subscribe(events.EventItemMinted, idx.onItemMinted)
	emitter.Subscribe(events.EventItemTransferred, idx.onItemTransferred)
	emitter.Subscribe(events.EventBought, idx.onSale)
	emitter.Subscribe(events.EventBidAccepted, idx.onSale)
	return idx
}

// ItemsByOwner returns the IDs of all items owned by owner, sorted.
func (idx *Indexer) ItemsByOwner(owner string) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var ids []string
	err := idx.getJSON(prefixOwnerItems+owner, &ids)
	return ids, err
}

// Sales returns the completed trades of item, oldest first.
func (idx *Indexer) Sales(item string) ([]core.Sale, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var sales []core.Sale
	err := idx.getJSON(prefixItemSales+item, &sales)
	return sales, err
}

// ---- event handlers ----

func (idx *Indexer) onItemMinted(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	item, _ := ev.Data["item_id"].(string)
	if owner == "" || item == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.check(ev, idx.addOwned(owner, item))
}

func (idx *Indexer) onItemTransferred(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	item, _ := ev.Data["item_id"].(string)
	if item == "" || from == "" || to == "" {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.removeOwned(from, item); err != nil {
		idx.check(ev, err)
		return
	}
	idx.check(ev, idx.addOwned(to, item))
}

func (idx *Indexer) onSale(ev events.Event) {
	sale, ok := events.SaleFromEvent(ev)
	if !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	key := prefixItemSales + sale.ItemID
	var sales []core.Sale
	if err := idx.getJSON(key, &sales); err != nil {
		idx.check(ev, err)
		return
	}
	idx.check(ev, idx.putJSON(key, append(sales, sale)))
}

func (idx *Indexer) check(ev events.Event, err error) {
	if err != nil {
		idx.log.Error("index update failed",
			zap.String("event", string(ev.Type)),
			zap.String("tx", ev.TxID),
			zap.Error(err))
	}
}

// ---- list helpers ----

func (idx *Indexer) getJSON(key string, v any) error {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("indexer unmarshal %q: %w", key, err)
	}
	return nil
}

func (idx *Indexer) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) addOwned(owner, item string) error {
	key := prefixOwnerItems + owner
	var ids []string
	if err := idx.getJSON(key, &ids); err != nil {
		return err
	}
	i := sort.SearchStrings(ids, item)
	if i < len(ids) && ids[i] == item {
		return nil
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = item
	return idx.putJSON(key, ids)
}

func (idx *Indexer) removeOwned(owner, item string) error {
	key := prefixOwnerItems + owner
	var ids []string
	if err := idx.getJSON(key, &ids); err != nil {
		return err
	}
	i := sort.SearchStrings(ids, item)
	if i == len(ids) || ids[i] != item {
		return nil
	}
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		return idx.db.Delete([]byte(key))
	}
	return idx.putJSON(key, ids)
}
