package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/registry"
	"gopkg.in/yaml.v3"
)

// genesisMetaKey marks a store that already holds the genesis state.
const genesisMetaKey = "genesis"

// Genesis describes the initial state: native balances and the item
// collection. Items can only come into existence here.
type Genesis struct {
	ChainID string            `yaml:"chain_id"`
	Alloc   map[string]string `yaml:"alloc"` // pubkey hex → decimal token amount
	Items   []GenesisItem     `yaml:"items"`
}

// GenesisItem is one item and its first owner.
type GenesisItem struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
}

// LoadGenesis reads a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	return &g, nil
}

// Validate checks addresses, amounts and item uniqueness.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return errors.New("genesis: chain_id is required")
	}
	for addr, amt := range g.Alloc {
		if err := crypto.ValidateAddress(addr); err != nil {
			return fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
		if _, err := core.ParseAmount(amt); err != nil {
			return fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
	}
	seen := make(map[string]bool, len(g.Items))
	for _, it := range g.Items {
		if it.ID == "" {
			return errors.New("genesis: item without id")
		}
		if seen[it.ID] {
			return fmt.Errorf("genesis: duplicate item %q", it.ID)
		}
		seen[it.ID] = true
		if err := crypto.ValidateAddress(it.Owner); err != nil {
			return fmt.Errorf("genesis item %q owner: %w", it.ID, err)
		}
	}
	return nil
}

// Apply writes the genesis state to store in one transaction and emits an
// item_minted event per item. It returns false without touching the store
// if genesis was applied before.
func (g *Genesis) Apply(store core.Store, reg *registry.Registry, emitter *events.Emitter, now time.Time) (bool, error) {
	if err := g.Validate(); err != nil {
		return false, err
	}
	txn := store.Begin()
	if chain, err := txn.GetMeta(genesisMetaKey); err == nil {
		txn.Discard()
		if chain != g.ChainID {
			return false, fmt.Errorf("store holds genesis for chain %q, not %q", chain, g.ChainID)
		}
		return false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		txn.Discard()
		return false, err
	}

	addrs := make([]string, 0, len(g.Alloc))
	for addr := range g.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		units, _ := core.ParseAmount(g.Alloc[addr])
		if units == 0 {
			continue
		}
		if err := txn.AddBalance(addr, units); err != nil {
			txn.Discard()
			return false, fmt.Errorf("genesis alloc %s: %w", addr, err)
		}
	}
	for _, it := range g.Items {
		if err := reg.Mint(txn, it.ID, it.Owner, now.UnixNano()); err != nil {
			txn.Discard()
			return false, err
		}
	}
	if err := txn.SetMeta(genesisMetaKey, g.ChainID); err != nil {
		txn.Discard()
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("commit genesis: %w", err)
	}

	ctx := context.Background()
	for _, it := range g.Items {
		emitter.Emit(events.New(ctx, events.EventItemMinted, map[string]any{
			"item_id": it.ID,
			"owner":   it.Owner,
		}))
	}
	return true, nil
}
