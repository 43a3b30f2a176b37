// Package registry is the item ownership registry: it records who owns each
// item, who may move it on the owner's behalf, and performs custody
// transfers. It is the ownership oracle consulted by the marketplace.
package registry

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
)

var (
	ErrItemNotFound = fmt.Errorf("item %w", core.ErrNotFound)
	ErrItemExists   = errors.New("item already exists")
	ErrNotOwner     = errors.New("transfer from incorrect owner")
	ErrNotApproved  = errors.New("caller is not owner nor approved")
	ErrSelfApproval = errors.New("approval to current owner")
)

// Registry implements ownership rules over a core.State. It holds no state
// of its own, so every call participates in the caller's transaction.
type Registry struct{}

// New creates a Registry.
func New() *Registry { return &Registry{} }

func (r *Registry) item(st core.State, id string) (*core.Item, error) {
	item, err := st.GetItem(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%q: %w", id, ErrItemNotFound)
	}
	return item, err
}

// OwnerOf returns the current owner of id.
func (r *Registry) OwnerOf(st core.State, id string) (string, error) {
	item, err := r.item(st, id)
	if err != nil {
		return "", err
	}
	return item.Owner, nil
}

// IsApproved reports whether operator may move id: the owner, the item's
// approved delegate, or an operator approved for all the owner's items.
func (r *Registry) IsApproved(st core.State, id, operator string) (bool, error) {
	item, err := r.item(st, id)
	if err != nil {
		return false, err
	}
	return r.canMove(st, item, operator)
}

func (r *Registry) canMove(st core.State, item *core.Item, operator string) (bool, error) {
	if operator == item.Owner || (item.Approved != "" && operator == item.Approved) {
		return true, nil
	}
	return st.IsApprovedForAll(item.Owner, operator)
}

// Transfer moves id from from to to on behalf of operator. It fails unless
// from is the current owner and operator is approved. The single-item
// approval is cleared.
func (r *Registry) Transfer(st core.State, id, from, to, operator string) error {
	item, err := r.item(st, id)
	if err != nil {
		return err
	}
	if item.Owner != from {
		return fmt.Errorf("item %q: %w", id, ErrNotOwner)
	}
	ok, err := r.canMove(st, item, operator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("item %q: %w", id, ErrNotApproved)
	}
	item.Owner = to
	item.Approved = ""
	return st.SetItem(item)
}

// Approve sets the single-item delegate of id. caller must be the owner or
// an operator approved for all. An empty operator clears the approval.
func (r *Registry) Approve(st core.State, id, caller, operator string) error {
	item, err := r.item(st, id)
	if err != nil {
		return err
	}
	if operator != "" && operator == item.Owner {
		return ErrSelfApproval
	}
	if caller != item.Owner {
		ok, err := st.IsApprovedForAll(item.Owner, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("approve item %q: %w", id, ErrNotApproved)
		}
	}
	item.Approved = operator
	return st.SetItem(item)
}

// SetApprovalForAll grants or revokes operator's right to move every item
// owner holds.
func (r *Registry) SetApprovalForAll(st core.State, owner, operator string, approved bool) error {
	if owner == operator {
		return ErrSelfApproval
	}
	return st.SetApprovalForAll(owner, operator, approved)
}

// Mint creates id owned by owner. Items are only created from genesis.
func (r *Registry) Mint(st core.State, id, owner string, mintedAt int64) error {
	if id == "" || owner == "" {
		return errors.New("mint: item id and owner are required")
	}
	if _, err := st.GetItem(id); err == nil {
		return fmt.Errorf("mint %q: %w", id, ErrItemExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	return st.SetItem(&core.Item{ID: id, Owner: owner, MintedAt: mintedAt})
}
