package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxApproveItem, handleApproveItem)
	vm.Register(core.TxSetApprovalForAll, handleSetApprovalForAll)
	vm.Register(core.TxTransferItem, handleTransferItem)
}

func handleApproveItem(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ApproveItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode approve_item payload: %w", err)
	}
	if p.ItemID == "" {
		return errors.New("item_id required")
	}
	if p.Operator != "" {
		if err := crypto.ValidateAddress(p.Operator); err != nil {
			return fmt.Errorf("operator: %w", err)
		}
	}
	return ctx.Items.Approve(ctx.Ctx, ctx.Tx.From, p.ItemID, p.Operator)
}

func handleSetApprovalForAll(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetApprovalForAllPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_approval_for_all payload: %w", err)
	}
	if err := crypto.ValidateAddress(p.Operator); err != nil {
		return fmt.Errorf("operator: %w", err)
	}
	return ctx.Items.SetApprovalForAll(ctx.Ctx, ctx.Tx.From, p.Operator, p.Approved)
}

func handleTransferItem(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_item payload: %w", err)
	}
	if p.ItemID == "" {
		return errors.New("item_id required")
	}
	if err := crypto.ValidateAddress(p.To); err != nil {
		return fmt.Errorf("transfer_item to: %w", err)
	}
	return ctx.Items.Transfer(ctx.Ctx, ctx.Tx.From, p.ItemID, p.To)
}
