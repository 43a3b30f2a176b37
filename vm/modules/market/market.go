// Package market exposes the marketplace ledger as transaction handlers.
// The sender of the transaction is the caller of every operation.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxOfferForSale, handleOfferForSale)
	vm.Register(core.TxOfferForSaleToAddress, handleOfferForSaleToAddress)
	vm.Register(core.TxWithdrawOffer, handleWithdrawOffer)
	vm.Register(core.TxAcceptOffer, handleAcceptOffer)
	vm.Register(core.TxEnterBid, handleEnterBid)
	vm.Register(core.TxAcceptBid, handleAcceptBid)
	vm.Register(core.TxWithdrawBid, handleWithdrawBid)
	vm.Register(core.TxWithdraw, handleWithdraw)
}

var errItemRequired = errors.New("item_id required")

func decode(typ core.TxType, payload json.RawMessage, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return nil
}

func handleOfferForSale(ctx *vm.Context, payload json.RawMessage) error {
	var p core.OfferPayload
	if err := decode(core.TxOfferForSale, payload, &p); err != nil {
		return err
	}
	if p.ItemID == "" {
		return errItemRequired
	}
	return ctx.Market.OfferForSale(ctx.Ctx, ctx.Tx.From, p.ItemID, p.MinValue)
}

func handleOfferForSaleToAddress(ctx *vm.Context, payload json.RawMessage) error {
	var p core.OfferPayload
	if err := decode(core.TxOfferForSaleToAddress, payload, &p); err != nil {
		return err
	}
	if p.ItemID == "" {
		return errItemRequired
	}
	if p.OnlySellTo != "" {
		if err := crypto.ValidateAddress(p.OnlySellTo); err != nil {
			return fmt.Errorf("only_sell_to: %w", err)
		}
	}
	return ctx.Market.OfferForSaleToAddress(ctx.Ctx, ctx.Tx.From, p.ItemID, p.MinValue, p.OnlySellTo)
}

func handleWithdrawOffer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ItemPayload
	if err := decode(core.TxWithdrawOffer, payload, &p); err != nil {
		return err
	}
	return ctx.Market.WithdrawOffer(ctx.Ctx, ctx.Tx.From, p.ItemID)
}

func handleAcceptOffer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AcceptOfferPayload
	if err := decode(core.TxAcceptOffer, payload, &p); err != nil {
		return err
	}
	return ctx.Market.AcceptOffer(ctx.Ctx, ctx.Tx.From, p.ItemID, p.Value)
}

func handleEnterBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.EnterBidPayload
	if err := decode(core.TxEnterBid, payload, &p); err != nil {
		return err
	}
	return ctx.Market.EnterBid(ctx.Ctx, ctx.Tx.From, p.ItemID, p.Value)
}

func handleAcceptBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AcceptBidPayload
	if err := decode(core.TxAcceptBid, payload, &p); err != nil {
		return err
	}
	return ctx.Market.AcceptBid(ctx.Ctx, ctx.Tx.From, p.ItemID, p.MinValue)
}

func handleWithdrawBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ItemPayload
	if err := decode(core.TxWithdrawBid, payload, &p); err != nil {
		return err
	}
	return ctx.Market.WithdrawBid(ctx.Ctx, ctx.Tx.From, p.ItemID)
}

// handleWithdraw takes no payload.
func handleWithdraw(ctx *vm.Context, _ json.RawMessage) error {
	_, err := ctx.Market.Withdraw(ctx.Ctx, ctx.Tx.From)
	return err
}
