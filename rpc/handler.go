package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/registry"
	"github.com/tolelom/tolmarket/vm"
)

// StateRooter computes the deterministic hash of committed state.
type StateRooter interface {
	Root() (string, error)
}

// SaleArchive is a durable sale history, such as the MySQL archive.
type SaleArchive interface {
	SalesByItem(ctx context.Context, item string) ([]core.Sale, error)
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	exec    *vm.Executor
	ledger  *market.Ledger
	items   *registry.Service
	indexer *indexer.Indexer
	archive SaleArchive
	state   StateRooter
	chainID string
}

// NewHandler creates an RPC Handler.
func NewHandler(exec *vm.Executor, ledger *market.Ledger, items *registry.Service, idx *indexer.Indexer, state StateRooter, chainID string) *Handler {
	return &Handler{exec: exec, ledger: ledger, items: items, indexer: idx, state: state, chainID: chainID}
}

// SetArchive makes getSales read from a. The local index still answers
// when the archive query fails.
func (h *Handler) SetArchive(a SaleArchive) { h.archive = a }

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(ctx context.Context, req Request) Response {
	switch req.Method {
	case "sendTx":
		return h.sendTx(ctx, req)
	case "getOffer":
		return h.getOffer(req)
	case "getBid":
		return h.getBid(req)
	case "getPendingWithdrawal":
		return h.getPendingWithdrawal(req)
	case "getBalance":
		return h.getBalance(req)
	case "getItem":
		return h.getItem(req)
	case "getItemsByOwner":
		return h.getItemsByOwner(req)
	case "getSales":
		return h.getSales(ctx, req)
	case "getStateRoot":
		return h.getStateRoot(req)
	case "getMarketAddress":
		return okResponse(req.ID, h.ledger.Address())
	case "getTxTypes":
		return okResponse(req.ID, vm.Types())
	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// decodeParams decodes req.Params into v.
func decodeParams(req Request, v any) *Response {
	if err := json.Unmarshal(req.Params, v); err != nil {
		r := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &r
	}
	return nil
}

func required(req Request, field, value string) *Response {
	if value == "" {
		r := errResponse(req.ID, CodeInvalidParams, field+" is required")
		return &r
	}
	return nil
}

func (h *Handler) itemID(req Request) (string, *Response) {
	var p struct {
		ItemID string `json:"item_id"`
	}
	if r := decodeParams(req, &p); r != nil {
		return "", r
	}
	return p.ItemID, required(req, "item_id", p.ItemID)
}

func (h *Handler) address(req Request) (string, *Response) {
	var p struct {
		Address string `json:"address"`
	}
	if r := decodeParams(req, &p); r != nil {
		return "", r
	}
	return p.Address, required(req, "address", p.Address)
}

// ---- views ----

// offerView adds display amounts to an offer.
type offerView struct {
	*core.Offer
	MinValueDisplay string `json:"min_value_display"`
}

type bidView struct {
	*core.Bid
	ValueDisplay string `json:"value_display"`
}

type accountView struct {
	*core.Account
	BalanceDisplay string `json:"balance_display"`
	PendingDisplay string `json:"pending_display"`
}

type saleView struct {
	core.Sale
	ValueDisplay string `json:"value_display"`
}

// ---- methods ----

func (h *Handler) sendTx(ctx context.Context, req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeTxRejected,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// The executor recomputes the ID; the client-provided value is ignored.
	if err := h.exec.ExecuteTx(ctx, &tx); err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getOffer(req Request) Response {
	id, r := h.itemID(req)
	if r != nil {
		return *r
	}
	o, err := h.ledger.Offer(id)
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, offerView{Offer: o, MinValueDisplay: core.FormatAmount(o.MinValue)})
}

func (h *Handler) getBid(req Request) Response {
	id, r := h.itemID(req)
	if r != nil {
		return *r
	}
	b, err := h.ledger.Bid(id)
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, bidView{Bid: b, ValueDisplay: core.FormatAmount(b.Value)})
}

func (h *Handler) getPendingWithdrawal(req Request) Response {
	addr, r := h.address(req)
	if r != nil {
		return *r
	}
	amt, err := h.ledger.PendingWithdrawal(addr)
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{
		"address":         addr,
		"pending":         amt,
		"pending_display": core.FormatAmount(amt),
	})
}

func (h *Handler) getBalance(req Request) Response {
	addr, r := h.address(req)
	if r != nil {
		return *r
	}
	acc, err := h.ledger.Account(addr)
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, accountView{
		Account:        acc,
		BalanceDisplay: core.FormatAmount(acc.Balance),
		PendingDisplay: core.FormatAmount(acc.Pending),
	})
}

func (h *Handler) getItem(req Request) Response {
	id, r := h.itemID(req)
	if r != nil {
		return *r
	}
	item, err := h.items.Item(id)
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, item)
}

func (h *Handler) getItemsByOwner(req Request) Response {
	var p struct {
		Owner string `json:"owner"`
	}
	if r := decodeParams(req, &p); r != nil {
		return *r
	}
	if r := required(req, "owner", p.Owner); r != nil {
		return *r
	}
	ids, err := h.indexer.ItemsByOwner(p.Owner)
	if err != nil {
		return errorFor(req.ID, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getSales(ctx context.Context, req Request) Response {
	id, r := h.itemID(req)
	if r != nil {
		return *r
	}
	var (
		sales []core.Sale
		err   error
	)
	if h.archive != nil {
		sales, err = h.archive.SalesByItem(ctx, id)
	}
	if h.archive == nil || err != nil {
		sales, err = h.indexer.Sales(id)
	}
	if err != nil {
		return errorFor(req.ID, err)
	}
	out := make([]saleView, len(sales))
	for i, s := range sales {
		out[i] = saleView{Sale: s, ValueDisplay: core.FormatAmount(s.Value)}
	}
	return okResponse(req.ID, out)
}

func (h *Handler) getStateRoot(req Request) Response {
	root, err := h.state.Root()
	if err != nil {
		return errorFor(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"root": root})
}
