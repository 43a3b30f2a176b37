package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmarket/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer          TxType = "transfer"
	TxApproveItem       TxType = "approve_item"
	TxSetApprovalForAll TxType = "set_approval_for_all"
	TxTransferItem      TxType = "transfer_item"

	TxOfferForSale          TxType = "offer_for_sale"
	TxOfferForSaleToAddress TxType = "offer_for_sale_to_address"
	TxWithdrawOffer         TxType = "withdraw_offer"
	TxAcceptOffer           TxType = "accept_offer"
	TxEnterBid              TxType = "enter_bid"
	TxAcceptBid             TxType = "accept_bid"
	TxWithdrawBid           TxType = "withdraw_bid"
	TxWithdraw              TxType = "withdraw"
)

// Transaction is a signed request to run one operation on behalf of From.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ApproveItemPayload names a single-item delegate; an empty Operator clears it.
type ApproveItemPayload struct {
	ItemID   string `json:"item_id"`
	Operator string `json:"operator"`
}

// SetApprovalForAllPayload grants or revokes an operator over all the sender's items.
type SetApprovalForAllPayload struct {
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

// TransferItemPayload moves an item directly, outside the marketplace.
type TransferItemPayload struct {
	ItemID string `json:"item_id"`
	To     string `json:"to"`
}

// OfferPayload lists an item. OnlySellTo is only read for
// offer_for_sale_to_address.
type OfferPayload struct {
	ItemID     string `json:"item_id"`
	MinValue   uint64 `json:"min_value"`
	OnlySellTo string `json:"only_sell_to,omitempty"`
}

// ItemPayload addresses one item; used by withdraw_offer and withdraw_bid.
type ItemPayload struct {
	ItemID string `json:"item_id"`
}

// AcceptOfferPayload buys an item, tendering Value.
type AcceptOfferPayload struct {
	ItemID string `json:"item_id"`
	Value  uint64 `json:"value"`
}

// EnterBidPayload escrows Value as a bid on an item.
type EnterBidPayload struct {
	ItemID string `json:"item_id"`
	Value  uint64 `json:"value"`
}

// AcceptBidPayload sells to the standing bid if it is at least MinValue.
type AcceptBidPayload struct {
	ItemID   string `json:"item_id"`
	MinValue uint64 `json:"min_value"`
}
