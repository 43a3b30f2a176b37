package wallet

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// Wallet holds a key pair bound to one chain and builds signed
// transactions for it. Nonces are supplied by the caller, who reads the
// account's current nonce via getBalance.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// Address returns the hex-encoded ed25519 public key, used as the "from"
// address and as the principal in the marketplace.
func (w *Wallet) Address() string {
	return w.pub.Hex()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer moves native tokens to another account.
func (w *Wallet) Transfer(to string, amount, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, core.TransferPayload{To: to, Amount: amount})
}

// ApproveOperator grants or revokes operator over all of the wallet's items.
// Owners approve the marketplace address this way before listing.
func (w *Wallet) ApproveOperator(operator string, approved bool, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxSetApprovalForAll, nonce, core.SetApprovalForAllPayload{Operator: operator, Approved: approved})
}

// OfferForSale lists item to anyone; a non-empty onlyBuyer restricts it.
func (w *Wallet) OfferForSale(item string, minValue uint64, onlyBuyer string, nonce uint64) (*core.Transaction, error) {
	typ := core.TxOfferForSale
	if onlyBuyer != "" {
		typ = core.TxOfferForSaleToAddress
	}
	return w.NewTx(typ, nonce, core.OfferPayload{ItemID: item, MinValue: minValue, OnlySellTo: onlyBuyer})
}

// AcceptOffer buys item, tendering value.
func (w *Wallet) AcceptOffer(item string, value, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxAcceptOffer, nonce, core.AcceptOfferPayload{ItemID: item, Value: value})
}

// EnterBid escrows value as a bid on item.
func (w *Wallet) EnterBid(item string, value, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxEnterBid, nonce, core.EnterBidPayload{ItemID: item, Value: value})
}

// AcceptBid sells item to its standing bid if it is at least minValue.
func (w *Wallet) AcceptBid(item string, minValue, nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxAcceptBid, nonce, core.AcceptBidPayload{ItemID: item, MinValue: minValue})
}

// Withdraw pays out the wallet's withdrawable balance.
func (w *Wallet) Withdraw(nonce uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxWithdraw, nonce, struct{}{})
}
