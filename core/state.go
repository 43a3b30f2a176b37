package core

// Account is the read view of a participant's native balance, replay-protection
// nonce and accrued marketplace proceeds. Address is the hex-encoded ed25519
// public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
	Pending uint64 `json:"pending"` // withdrawable proceeds and refunds
}

// Item is a unique, individually owned token tracked by the ownership registry.
type Item struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`              // pubkey hex
	Approved string `json:"approved,omitempty"` // single-item delegate, cleared on transfer
	MintedAt int64  `json:"minted_at"`
}

// Offer is a standing sale offer. Its presence in state means the item is for
// sale; an empty OnlySellTo means anyone may buy.
type Offer struct {
	ItemID     string `json:"item_id"`
	Seller     string `json:"seller"`
	MinValue   uint64 `json:"min_value"`
	OnlySellTo string `json:"only_sell_to,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Bid is the highest standing bid on an item. Value is held in escrow by the
// marketplace until the bid is accepted, outbid or withdrawn.
type Bid struct {
	ItemID    string `json:"item_id"`
	Bidder    string `json:"bidder"`
	Value     uint64 `json:"value"`
	CreatedAt int64  `json:"created_at"`
}

// SaleKind tells how a sale was matched.
type SaleKind string

const (
	SaleOffer SaleKind = "offer" // buyer accepted a standing offer
	SaleBid   SaleKind = "bid"   // owner accepted a standing bid
)

// Sale is a completed trade, recorded by the indexer and the archive.
type Sale struct {
	ItemID string   `json:"item_id"`
	Seller string   `json:"seller"`
	Buyer  string   `json:"buyer"`
	Value  uint64   `json:"value"`
	Kind   SaleKind `json:"kind"`
	TxID   string   `json:"tx_id,omitempty"`
	Time   int64    `json:"time"`
}

// State is the transactional view every marketplace and registry operation
// works against. Reads observe committed state plus the view's own writes.
//
// Native balances and pending withdrawals are modified through Add/Sub so that
// concurrent views crediting the same principal compose at commit time; the
// remaining records are written whole.
type State interface {
	// Native token balances
	Balance(address string) (uint64, error)
	AddBalance(address string, amount uint64) error
	SubBalance(address string, amount uint64) error

	// Withdrawable proceeds
	Pending(address string) (uint64, error)
	AddPending(address string, amount uint64) error
	SubPending(address string, amount uint64) error

	// Replay protection
	Nonce(address string) (uint64, error)
	SetNonce(address string, nonce uint64) error

	// Items
	GetItem(id string) (*Item, error)
	SetItem(item *Item) error
	IsApprovedForAll(owner, operator string) (bool, error)
	SetApprovalForAll(owner, operator string, approved bool) error

	// Offers and bids
	GetOffer(itemID string) (*Offer, error)
	SetOffer(o *Offer) error
	DeleteOffer(itemID string) error
	GetBid(itemID string) (*Bid, error)
	SetBid(b *Bid) error
	DeleteBid(itemID string) error

	// Node metadata (genesis marker and similar)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// Txn is a State whose writes become visible to others only on Commit.
// Discard drops every write. A Txn must not be used after either call.
type Txn interface {
	State
	Commit() error
	Discard()
}

// Store opens transactions over the persistent state.
type Store interface {
	Begin() Txn
}
