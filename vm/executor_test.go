package vm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/keylock"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/registry"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"

	_ "github.com/tolelom/tolmarket/vm/modules/asset"
	_ "github.com/tolelom/tolmarket/vm/modules/economy"
	_ "github.com/tolelom/tolmarket/vm/modules/market"
)

const chainID = "test-chain"

type user struct {
	priv  crypto.PrivateKey
	addr  string
	nonce uint64
}

func newUser(t *testing.T) *user {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return &user{priv: priv, addr: pub.Hex()}
}

// tx signs the next transaction for u without advancing the nonce; callers
// bump it once the executor has accepted the nonce.
func (u *user) tx(t *testing.T, typ core.TxType, payload any) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction(chainID, typ, u.addr, u.nonce, payload)
	if err != nil {
		t.Fatal(err)
	}
	tx.Sign(u.priv)
	return tx
}

type env struct {
	store  *storage.Store
	ledger *market.Ledger
	exec   *vm.Executor
	events []events.Event
}

func newEnv(t *testing.T, items map[string]*user, funds map[*user]uint64) *env {
	t.Helper()
	store := testutil.NewStore()
	reg := registry.New()
	txn := store.Begin()
	for id, u := range items {
		if err := reg.Mint(txn, id, u.addr, 0); err != nil {
			t.Fatal(err)
		}
	}
	for u, amt := range funds {
		if err := txn.AddBalance(u.addr, amt); err != nil {
			t.Fatal(err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatal(err)
	}

	e := &env{store: store}
	em := events.NewEmitter(nil)
	em.SubscribeAll(func(ev events.Event) { e.events = append(e.events, ev) })
	locks := keylock.New()
	_, mpub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	e.ledger = market.New(store, reg, mpub.Hex(), market.WithLocks(locks), market.WithEmitter(em))
	svc := registry.NewService(store, reg, locks, em, nil)
	e.exec = vm.NewExecutor(vm.Deps{
		ChainID: chainID,
		Store:   store,
		Market:  e.ledger,
		Items:   svc,
		Locks:   locks,
		Emitter: em,
	})
	return e
}

// run executes a transaction from u and advances u's nonce if it was consumed.
func (e *env) run(t *testing.T, u *user, typ core.TxType, payload any) error {
	t.Helper()
	err := e.exec.ExecuteTx(context.Background(), u.tx(t, typ, payload))
	acc, aerr := e.ledger.Account(u.addr)
	if aerr != nil {
		t.Fatal(aerr)
	}
	u.nonce = acc.Nonce
	return err
}

func TestMarketFlowThroughExecutor(t *testing.T) {
	seller, buyer := newUser(t), newUser(t)
	e := newEnv(t, map[string]*user{"7": seller}, map[*user]uint64{buyer: 50})

	steps := []struct {
		from    *user
		typ     core.TxType
		payload any
	}{
		{seller, core.TxSetApprovalForAll, core.SetApprovalForAllPayload{Operator: e.ledger.Address(), Approved: true}},
		{seller, core.TxOfferForSale, core.OfferPayload{ItemID: "7", MinValue: 30}},
		{buyer, core.TxAcceptOffer, core.AcceptOfferPayload{ItemID: "7", Value: 30}},
		{seller, core.TxWithdraw, struct{}{}},
	}
	for _, s := range steps {
		if err := e.run(t, s.from, s.typ, s.payload); err != nil {
			t.Fatalf("%s: %v", s.typ, err)
		}
	}

	seller2, _ := e.ledger.Account(seller.addr)
	buyer2, _ := e.ledger.Account(buyer.addr)
	if seller2.Balance != 30 || seller2.Pending != 0 {
		t.Errorf("seller: balance %d pending %d", seller2.Balance, seller2.Pending)
	}
	if buyer2.Balance != 20 {
		t.Errorf("buyer balance: %d", buyer2.Balance)
	}
	if seller2.Nonce != 3 || buyer2.Nonce != 1 {
		t.Errorf("nonces: seller %d buyer %d", seller2.Nonce, buyer2.Nonce)
	}

	var executed int
	for _, ev := range e.events {
		if ev.Type == events.EventTxExecuted {
			executed++
		}
		if ev.Type != events.EventTxExecuted && ev.TxID == "" {
			t.Errorf("%s event not tagged with tx", ev.Type)
		}
	}
	if executed != len(steps) {
		t.Errorf("tx_executed events: got %d want %d", executed, len(steps))
	}
}

func TestFailedHandlerConsumesNonce(t *testing.T) {
	a, b := newUser(t), newUser(t)
	e := newEnv(t, map[string]*user{"1": a}, nil)

	err := e.run(t, b, core.TxWithdrawOffer, core.ItemPayload{ItemID: "1"})
	if !errors.Is(err, market.ErrNoActiveOffer) {
		t.Fatalf("got %v want ErrNoActiveOffer", err)
	}
	if b.nonce != 1 {
		t.Errorf("nonce after rejected tx: %d", b.nonce)
	}
}

func TestReplayRejected(t *testing.T) {
	a, b := newUser(t), newUser(t)
	e := newEnv(t, nil, map[*user]uint64{a: 10})

	tx := a.tx(t, core.TxTransfer, core.TransferPayload{To: b.addr, Amount: 4})
	if err := e.exec.ExecuteTx(context.Background(), tx); err != nil {
		t.Fatal(err)
	}
	if err := e.exec.ExecuteTx(context.Background(), tx); !errors.Is(err, vm.ErrInvalidNonce) {
		t.Fatalf("replay: got %v want ErrInvalidNonce", err)
	}
	acc, _ := e.ledger.Account(b.addr)
	if acc.Balance != 4 {
		t.Errorf("recipient balance: %d", acc.Balance)
	}
}

func TestRejectedBeforeNonce(t *testing.T) {
	a, b := newUser(t), newUser(t)
	e := newEnv(t, nil, map[*user]uint64{a: 10})

	wrongChain, err := core.NewTransaction("other", core.TxTransfer, a.addr, 0, core.TransferPayload{To: b.addr, Amount: 1})
	if err != nil {
		t.Fatal(err)
	}
	wrongChain.Sign(a.priv)
	if err := e.exec.ExecuteTx(context.Background(), wrongChain); !errors.Is(err, vm.ErrChainMismatch) {
		t.Errorf("chain: got %v", err)
	}

	tampered := a.tx(t, core.TxTransfer, core.TransferPayload{To: b.addr, Amount: 1})
	tampered.Nonce = 5
	if err := e.exec.ExecuteTx(context.Background(), tampered); !errors.Is(err, crypto.ErrBadSignature) {
		t.Errorf("signature: got %v", err)
	}

	unknown := a.tx(t, "mint_everything", struct{}{})
	if err := e.exec.ExecuteTx(context.Background(), unknown); !errors.Is(err, vm.ErrUnknownTxType) {
		t.Errorf("type: got %v", err)
	}

	acc, _ := e.ledger.Account(a.addr)
	if acc.Nonce != 0 || acc.Balance != 10 {
		t.Errorf("rejected txs changed account: %+v", acc)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	a, b := newUser(t), newUser(t)
	e := newEnv(t, nil, map[*user]uint64{a: 3})
	err := e.run(t, a, core.TxTransfer, core.TransferPayload{To: b.addr, Amount: 4})
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("got %v want ErrInsufficientFunds", err)
	}
}

func TestTypesRegistered(t *testing.T) {
	want := map[core.TxType]bool{
		core.TxTransfer: true, core.TxApproveItem: true, core.TxSetApprovalForAll: true,
		core.TxTransferItem: true, core.TxOfferForSale: true, core.TxOfferForSaleToAddress: true,
		core.TxWithdrawOffer: true, core.TxAcceptOffer: true, core.TxEnterBid: true,
		core.TxAcceptBid: true, core.TxWithdrawBid: true, core.TxWithdraw: true,
	}
	got := vm.Types()
	if len(got) != len(want) {
		t.Fatalf("registered types: %v", got)
	}
	for _, typ := range got {
		if !want[typ] {
			t.Errorf("unexpected type %q", typ)
		}
	}
}
