package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/internal/keylock"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/market"
	"github.com/tolelom/tolmarket/metrics"
	"github.com/tolelom/tolmarket/registry"
	"github.com/tolelom/tolmarket/rpc"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"

	_ "github.com/tolelom/tolmarket/vm/modules/asset"
	_ "github.com/tolelom/tolmarket/vm/modules/economy"
	_ "github.com/tolelom/tolmarket/vm/modules/market"
)

const chainID = "test-chain"

type harness struct {
	store   *storage.Store
	api     *rpc.Handler
	handler http.Handler
	alice   crypto.PrivateKey
	market  string
}

func newHarness(t *testing.T, cfg config.RPCConfig) *harness {
	t.Helper()
	alice, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	_, mpub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	store := testutil.NewStore()
	reg := registry.New()
	em := events.NewEmitter(nil)
	idx := indexer.New(testutil.NewMemDB(), em, nil)
	g := &config.Genesis{
		ChainID: chainID,
		Alloc:   map[string]string{pub.Hex(): "10"},
		Items:   []config.GenesisItem{{ID: "0", Owner: pub.Hex()}},
	}
	if _, err := g.Apply(store, reg, em, time.Now()); err != nil {
		t.Fatal(err)
	}

	locks := keylock.New()
	m := metrics.New(nil)
	ledger := market.New(store, reg, mpub.Hex(), market.WithLocks(locks), market.WithEmitter(em), market.WithMetrics(m))
	items := registry.NewService(store, reg, locks, em, nil)
	exec := vm.NewExecutor(vm.Deps{ChainID: chainID, Store: store, Market: ledger, Items: items, Locks: locks, Emitter: em, Metrics: m})
	h := rpc.NewHandler(exec, ledger, items, idx, store, chainID)
	srv := rpc.NewServer(cfg, h, m.Gatherer(), nil)
	return &harness{store: store, api: h, handler: srv.Handler(), alice: alice, market: mpub.Hex()}
}

func (h *harness) post(t *testing.T, header http.Header, method string, params any) (*httptest.ResponseRecorder, rpc.Response) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	var resp rpc.Response
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s: %v (%s)", method, err, rec.Body.String())
		}
	}
	return rec, resp
}

func (h *harness) call(t *testing.T, method string, params any) rpc.Response {
	t.Helper()
	_, resp := h.post(t, nil, method, params)
	return resp
}

func (h *harness) signed(t *testing.T, typ core.TxType, nonce uint64, payload any) *core.Transaction {
	t.Helper()
	tx, err := core.NewTransaction(chainID, typ, h.alice.Public().Hex(), nonce, payload)
	if err != nil {
		t.Fatal(err)
	}
	tx.Sign(h.alice)
	return tx
}

func TestQueriesAndSendTx(t *testing.T) {
	h := newHarness(t, config.RPCConfig{Addr: "127.0.0.1:0"})
	alice := h.alice.Public().Hex()

	resp := h.call(t, "getBalance", map[string]string{"address": alice})
	if resp.Error != nil {
		t.Fatalf("getBalance: %+v", resp.Error)
	}
	acc := resp.Result.(map[string]any)
	if acc["balance_display"] != "10" {
		t.Errorf("balance display: %v", acc["balance_display"])
	}

	resp = h.call(t, "getOffer", map[string]string{"item_id": "0"})
	if resp.Error == nil || resp.Error.Code != rpc.CodeNoActiveOffer || resp.Error.Kind != "no_active_offer" {
		t.Fatalf("getOffer before listing: %+v", resp.Error)
	}

	for i, tx := range []*core.Transaction{
		h.signed(t, core.TxSetApprovalForAll, 0, core.SetApprovalForAllPayload{Operator: h.market, Approved: true}),
		h.signed(t, core.TxOfferForSale, 1, core.OfferPayload{ItemID: "0", MinValue: 2_500_000_000}),
	} {
		resp = h.call(t, "sendTx", tx)
		if resp.Error != nil {
			t.Fatalf("tx %d: %+v", i, resp.Error)
		}
	}
	resp = h.call(t, "getOffer", map[string]string{"item_id": "0"})
	if resp.Error != nil {
		t.Fatalf("getOffer: %+v", resp.Error)
	}
	if got := resp.Result.(map[string]any)["min_value_display"]; got != "2.5" {
		t.Errorf("min value display: %v", got)
	}

	resp = h.call(t, "getItemsByOwner", map[string]string{"owner": alice})
	if ids, _ := resp.Result.([]any); len(ids) != 1 || ids[0] != "0" {
		t.Errorf("items by owner: %v", resp.Result)
	}

	resp = h.call(t, "getStateRoot", nil)
	root, _ := h.store.Root()
	if got := resp.Result.(map[string]any)["root"]; got != root {
		t.Errorf("state root: got %v want %s", got, root)
	}
}

func TestSendTxErrors(t *testing.T) {
	h := newHarness(t, config.RPCConfig{Addr: "127.0.0.1:0"})

	resp := h.call(t, "sendTx", h.signed(t, core.TxWithdraw, 0, struct{}{}))
	if resp.Error == nil || resp.Error.Code != rpc.CodeNothingToWithdraw {
		t.Errorf("withdraw nothing: %+v", resp.Error)
	}
	// Nonce 0 was consumed by the failed withdrawal.
	resp = h.call(t, "sendTx", h.signed(t, core.TxWithdraw, 0, struct{}{}))
	if resp.Error == nil || resp.Error.Code != rpc.CodeTxRejected {
		t.Errorf("replayed nonce: %+v", resp.Error)
	}
	resp = h.call(t, "getItem", map[string]string{"item_id": "nope"})
	if resp.Error == nil || resp.Error.Code != rpc.CodeNotFound {
		t.Errorf("missing item: %+v", resp.Error)
	}
	resp = h.call(t, "getBid", map[string]string{})
	if resp.Error == nil || resp.Error.Code != rpc.CodeInvalidParams {
		t.Errorf("missing item_id: %+v", resp.Error)
	}
	resp = h.call(t, "mintMoney", nil)
	if resp.Error == nil || resp.Error.Code != rpc.CodeMethodNotFound {
		t.Errorf("unknown method: %+v", resp.Error)
	}
}

func TestAuthAndRateLimit(t *testing.T) {
	h := newHarness(t, config.RPCConfig{Addr: "127.0.0.1:0", AuthToken: "s3cret", RateLimit: 1, RateBurst: 2})

	rec, _ := h.post(t, nil, "getTxTypes", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", rec.Code)
	}
	auth := http.Header{"Authorization": {"Bearer s3cret"}}
	for i := 0; i < 2; i++ {
		rec, resp := h.post(t, auth, "getTxTypes", nil)
		if rec.Code != http.StatusOK || resp.Error != nil {
			t.Fatalf("request %d: status %d %+v", i, rec.Code, resp.Error)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("missing request id header")
		}
	}
	rec, _ = h.post(t, auth, "getTxTypes", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: status %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, config.RPCConfig{Addr: "127.0.0.1:0", AuthToken: "s3cret"})

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), chainID) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tolmarket_") {
		t.Errorf("metrics output lacks tolmarket series")
	}
}

type stubArchive struct {
	sales []core.Sale
	err   error
	asked []string
}

func (a *stubArchive) SalesByItem(_ context.Context, item string) ([]core.Sale, error) {
	a.asked = append(a.asked, item)
	return a.sales, a.err
}

func saleBuyers(t *testing.T, resp rpc.Response) []string {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("getSales: %+v", resp.Error)
	}
	list, ok := resp.Result.([]any)
	if !ok {
		t.Fatalf("getSales result: %T", resp.Result)
	}
	var buyers []string
	for _, v := range list {
		buyers = append(buyers, v.(map[string]any)["buyer"].(string))
	}
	return buyers
}

func TestGetSalesReadsArchive(t *testing.T) {
	h := newHarness(t, config.RPCConfig{})
	arch := &stubArchive{sales: []core.Sale{{ItemID: "0", Seller: "s", Buyer: "archived", Value: 1_500_000_000, Kind: core.SaleOffer}}}
	h.api.SetArchive(arch)

	resp := h.call(t, "getSales", map[string]string{"item_id": "0"})
	if got := saleBuyers(t, resp); len(got) != 1 || got[0] != "archived" {
		t.Fatalf("sales: %v", got)
	}
	if len(arch.asked) != 1 || arch.asked[0] != "0" {
		t.Errorf("archive queries: %v", arch.asked)
	}
	if d := resp.Result.([]any)[0].(map[string]any)["value_display"]; d != "1.5" {
		t.Errorf("value display: %v", d)
	}

	// An unavailable archive falls back to the local index, which has no sales yet.
	arch.err = errors.New("connection refused")
	if got := saleBuyers(t, h.call(t, "getSales", map[string]string{"item_id": "0"})); len(got) != 0 {
		t.Errorf("fallback sales: %v", got)
	}
}
