package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/registry"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	d := config.Default()
	if cfg.ChainID != d.ChainID || cfg.RPC.Addr != d.RPC.Addr || cfg.Log.Format != "json" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "node.yaml", `
chain_id: test-chain
rpc:
  addr: 0.0.0.0:9000
  cors_origins: ["https://example.org"]
log:
  level: debug
`)
	t.Setenv("TOLMARKET_RPC_AUTH_TOKEN", "s3cret")
	t.Setenv("TOLMARKET_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChainID != "test-chain" || cfg.RPC.Addr != "0.0.0.0:9000" {
		t.Errorf("file values: %+v", cfg)
	}
	if len(cfg.RPC.CORSOrigins) != 1 || cfg.RPC.CORSOrigins[0] != "https://example.org" {
		t.Errorf("cors origins: %v", cfg.RPC.CORSOrigins)
	}
	if cfg.RPC.AuthToken != "s3cret" {
		t.Errorf("env auth token: %q", cfg.RPC.AuthToken)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("env should override file: level %q", cfg.Log.Level)
	}
	if cfg.Archive.Buffer != config.Default().Archive.Buffer {
		t.Errorf("unset keys keep defaults: buffer %d", cfg.Archive.Buffer)
	}
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.ChainID = ""
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"chain_id", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func addr(t *testing.T) string {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pub.Hex()
}

func TestGenesisApplyOnce(t *testing.T) {
	alice, bob := addr(t), addr(t)
	path := writeFile(t, "genesis.yaml", `
chain_id: test-chain
alloc:
  `+alice+`: "12.5"
  `+bob+`: "0"
items:
  - id: "0"
    owner: `+alice+`
  - id: "1"
    owner: `+bob+`
`)
	g, err := config.LoadGenesis(path)
	if err != nil {
		t.Fatal(err)
	}

	store := testutil.NewStore()
	reg := registry.New()
	em := events.NewEmitter(nil)
	var minted int
	em.Subscribe(events.EventItemMinted, func(events.Event) { minted++ })

	applied, err := g.Apply(store, reg, em, time.Unix(0, 0))
	if err != nil || !applied {
		t.Fatalf("apply: %v %v", applied, err)
	}
	if minted != 2 {
		t.Errorf("item_minted events: %d", minted)
	}
	txn := store.Begin()
	defer txn.Discard()
	if bal, _ := txn.Balance(alice); bal != 12_500_000_000 {
		t.Errorf("alice balance: %d", bal)
	}
	if owner, err := reg.OwnerOf(txn, "1"); err != nil || owner != bob {
		t.Errorf("item 1 owner: %q %v", owner, err)
	}

	before, _ := store.Root()
	applied, err = g.Apply(store, reg, em, time.Unix(1, 0))
	if err != nil || applied {
		t.Fatalf("second apply: %v %v", applied, err)
	}
	if after, _ := store.Root(); after != before {
		t.Error("second apply changed state")
	}

	g.ChainID = "other-chain"
	if _, err := g.Apply(store, reg, em, time.Now()); err == nil {
		t.Error("genesis for another chain accepted")
	}
}

func TestGenesisValidate(t *testing.T) {
	owner := addr(t)
	cases := []struct {
		name string
		g    config.Genesis
	}{
		{"no chain", config.Genesis{}},
		{"bad alloc address", config.Genesis{ChainID: "c", Alloc: map[string]string{"nope": "1"}}},
		{"bad amount", config.Genesis{ChainID: "c", Alloc: map[string]string{owner: "-1"}}},
		{"duplicate item", config.Genesis{ChainID: "c", Items: []config.GenesisItem{{"1", owner}, {"1", owner}}}},
		{"bad owner", config.Genesis{ChainID: "c", Items: []config.GenesisItem{{"1", "x"}}}},
	}
	for _, tc := range cases {
		if err := tc.g.Validate(); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
