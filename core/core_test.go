package core_test

import (
	"errors"
	"math"
	"testing"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := core.NewTransaction("test-chain", core.TxAcceptOffer, pub.Hex(), 0, core.AcceptOfferPayload{ItemID: "1", Value: 100})
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	tx.Sign(priv)
	if tx.ID == "" || tx.ID != tx.Hash() {
		t.Error("tx ID should be the hash after signing")
	}
	if err := tx.Verify(); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	tx.ChainID = "other-chain"
	if err := tx.Verify(); err == nil {
		t.Error("tx moved to another chain should fail verification")
	}
	tx.ChainID = "test-chain"
	tx.Payload = []byte(`{"item_id":"1","value":1}`)
	if err := tx.Verify(); err == nil {
		t.Error("tampered payload should fail verification")
	}
	tx.From = ""
	if err := tx.Verify(); err == nil {
		t.Error("missing sender should fail verification")
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		err  error
	}{
		{"0", 0, nil},
		{"1", 1_000_000_000, nil},
		{"0.25", 250_000_000, nil},
		{"0.000000001", 1, nil},
		{"18446744073.709551615", math.MaxUint64, nil},
		{"-1", 0, core.ErrNegativeAmount},
		{"0.0000000001", 0, core.ErrAmountPrecision},
		{"18446744073.709551616", 0, core.ErrAmountRange},
	}
	for _, tc := range cases {
		got, err := core.ParseAmount(tc.in)
		if tc.err != nil {
			if !errors.Is(err, tc.err) {
				t.Errorf("%s: got err %v want %v", tc.in, err, tc.err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%s: got %d, %v want %d", tc.in, got, err, tc.want)
		}
	}
	if _, err := core.ParseAmount("lots"); err == nil {
		t.Error("non-numeric amount accepted")
	}
}

func TestFormatAmount(t *testing.T) {
	for units, want := range map[uint64]string{
		0:               "0",
		1:               "0.000000001",
		2_500_000_000:   "2.5",
		math.MaxUint64:  "18446744073.709551615",
		100_000_000_000: "100",
	} {
		if got := core.FormatAmount(units); got != want {
			t.Errorf("FormatAmount(%d): got %s want %s", units, got, want)
		}
	}
}
