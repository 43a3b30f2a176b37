package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tolelom/tolmarket/metrics"
)

func TestWithdrawZeroesAndPays(t *testing.T) {
	f := newFixture(t, map[string]string{"0": "A"}, map[string]uint64{"B": 10})
	f.approveMarket("A")
	mustOK(t, f.ledger.OfferForSale(ctx, "A", "0", 5))
	mustOK(t, f.ledger.AcceptOffer(ctx, "B", "0", 5))

	got, err := f.ledger.Withdraw(ctx, "A")
	mustOK(t, err)
	if got != 5 {
		t.Errorf("withdrawn: got %d want 5", got)
	}
	if f.pending("A") != 0 {
		t.Error("pending not zeroed")
	}
	if f.balance("A") != 5 {
		t.Errorf("native balance after payout: %d", f.balance("A"))
	}

	_, err = f.ledger.Withdraw(ctx, "A")
	wantErr(t, err, ErrNothingToWithdraw)
	if f.balance("A") != 5 {
		t.Error("second withdrawal paid again")
	}
}

type failingPayer struct{ calls int }

func (p *failingPayer) Pay(context.Context, string, uint64) error {
	p.calls++
	return errors.New("recipient rejected payment")
}

func TestWithdrawRestoresOnPayoutFailure(t *testing.T) {
	payer := &failingPayer{}
	f := newFixture(t, nil, nil, WithPayer(payer))
	txn := f.store.Begin()
	mustOK(t, txn.AddPending("A", 9))
	mustOK(t, txn.Commit())
	before := f.root()

	if _, err := f.ledger.Withdraw(ctx, "A"); err == nil {
		t.Fatal("expected payout error")
	}
	if payer.calls != 1 {
		t.Errorf("payer calls: %d", payer.calls)
	}
	if got := f.pending("A"); got != 9 {
		t.Errorf("pending after failed payout: got %d want 9", got)
	}
	if f.root() != before {
		t.Error("failed withdrawal changed state")
	}
}

func withdrawCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, fam := range families {
		if fam.GetName() != "tolmarket_operations_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["op"] == "withdraw" && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestWithdrawRecordsPayoutOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	payer := &failingPayer{}
	f := newFixture(t, nil, nil, WithPayer(payer), WithMetrics(metrics.New(reg)))
	txn := f.store.Begin()
	mustOK(t, txn.AddPending("A", 4))
	mustOK(t, txn.Commit())

	_, err := f.ledger.Withdraw(ctx, "A")
	wantErr(t, err, ErrPayoutFailed)
	if got := withdrawCount(t, reg, "ok"); got != 0 {
		t.Errorf("failed payout counted as ok: %v", got)
	}
	if got := withdrawCount(t, reg, "payout_failed"); got != 1 {
		t.Errorf("payout_failed count: got %v want 1", got)
	}
	if Kind(err) != "payout_failed" {
		t.Errorf("kind: got %s", Kind(err))
	}
}

// reentrantPayer tries to withdraw the same balance again from inside the
// payout, the classic double-spend attempt.
type reentrantPayer struct {
	ledger *Ledger
	inner  error
	paid   uint64
}

func (p *reentrantPayer) Pay(ctx context.Context, to string, amount uint64) error {
	p.paid += amount
	if p.inner == nil {
		_, p.inner = p.ledger.Withdraw(ctx, to)
		if p.inner == nil {
			p.inner = fmt.Errorf("reentrant withdrawal succeeded")
		}
	}
	return nil
}

func TestWithdrawReentrancy(t *testing.T) {
	payer := &reentrantPayer{}
	f := newFixture(t, nil, nil, WithPayer(payer))
	payer.ledger = f.ledger
	txn := f.store.Begin()
	mustOK(t, txn.AddPending("A", 7))
	mustOK(t, txn.Commit())

	got, err := f.ledger.Withdraw(ctx, "A")
	mustOK(t, err)
	if got != 7 || payer.paid != 7 {
		t.Errorf("paid: got %d/%d want 7", got, payer.paid)
	}
	if !errors.Is(payer.inner, ErrNothingToWithdraw) {
		t.Errorf("reentrant withdraw: got %v want ErrNothingToWithdraw", payer.inner)
	}
}

func TestConcurrentWithdrawPaysOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	txn := f.store.Begin()
	mustOK(t, txn.AddPending("A", 100))
	mustOK(t, txn.Commit())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total uint64
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			amt, err := f.ledger.Withdraw(ctx, "A")
			if err != nil && !errors.Is(err, ErrNothingToWithdraw) {
				t.Errorf("withdraw: %v", err)
			}
			mu.Lock()
			total += amt
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 100 {
		t.Errorf("total paid: got %d want 100", total)
	}
	if f.balance("A") != 100 {
		t.Errorf("native balance: %d", f.balance("A"))
	}
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t, map[string]string{"0": "A"}, nil)
	c, cancel := context.WithCancel(context.Background())
	cancel()
	wantErr(t, f.ledger.OfferForSale(c, "A", "0", 1), context.Canceled)
	_, err := f.ledger.Withdraw(c, "A")
	wantErr(t, err, context.Canceled)
}
