package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/pkg/asset"
)

var (
	issuer   = common.HexToAddress("0x1100000000000000000000000000000000000000")
	alice    = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob      = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	exchange = common.HexToAddress("0xEE00000000000000000000000000000000000000")
)

var (
	usd = asset.NewSymbol("USD", 4)
	eur = asset.NewSymbol("EUR", 4)
)

func newTestLedger(t *testing.T) *MemLedger {
	t.Helper()
	l := NewMemLedger()
	for _, sym := range []asset.Symbol{usd, eur} {
		if err := l.RegisterCurrency(issuer, asset.New(asset.MaxAmount, sym)); err != nil {
			t.Fatalf("register %s: %v", sym.Code, err)
		}
	}
	return l
}

func TestIssueAndBalance(t *testing.T) {
	l := newTestLedger(t)

	if err := l.Issue(alice, asset.New(1000000, usd)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := l.Balance(alice, usd).Amount; got != 1000000 {
		t.Errorf("balance = %d, want 1000000", got)
	}

	if err := l.Issue(alice, asset.New(100, asset.NewSymbol("XYZ", 2))); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency, got %v", err)
	}
	// Precision must match the registered symbol exactly.
	if err := l.Issue(alice, asset.New(100, asset.NewSymbol("USD", 2))); err == nil {
		t.Error("expected precision mismatch error")
	}
}

func TestAllowance(t *testing.T) {
	l := newTestLedger(t)

	if _, err := l.Allowance(alice, exchange, usd); !errors.Is(err, ErrNoAllowance) {
		t.Errorf("expected ErrNoAllowance, got %v", err)
	}

	if err := l.Approve(alice, exchange, asset.New(500, usd)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	cap, err := l.Allowance(alice, exchange, usd)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if cap.Amount != 500 {
		t.Errorf("cap = %d, want 500", cap.Amount)
	}

	if _, err := l.Allowance(alice, exchange, asset.NewSymbol("XYZ", 0)); !errors.Is(err, ErrUnknownCurrency) {
		t.Errorf("expected ErrUnknownCurrency, got %v", err)
	}
}

func TestTransferBatch(t *testing.T) {
	l := newTestLedger(t)
	l.Issue(alice, asset.New(1000, usd))
	l.Issue(bob, asset.New(1000, eur))
	l.Approve(alice, exchange, asset.New(600, usd))
	l.Approve(bob, exchange, asset.New(600, eur))

	err := l.TransferBatch(exchange, "swap",
		Transfer{From: alice, To: bob, Amount: asset.New(400, usd)},
		Transfer{From: bob, To: alice, Amount: asset.New(300, eur)},
	)
	if err != nil {
		t.Fatalf("transfer batch: %v", err)
	}

	if got := l.Balance(alice, usd).Amount; got != 600 {
		t.Errorf("alice USD = %d, want 600", got)
	}
	if got := l.Balance(bob, usd).Amount; got != 400 {
		t.Errorf("bob USD = %d, want 400", got)
	}
	if got := l.Balance(alice, eur).Amount; got != 300 {
		t.Errorf("alice EUR = %d, want 300", got)
	}

	// Allowance caps are consumed by transferFrom.
	cap, _ := l.Allowance(alice, exchange, usd)
	if cap.Amount != 200 {
		t.Errorf("alice cap = %d, want 200", cap.Amount)
	}
}

func TestTransferBatchAtomicity(t *testing.T) {
	l := newTestLedger(t)
	l.Issue(alice, asset.New(1000, usd))
	l.Approve(alice, exchange, asset.New(1000, usd))
	// Bob has no EUR: the second leg must fail and the first must not apply.
	l.Approve(bob, exchange, asset.New(1000, eur))

	err := l.TransferBatch(exchange, "swap",
		Transfer{From: alice, To: bob, Amount: asset.New(400, usd)},
		Transfer{From: bob, To: alice, Amount: asset.New(300, eur)},
	)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	if got := l.Balance(alice, usd).Amount; got != 1000 {
		t.Errorf("alice USD = %d, want 1000 (no partial application)", got)
	}
	cap, _ := l.Allowance(alice, exchange, usd)
	if cap.Amount != 1000 {
		t.Errorf("alice cap = %d, want 1000 (no partial debit)", cap.Amount)
	}
}

func TestTransferBatchAllowanceAggregation(t *testing.T) {
	l := newTestLedger(t)
	l.Issue(alice, asset.New(1000, usd))
	l.Approve(alice, exchange, asset.New(500, usd))

	// Two legs of 300 each exceed the 500 cap even though each alone fits.
	err := l.TransferBatch(exchange, "double spend",
		Transfer{From: alice, To: bob, Amount: asset.New(300, usd)},
		Transfer{From: alice, To: exchange, Amount: asset.New(300, usd)},
	)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := l.Balance(alice, usd).Amount; got != 1000 {
		t.Errorf("alice USD = %d, want 1000", got)
	}
}

func TestTransferBatchConservation(t *testing.T) {
	l := newTestLedger(t)
	l.Issue(alice, asset.New(1000, usd))
	l.Issue(bob, asset.New(1000, usd))
	l.Approve(alice, exchange, asset.New(1000, usd))
	l.Approve(bob, exchange, asset.New(1000, usd))

	err := l.TransferBatch(exchange, "shuffle",
		Transfer{From: alice, To: bob, Amount: asset.New(700, usd)},
		Transfer{From: bob, To: alice, Amount: asset.New(200, usd)},
	)
	if err != nil {
		t.Fatalf("transfer batch: %v", err)
	}

	total := l.Balance(alice, usd).Amount + l.Balance(bob, usd).Amount
	if total != 2000 {
		t.Errorf("total supply moved: %d, want 2000", total)
	}
}
