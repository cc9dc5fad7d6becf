package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/pkg/asset"
	"github.com/transledger/ibex/pkg/ledger"
)

// Standard pair for settlement tests:
// maker (alice):  offers 100 USD, requests 50 EUR  -> price 2.0
// taker (bob):    offers  60 EUR, requests 120 USD -> price 0.5
func createPair(t *testing.T, x *Exchange) {
	t.Helper()
	if _, err := x.Create(alice, makerParams(1)); err != nil {
		t.Fatalf("create maker: %v", err)
	}
	if _, err := x.Create(bob, CreateParams{
		Owner:     bob,
		Relayer:   relayerB,
		Key:       2,
		Offered:   asset.New(60, eur),
		Requested: asset.New(120, usd),
		Fee:       asset.New(2, feeSym),
		Memo:      "taker",
		CreatedAt: 1_700_000_000,
		ExpiresAt: 1_700_086_400,
	}); err != nil {
		t.Fatalf("create taker: %v", err)
	}
}

func partialFill() SettleParams {
	// 40 USD against 20 EUR at price 2.0. Both remainders keep their rates
	// exactly: maker 60/30 = 2.0, taker 40/80 = 0.5.
	return SettleParams{
		MakerKey:    1,
		TakerKey:    2,
		QtyMaker:    asset.New(40, usd),
		DeductMaker: asset.New(20, eur),
		QtyTaker:    asset.New(20, eur),
		DeductTaker: asset.New(40, usd),
		Memo:        "fill",
	}
}

func TestSettlePartialFill(t *testing.T) {
	x, l, _ := newTestExchange(t)
	createPair(t, x)

	s, err := x.Settle(partialFill())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if s.Price != 2.0 || s.MakerFilled || s.TakerFilled {
		t.Errorf("settlement = %+v", s)
	}

	// Maker order reduced in place to 60 USD / 30 EUR.
	maker, err := x.Order(1)
	if err != nil {
		t.Fatalf("maker gone: %v", err)
	}
	if maker.Offered.Amount != 60 || maker.Requested.Amount != 30 {
		t.Errorf("maker = %s / %s, want 60 USD / 30 EUR", maker.Offered, maker.Requested)
	}
	taker, err := x.Order(2)
	if err != nil {
		t.Fatalf("taker gone: %v", err)
	}
	if taker.Offered.Amount != 40 || taker.Requested.Amount != 80 {
		t.Errorf("taker = %s / %s, want 40 EUR / 80 USD", taker.Offered, taker.Requested)
	}

	// Funds moved both ways, fees to the relayers.
	if got := l.Balance(bob, usd).Amount; got != 40 {
		t.Errorf("bob USD = %d, want 40", got)
	}
	if got := l.Balance(alice, eur).Amount; got != 20 {
		t.Errorf("alice EUR = %d, want 20", got)
	}
	if got := l.Balance(relayerA, feeSym).Amount; got != 1 {
		t.Errorf("relayerA fee = %d, want 1", got)
	}
	if got := l.Balance(relayerB, feeSym).Amount; got != 2 {
		t.Errorf("relayerB fee = %d, want 2", got)
	}
}

func TestSettleConservation(t *testing.T) {
	x, l, _ := newTestExchange(t)
	createPair(t, x)

	parties := []common.Address{alice, bob, relayerA, relayerB, exchangeAddr}
	total := func(sym asset.Symbol) int64 {
		var sum int64
		for _, p := range parties {
			sum += l.Balance(p, sym).Amount
		}
		return sum
	}
	beforeUSD, beforeEUR, beforeFee := total(usd), total(eur), total(feeSym)

	if _, err := x.Settle(partialFill()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if got := total(usd); got != beforeUSD {
		t.Errorf("USD not conserved: %d -> %d", beforeUSD, got)
	}
	if got := total(eur); got != beforeEUR {
		t.Errorf("EUR not conserved: %d -> %d", beforeEUR, got)
	}
	if got := total(feeSym); got != beforeFee {
		t.Errorf("fee token not conserved: %d -> %d", beforeFee, got)
	}
}

func TestSettleFullFill(t *testing.T) {
	x, l, _ := newTestExchange(t)
	if _, err := x.Create(alice, makerParams(1)); err != nil {
		t.Fatalf("create maker: %v", err)
	}
	if _, err := x.Create(bob, CreateParams{
		Owner: bob, Relayer: relayerB, Key: 2,
		Offered:   asset.New(50, eur),
		Requested: asset.New(100, usd),
		Fee:       asset.New(2, feeSym),
		CreatedAt: 1_700_000_000, ExpiresAt: 1_700_086_400,
	}); err != nil {
		t.Fatalf("create taker: %v", err)
	}

	s, err := x.Settle(SettleParams{
		MakerKey: 1, TakerKey: 2,
		QtyMaker:    asset.New(100, usd),
		DeductMaker: asset.New(50, eur),
		QtyTaker:    asset.New(50, eur),
		DeductTaker: asset.New(100, usd),
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !s.MakerFilled || !s.TakerFilled {
		t.Errorf("expected both sides filled: %+v", s)
	}

	// Fully filled orders are deleted.
	if _, err := x.Order(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("maker should be deleted, got %v", err)
	}
	if _, err := x.Order(2); !errors.Is(err, ErrNotFound) {
		t.Errorf("taker should be deleted, got %v", err)
	}
	if got := l.Balance(bob, usd).Amount; got != 100 {
		t.Errorf("bob USD = %d, want 100", got)
	}
	if got := l.Balance(alice, eur).Amount; got != 50 {
		t.Errorf("alice EUR = %d, want 50", got)
	}
}

func TestSettleValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*SettleParams)
		wantErr error
	}{
		{"maker not found", func(p *SettleParams) { p.MakerKey = 99 }, ErrNotFound},
		{"taker not found", func(p *SettleParams) { p.TakerKey = 99 }, ErrNotFound},
		{"zero quantity", func(p *SettleParams) { p.QtyMaker.Amount = 0 }, ErrInvalidAsset},
		{"negative deduction", func(p *SettleParams) { p.DeductMaker.Amount = -1 }, ErrInvalidAsset},
		{"maker qty exceeds order", func(p *SettleParams) { p.QtyMaker.Amount = 200; p.QtyTaker.Amount = 60 }, ErrAmountExceedsOrder},
		{"taker qty exceeds order", func(p *SettleParams) { p.QtyTaker.Amount = 61 }, ErrAmountExceedsOrder},
		{"maker deduction exceeds requested", func(p *SettleParams) { p.DeductMaker.Amount = 51 }, ErrAmountExceedsOrder},
		{"maker quantity currency", func(p *SettleParams) { p.QtyMaker.Symbol = eur; p.DeductTaker.Symbol = eur }, ErrCurrencyMismatch},
		{"maker deduction currency", func(p *SettleParams) { p.DeductMaker.Symbol = usd }, ErrCurrencyMismatch},
		{"price below ask", func(p *SettleParams) { p.QtyMaker.Amount = 30; p.DeductMaker.Amount = 15 }, ErrPriceBelowAsk},
		{"maker remaining price drifts", func(p *SettleParams) { p.DeductMaker.Amount = 25 }, ErrPriceDrift},
		{"taker remaining price drifts", func(p *SettleParams) { p.DeductTaker.Amount = 45 }, ErrPriceDrift},
		{"partial fill consuming all requested", func(p *SettleParams) { p.DeductMaker.Amount = 50 }, ErrPriceDrift},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			x, l, _ := newTestExchange(t)
			createPair(t, x)

			p := partialFill()
			tc.mutate(&p)
			if _, err := x.Settle(p); !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}

			// No mutation, no transfers on any failure.
			maker, _ := x.Order(1)
			if maker == nil || maker.Offered.Amount != 100 || maker.Requested.Amount != 50 {
				t.Errorf("maker mutated: %+v", maker)
			}
			taker, _ := x.Order(2)
			if taker == nil || taker.Offered.Amount != 60 || taker.Requested.Amount != 120 {
				t.Errorf("taker mutated: %+v", taker)
			}
			if got := l.Balance(bob, usd).Amount; got != 0 {
				t.Errorf("transfer leaked: bob USD = %d", got)
			}
		})
	}
}

func TestSettleTransferFailureAborts(t *testing.T) {
	x, l, _ := newTestExchange(t)
	createPair(t, x)

	// Alice spends her USD out of band after creating the order: the
	// allowance survives but the balance is gone, so the ledger rejects the
	// batch at settlement time.
	if err := l.TransferBatch(alice, "drain",
		ledger.Transfer{From: alice, To: relayerA, Amount: asset.New(1000, usd)},
	); err != nil {
		t.Fatalf("drain: %v", err)
	}

	_, err := x.Settle(partialFill())
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Orders untouched, no one-sided transfer.
	maker, _ := x.Order(1)
	if maker == nil || maker.Offered.Amount != 100 {
		t.Errorf("maker mutated: %+v", maker)
	}
	if got := l.Balance(bob, usd).Amount; got != 0 {
		t.Errorf("bob received USD from aborted settlement: %d", got)
	}
	if got := l.Balance(alice, eur).Amount; got != 0 {
		t.Errorf("alice received EUR from aborted settlement: %d", got)
	}
}

func TestSettlePriceMonotonicity(t *testing.T) {
	x, _, _ := newTestExchange(t)
	createPair(t, x)

	makerBefore, _ := x.Order(1)
	takerBefore, _ := x.Order(2)

	if _, err := x.Settle(partialFill()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	makerAfter, _ := x.Order(1)
	takerAfter, _ := x.Order(2)
	if d := makerAfter.Price() - makerBefore.Price(); d > priceTolerance || d < -priceTolerance {
		t.Errorf("maker price moved by %g", d)
	}
	if d := takerAfter.Price() - takerBefore.Price(); d > priceTolerance || d < -priceTolerance {
		t.Errorf("taker price moved by %g", d)
	}
}

func TestSettleExpiredOrderStillSettles(t *testing.T) {
	// ExpiresAt gates Retire only; settlement does not consult it.
	x, _, clock := newTestExchange(t)
	createPair(t, x)
	clock.Advance(30 * 24 * time.Hour)

	if _, err := x.Settle(partialFill()); err != nil {
		t.Fatalf("settle of expired orders should pass: %v", err)
	}
}
