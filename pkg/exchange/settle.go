package exchange

import (
	"fmt"
	"math"

	"github.com/transledger/ibex/pkg/asset"
	"github.com/transledger/ibex/pkg/ledger"
)

// priceTolerance bounds how far a partial fill may move the implied rate of an
// order's remaining portion. Amounts are exact integers; the ratio comparison
// is float64, so a small tolerance absorbs representation error.
const priceTolerance = 1e-10

// SettleParams describe a proposed trade between two existing orders. The
// four explicit quantities (rather than a single traded amount) exist because
// fractional fills can land at differing remaining-amount ratios on each
// side, and the engine verifies the proposed deltas instead of deriving them.
type SettleParams struct {
	MakerKey uint64
	TakerKey uint64

	// QtyMaker moves from the maker's owner to the taker's owner and is
	// denominated in the maker's offered currency. DeductMaker is the amount
	// of the maker's requested balance the fill consumes. QtyTaker and
	// DeductTaker are the symmetric pair for the taker.
	QtyMaker    asset.Asset
	DeductMaker asset.Asset
	QtyTaker    asset.Asset
	DeductTaker asset.Asset

	Memo string
}

// Settlement summarizes an applied trade.
type Settlement struct {
	MakerKey    uint64  `json:"makerKey"`
	TakerKey    uint64  `json:"takerKey"`
	Price       float64 `json:"price"`       // realized rate: qtyMaker per qtyTaker
	MakerFilled bool    `json:"makerFilled"` // maker order fully consumed and deleted
	TakerFilled bool    `json:"takerFilled"`
	Memo        string  `json:"memo,omitempty"`
}

// Settle validates and applies a trade between a maker and a taker order.
// All validation happens before any effect; the four transfers go to the
// ledger as one all-or-nothing batch, then both order records are updated or
// deleted in one store batch.
//
// Expiry is deliberately not checked here: ExpiresAt gates only Retire, so a
// matched-but-expired order still settles. See DESIGN.md.
func (x *Exchange) Settle(p SettleParams) (*Settlement, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	maker, err := x.store.Get(p.MakerKey)
	if err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	taker, err := x.store.Get(p.TakerKey)
	if err != nil {
		return nil, fmt.Errorf("taker: %w", err)
	}
	if len(p.Memo) > MaxMemoLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrMemoTooLong, len(p.Memo), MaxMemoLen)
	}

	if err := checkSide("maker", maker, p.QtyMaker, p.DeductMaker); err != nil {
		return nil, err
	}
	if err := checkSide("taker", taker, p.QtyTaker, p.DeductTaker); err != nil {
		return nil, err
	}

	// Realized rate must clear at or above the maker's ask.
	price := float64(p.QtyMaker.Amount) / float64(p.QtyTaker.Amount)
	askPrice := maker.Price()
	if price < askPrice {
		return nil, fmt.Errorf("%w: price %g, ask %g", ErrPriceBelowAsk, price, askPrice)
	}

	// A partial fill may not move the implied rate of either order's
	// remaining portion. Full fills delete the order, so there is no
	// remainder to protect.
	makerFilled := p.QtyMaker.Amount == maker.Offered.Amount
	takerFilled := p.QtyTaker.Amount == taker.Offered.Amount
	if !makerFilled {
		if err := checkRemainingPrice("maker", maker, p.QtyMaker.Amount, p.DeductMaker.Amount); err != nil {
			return nil, err
		}
	}
	if !takerFilled {
		if err := checkRemainingPrice("taker", taker, p.QtyTaker.Amount, p.DeductTaker.Amount); err != nil {
			return nil, err
		}
	}

	// All validations passed: move funds. The ledger applies the batch
	// all-or-nothing and re-validates balance and allowance per leg.
	err = x.ledger.TransferBatch(x.self, p.Memo,
		ledger.Transfer{From: maker.Owner, To: taker.Owner, Amount: p.QtyMaker},
		ledger.Transfer{From: taker.Owner, To: maker.Owner, Amount: p.QtyTaker},
		ledger.Transfer{From: maker.Owner, To: maker.Relayer, Amount: maker.Fee},
		ledger.Transfer{From: taker.Owner, To: taker.Relayer, Amount: taker.Fee},
	)
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}

	changes := []OrderChange{
		sideChange(maker, makerFilled, p.QtyMaker.Amount, p.DeductMaker.Amount),
		sideChange(taker, takerFilled, p.QtyTaker.Amount, p.DeductTaker.Amount),
	}
	if err := x.store.UpdateAndDelete(changes); err != nil {
		// Funds have moved; a store failure here is a crash-grade fault, not
		// a validation error. Surface it loudly.
		x.log.Errorw("settlement_store_failure", "maker", p.MakerKey, "taker", p.TakerKey, "err", err)
		return nil, fmt.Errorf("update orders after transfer: %w", err)
	}

	s := &Settlement{
		MakerKey:    p.MakerKey,
		TakerKey:    p.TakerKey,
		Price:       price,
		MakerFilled: makerFilled,
		TakerFilled: takerFilled,
		Memo:        p.Memo,
	}
	x.log.Infow("settlement",
		"maker", p.MakerKey, "taker", p.TakerKey,
		"qty_maker", p.QtyMaker.String(), "qty_taker", p.QtyTaker.String(),
		"price", price, "maker_filled", makerFilled, "taker_filled", takerFilled)
	x.emit(Event{Type: EventSettled, Settlement: s})
	return s, nil
}

// checkSide validates one side's proposed quantities against its order.
func checkSide(side string, o *Order, qty, deduct asset.Asset) error {
	if !qty.IsValid() || qty.Amount <= 0 {
		return fmt.Errorf("%s: %w: quantity %s", side, ErrInvalidAsset, qty)
	}
	if !deduct.IsValid() || deduct.Amount < 0 {
		return fmt.Errorf("%s: %w: deduction %s", side, ErrInvalidAsset, deduct)
	}
	if !qty.Symbol.Equal(o.Offered.Symbol) {
		return fmt.Errorf("%s: %w: quantity in %s, order offers %s",
			side, ErrCurrencyMismatch, qty.Symbol, o.Offered.Symbol)
	}
	if !deduct.Symbol.Equal(o.Requested.Symbol) {
		return fmt.Errorf("%s: %w: deduction in %s, order requests %s",
			side, ErrCurrencyMismatch, deduct.Symbol, o.Requested.Symbol)
	}
	if qty.Amount > o.Offered.Amount {
		return fmt.Errorf("%s: %w: quantity %d > offered %d",
			side, ErrAmountExceedsOrder, qty.Amount, o.Offered.Amount)
	}
	if deduct.Amount > o.Requested.Amount {
		return fmt.Errorf("%s: %w: deduction %d > requested %d",
			side, ErrAmountExceedsOrder, deduct.Amount, o.Requested.Amount)
	}
	return nil
}

// checkRemainingPrice enforces price preservation on a partial fill: the
// implied rate of the unfilled remainder must equal the order's original rate
// within tolerance, in both directions.
func checkRemainingPrice(side string, o *Order, qty, deduct int64) error {
	remRequested := o.Requested.Amount - deduct
	if remRequested <= 0 {
		return fmt.Errorf("%s: %w: deduction %d consumes entire requested amount %d on a partial fill",
			side, ErrPriceDrift, deduct, o.Requested.Amount)
	}
	oldPrice := o.Price()
	newPrice := float64(o.Offered.Amount-qty) / float64(remRequested)
	if math.Abs(newPrice-oldPrice) > priceTolerance {
		return fmt.Errorf("%s: %w: remaining price %g, order price %g",
			side, ErrPriceDrift, newPrice, oldPrice)
	}
	return nil
}

// sideChange builds the store effect for one side of a settlement.
func sideChange(o *Order, filled bool, qty, deduct int64) OrderChange {
	if filled {
		return OrderChange{Key: o.Key, Order: nil}
	}
	upd := *o
	upd.Offered.Amount -= qty
	upd.Requested.Amount -= deduct
	return OrderChange{Key: o.Key, Order: &upd}
}
