package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/pkg/asset"
)

// MaxMemoLen bounds order and settlement memos.
const MaxMemoLen = 256

// Order is a resting offer to trade Offered for Requested. The store owns the
// record once created: the settlement engine shrinks it (amount reduction
// only), Edit rewrites amounts/counter/expiry, Cancel and Retire delete it.
// Owner, Relayer, Key, and the offered asset's identity never change.
type Order struct {
	Key     uint64         `json:"key"`     // caller-supplied, unique among live orders
	Owner   common.Address `json:"owner"`   // sole authority for edit/cancel
	Relayer common.Address `json:"relayer"` // credited with Fee at settlement

	Offered   asset.Asset `json:"offered"`   // what the owner gives up
	Requested asset.Asset `json:"requested"` // what the owner wants in return
	Fee       asset.Asset `json:"fee"`       // owed to Relayer, in the exchange's fee currency

	Memo      string `json:"memo"`
	CreatedAt int64  `json:"createdAt"` // unix seconds
	ExpiresAt int64  `json:"expiresAt"` // unix seconds, advisory (see Retire)
}

// Price is the order's implicit limit price: offered per unit requested.
// Float is acceptable here because prices are only ever compared under the
// settlement tolerance; amounts themselves stay integer.
func (o *Order) Price() float64 {
	return float64(o.Offered.Amount) / float64(o.Requested.Amount)
}

// Validate checks the record-level invariants that must hold at creation and
// after every mutation. Registry and allowance checks live in the lifecycle
// operations; this is the pure structural part.
func (o *Order) Validate() error {
	if !o.Offered.IsValid() || o.Offered.Amount <= 0 {
		return fmt.Errorf("%w: offered %s", ErrInvalidAsset, o.Offered)
	}
	if !o.Requested.IsValid() || o.Requested.Amount <= 0 {
		return fmt.Errorf("%w: requested %s", ErrInvalidAsset, o.Requested)
	}
	if !o.Fee.IsValid() || o.Fee.Amount < 0 {
		return fmt.Errorf("%w: fee %s", ErrInvalidAsset, o.Fee)
	}
	if len(o.Memo) > MaxMemoLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrMemoTooLong, len(o.Memo), MaxMemoLen)
	}
	return nil
}
