package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/pkg/asset"
)

// The token ledger is an external collaborator: it owns balances, the currency
// registry, and the allowance table. The exchange core only reads allowances
// and currency stats and submits transfer batches; it never mutates ledger
// state directly.

var (
	// ErrUnknownCurrency is returned when a symbol has no registry entry.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrNoAllowance is returned when the owner never approved the spender
	// for the given currency.
	ErrNoAllowance = errors.New("no allowance")

	// ErrInsufficientAllowance is returned when a transfer exceeds the
	// spender's remaining approved cap.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrInsufficientBalance is returned when the sender's balance cannot
	// cover a transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// CurrencyInfo mirrors the registry row a token ledger keeps per currency.
type CurrencyInfo struct {
	Supply    asset.Asset    `json:"supply"`
	MaxSupply asset.Asset    `json:"maxSupply"`
	Issuer    common.Address `json:"issuer"`
}

// Transfer is one leg of a settlement: move Amount from From to To.
type Transfer struct {
	From   common.Address
	To     common.Address
	Amount asset.Asset
}

// TokenLedger is the read/transfer boundary the exchange core depends on.
//
// TransferBatch must be all-or-nothing: either every leg applies or none does.
// This is the explicit contract replacing a host chain's automatic rollback of
// inline actions — the core has no compensation path for half-applied batches.
// Each leg is executed as a transferFrom authorized by spender, so the ledger
// itself re-validates balance and allowance per leg.
type TokenLedger interface {
	// Allowance returns the remaining cap owner has approved spender to move
	// in the given currency. ErrNoAllowance if never approved.
	Allowance(owner, spender common.Address, sym asset.Symbol) (asset.Asset, error)

	// Currency returns the registry entry for a symbol. ErrUnknownCurrency if
	// the code is not registered; the returned supply symbol carries the
	// authoritative precision.
	Currency(sym asset.Symbol) (CurrencyInfo, error)

	// TransferBatch atomically applies every transfer, debiting each leg's
	// allowance for spender. Zero-amount legs are skipped.
	TransferBatch(spender common.Address, memo string, transfers ...Transfer) error
}
