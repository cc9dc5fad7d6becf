package exchange

import "errors"

// Every operation either fully applies or returns one of these (possibly
// wrapped with context); there is no partial mutation on error. Ledger-side
// failures (allowance, balance, unknown currency) propagate verbatim from
// pkg/ledger so callers can errors.Is against either package.

var (
	// ErrUnauthorized is returned when the caller is not the order's owner.
	ErrUnauthorized = errors.New("caller is not the order owner")

	// ErrInvalidAsset is returned for a malformed symbol, out-of-range amount,
	// or a non-positive offered/requested quantity.
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrCurrencyMismatch is returned when an asset's symbol does not match
	// what the operation requires (registry precision, fee currency, or an
	// order's existing legs).
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInsufficientAllowance is returned when the owner's approved cap is
	// below the amount an order would commit.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrMemoTooLong is returned when a memo exceeds MaxMemoLen bytes.
	ErrMemoTooLong = errors.New("memo too long")

	// ErrDuplicateKey is returned when an order key already exists.
	ErrDuplicateKey = errors.New("order key already exists")

	// ErrNotFound is returned when no order exists under a key.
	ErrNotFound = errors.New("order not found")

	// ErrNotExpired is returned by Retire before the order's expiry.
	ErrNotExpired = errors.New("order has not expired")

	// ErrAmountExceedsOrder is returned when a settlement quantity is larger
	// than the order's remaining offered amount.
	ErrAmountExceedsOrder = errors.New("amount exceeds order balance")

	// ErrPriceBelowAsk is returned when the realized settlement rate clears
	// below the maker's limit price.
	ErrPriceBelowAsk = errors.New("settlement price below ask")

	// ErrPriceDrift is returned when a partial fill would change the implied
	// rate of an order's remaining portion beyond tolerance.
	ErrPriceDrift = errors.New("remaining price drifts from order price")
)
