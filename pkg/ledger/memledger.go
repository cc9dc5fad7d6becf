package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/transledger/ibex/pkg/asset"
)

// MemLedger is an in-process TokenLedger used by the dev node and the test
// suite. It keeps balances, allowances, and the currency registry in memory
// behind an RWMutex. Production deployments replace it with an adapter to the
// real token ledger; the exchange core only sees the TokenLedger interface.
type MemLedger struct {
	mu         sync.RWMutex
	currencies map[string]CurrencyInfo                              // code -> registry row
	balances   map[common.Address]map[string]int64                  // owner -> code -> amount
	allowances map[common.Address]map[common.Address]map[string]int64 // owner -> spender -> code -> cap
}

// NewMemLedger creates an empty ledger with no registered currencies.
func NewMemLedger() *MemLedger {
	return &MemLedger{
		currencies: make(map[string]CurrencyInfo),
		balances:   make(map[common.Address]map[string]int64),
		allowances: make(map[common.Address]map[common.Address]map[string]int64),
	}
}

// RegisterCurrency adds a currency to the registry. The supply symbol's
// precision becomes authoritative for the code.
func (l *MemLedger) RegisterCurrency(issuer common.Address, maxSupply asset.Asset) error {
	if !maxSupply.IsValid() || maxSupply.Amount <= 0 {
		return fmt.Errorf("invalid max supply %s", maxSupply)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	code := maxSupply.Symbol.Code
	if _, exists := l.currencies[code]; exists {
		return fmt.Errorf("currency %s already registered", code)
	}
	l.currencies[code] = CurrencyInfo{
		Supply:    asset.New(0, maxSupply.Symbol),
		MaxSupply: maxSupply,
		Issuer:    issuer,
	}
	return nil
}

// Issue mints new tokens to an account, growing the recorded supply.
func (l *MemLedger) Issue(to common.Address, quantity asset.Asset) error {
	if !quantity.IsValid() || quantity.Amount <= 0 {
		return fmt.Errorf("invalid issue quantity %s", quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	code := quantity.Symbol.Code
	info, ok := l.currencies[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	if !info.Supply.Symbol.Equal(quantity.Symbol) {
		return fmt.Errorf("symbol precision mismatch: %s vs %s", quantity.Symbol, info.Supply.Symbol)
	}
	if info.Supply.Amount+quantity.Amount > info.MaxSupply.Amount {
		return fmt.Errorf("issue exceeds max supply of %s", code)
	}

	info.Supply.Amount += quantity.Amount
	l.currencies[code] = info
	l.credit(to, code, quantity.Amount)
	return nil
}

// Approve sets (not adds to) the cap spender may move out of owner's balance.
func (l *MemLedger) Approve(owner, spender common.Address, cap asset.Asset) error {
	if !cap.IsValid() || cap.Amount < 0 {
		return fmt.Errorf("invalid allowance %s", cap)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.currencies[cap.Symbol.Code]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, cap.Symbol.Code)
	}
	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]map[string]int64)
		l.allowances[owner] = spenders
	}
	caps, ok := spenders[spender]
	if !ok {
		caps = make(map[string]int64)
		spenders[spender] = caps
	}
	caps[cap.Symbol.Code] = cap.Amount
	return nil
}

// Allowance implements TokenLedger.
func (l *MemLedger) Allowance(owner, spender common.Address, sym asset.Symbol) (asset.Asset, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.currencies[sym.Code]
	if !ok {
		return asset.Asset{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, sym.Code)
	}
	cap, ok := l.allowances[owner][spender][sym.Code]
	if !ok {
		return asset.Asset{}, fmt.Errorf("%w: %s has not approved %s for %s",
			ErrNoAllowance, owner.Hex(), spender.Hex(), sym.Code)
	}
	return asset.New(cap, info.Supply.Symbol), nil
}

// Currency implements TokenLedger.
func (l *MemLedger) Currency(sym asset.Symbol) (CurrencyInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.currencies[sym.Code]
	if !ok {
		return CurrencyInfo{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, sym.Code)
	}
	return info, nil
}

// Balance returns the current balance of owner in the given currency.
func (l *MemLedger) Balance(owner common.Address, sym asset.Symbol) asset.Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return asset.New(l.balances[owner][sym.Code], sym)
}

// TransferBatch implements TokenLedger. Two phases under one lock: validate
// every leg against balances and allowances, then apply. A failed leg in the
// first phase leaves the ledger untouched.
func (l *MemLedger) TransferBatch(spender common.Address, memo string, transfers ...Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Phase 1: validate all legs against a working copy of the deltas, so
	// leg N may spend what leg N-1 delivered within the same batch.
	working := make(map[common.Address]map[string]int64)
	avail := func(addr common.Address, code string) int64 {
		if d, ok := working[addr][code]; ok {
			return l.balances[addr][code] + d
		}
		return l.balances[addr][code]
	}
	adjust := func(addr common.Address, code string, delta int64) {
		if working[addr] == nil {
			working[addr] = make(map[string]int64)
		}
		working[addr][code] += delta
	}

	// Staged allowance spend, keyed by owner then code, so two legs drawing on
	// the same cap are checked against their combined amount.
	allowanceSpend := make(map[common.Address]map[string]int64)

	for _, tr := range transfers {
		if tr.Amount.Amount == 0 {
			continue
		}
		if !tr.Amount.IsValid() || tr.Amount.Amount < 0 {
			return fmt.Errorf("invalid transfer quantity %s", tr.Amount)
		}
		code := tr.Amount.Symbol.Code
		info, ok := l.currencies[code]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		if !info.Supply.Symbol.Equal(tr.Amount.Symbol) {
			return fmt.Errorf("symbol precision mismatch: %s vs %s", tr.Amount.Symbol, info.Supply.Symbol)
		}
		if avail(tr.From, code) < tr.Amount.Amount {
			return fmt.Errorf("%w: %s has %d, needs %d %s", ErrInsufficientBalance,
				tr.From.Hex(), avail(tr.From, code), tr.Amount.Amount, code)
		}
		if tr.From != spender {
			cap, ok := l.allowances[tr.From][spender][code]
			if !ok {
				return fmt.Errorf("%w: %s has not approved %s for %s",
					ErrNoAllowance, tr.From.Hex(), spender.Hex(), code)
			}
			spent := allowanceSpend[tr.From][code]
			if cap-spent < tr.Amount.Amount {
				return fmt.Errorf("%w: cap %d < %d %s", ErrInsufficientAllowance,
					cap-spent, tr.Amount.Amount, code)
			}
			if allowanceSpend[tr.From] == nil {
				allowanceSpend[tr.From] = make(map[string]int64)
			}
			allowanceSpend[tr.From][code] += tr.Amount.Amount
		}
		adjust(tr.From, code, -tr.Amount.Amount)
		adjust(tr.To, code, tr.Amount.Amount)
	}

	// Phase 2: every leg validated; apply staged deltas and debit caps.
	for addr, codes := range working {
		for code, delta := range codes {
			l.credit(addr, code, delta)
		}
	}
	for owner, codes := range allowanceSpend {
		for code, amt := range codes {
			l.allowances[owner][spender][code] -= amt
		}
	}
	return nil
}

// credit adjusts a balance entry, creating maps as needed. Caller holds the lock.
func (l *MemLedger) credit(addr common.Address, code string, delta int64) {
	bals, ok := l.balances[addr]
	if !ok {
		bals = make(map[string]int64)
		l.balances[addr] = bals
	}
	bals[code] += delta
}
