package asset

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Amounts are fixed-point int64: an Asset with Precision=4 and Amount=1000000
// represents 100.0000 units. All arithmetic stays in integer space; decimal is
// used only at the string boundary so no float ever touches a balance.

const (
	// MaxAmount bounds |Amount| so that sums of two valid amounts cannot
	// overflow int64.
	MaxAmount = (int64(1) << 62) - 1

	// MaxPrecision is the largest number of decimal places a symbol may declare.
	MaxPrecision = 18

	maxCodeLen = 7
)

// Symbol identifies a currency: an uppercase code plus its fixed decimal
// precision. Two symbols are the same currency only if BOTH match.
type Symbol struct {
	Code      string `json:"code"`      // e.g. "USD", 1-7 chars A-Z
	Precision uint8  `json:"precision"` // decimal places, e.g. 4
}

// NewSymbol builds a symbol without validating it; call IsValid before trusting
// caller-supplied input.
func NewSymbol(code string, precision uint8) Symbol {
	return Symbol{Code: code, Precision: precision}
}

// IsValid reports whether the code is 1-7 uppercase letters and the precision
// is within bounds.
func (s Symbol) IsValid() bool {
	if len(s.Code) == 0 || len(s.Code) > maxCodeLen {
		return false
	}
	for i := 0; i < len(s.Code); i++ {
		if s.Code[i] < 'A' || s.Code[i] > 'Z' {
			return false
		}
	}
	return s.Precision <= MaxPrecision
}

// Equal reports exact symbol identity (code and precision).
func (s Symbol) Equal(o Symbol) bool {
	return s.Code == o.Code && s.Precision == o.Precision
}

// SameCode reports whether two symbols name the same currency code, ignoring
// precision. Used for mismatch diagnostics only; value operations require Equal.
func (s Symbol) SameCode(o Symbol) bool {
	return s.Code == o.Code
}

func (s Symbol) String() string {
	return fmt.Sprintf("%d,%s", s.Precision, s.Code)
}

// ParseSymbol parses the "precision,CODE" form produced by Symbol.String.
func ParseSymbol(str string) (Symbol, error) {
	var prec uint8
	var code string
	if _, err := fmt.Sscanf(str, "%d,%s", &prec, &code); err != nil {
		return Symbol{}, fmt.Errorf("malformed symbol %q: %w", str, err)
	}
	sym := Symbol{Code: code, Precision: prec}
	if !sym.IsValid() {
		return Symbol{}, fmt.Errorf("invalid symbol %q", str)
	}
	return sym, nil
}

// Asset is a quantity of a single currency.
type Asset struct {
	Amount int64  `json:"amount"`
	Symbol Symbol `json:"symbol"`
}

// New builds an asset without validating; see IsValid.
func New(amount int64, sym Symbol) Asset {
	return Asset{Amount: amount, Symbol: sym}
}

// IsValid reports whether the symbol is well-formed and the amount within the
// representable range. Sign is not constrained here; operations impose their
// own sign rules.
func (a Asset) IsValid() bool {
	if !a.Symbol.IsValid() {
		return false
	}
	return a.Amount <= MaxAmount && a.Amount >= -MaxAmount
}

// Add returns a+b. Both assets must be valid and carry the same symbol.
func (a Asset) Add(b Asset) (Asset, error) {
	if !a.Symbol.Equal(b.Symbol) {
		return Asset{}, fmt.Errorf("symbol mismatch: %s vs %s", a.Symbol, b.Symbol)
	}
	out := Asset{Amount: a.Amount + b.Amount, Symbol: a.Symbol}
	if !out.IsValid() {
		return Asset{}, fmt.Errorf("amount overflow adding %d and %d %s", a.Amount, b.Amount, a.Symbol.Code)
	}
	return out, nil
}

// Sub returns a-b under the same rules as Add.
func (a Asset) Sub(b Asset) (Asset, error) {
	if !a.Symbol.Equal(b.Symbol) {
		return Asset{}, fmt.Errorf("symbol mismatch: %s vs %s", a.Symbol, b.Symbol)
	}
	out := Asset{Amount: a.Amount - b.Amount, Symbol: a.Symbol}
	if !out.IsValid() {
		return Asset{}, fmt.Errorf("amount overflow subtracting %d from %d %s", b.Amount, a.Amount, a.Symbol.Code)
	}
	return out, nil
}

// Decimal returns the amount as an exact decimal value, e.g. Amount=1000000
// Precision=4 -> 100.0000.
func (a Asset) Decimal() decimal.Decimal {
	return decimal.New(a.Amount, -int32(a.Symbol.Precision))
}

// String renders "100.0000 USD".
func (a Asset) String() string {
	return fmt.Sprintf("%s %s", a.Decimal().StringFixed(int32(a.Symbol.Precision)), a.Symbol.Code)
}

// Parse reads the "100.0000 USD" form. Precision is inferred from the number
// of decimal places, so "100.00 USD" and "100.0000 USD" are different symbols.
func Parse(str string) (Asset, error) {
	parts := strings.Fields(strings.TrimSpace(str))
	if len(parts) != 2 {
		return Asset{}, fmt.Errorf("malformed asset %q: want \"<amount> <CODE>\"", str)
	}
	amountStr, code := parts[0], parts[1]

	var prec uint8
	if i := strings.IndexByte(amountStr, '.'); i >= 0 {
		frac := len(amountStr) - i - 1
		if frac > MaxPrecision {
			return Asset{}, fmt.Errorf("precision %d exceeds max %d in %q", frac, MaxPrecision, str)
		}
		prec = uint8(frac)
	}

	d, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Asset{}, fmt.Errorf("malformed amount in %q: %w", str, err)
	}
	scaled := d.Shift(int32(prec))
	if !scaled.IsInteger() {
		return Asset{}, fmt.Errorf("amount %q does not fit precision %d", amountStr, prec)
	}

	a := Asset{Amount: scaled.IntPart(), Symbol: Symbol{Code: code, Precision: prec}}
	if !a.IsValid() {
		return Asset{}, fmt.Errorf("invalid asset %q", str)
	}
	return a, nil
}
