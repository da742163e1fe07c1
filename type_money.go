package portfolio

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// IRR is the only currency the engine holds balances in.
const IRR = "IRR"

// Money is an amount of Iranian rial.
//
// Values are kept exact; nothing is rounded unless a caller asks for it with
// Floor. The zero value is 0 IRR.
type Money struct {
	value decimal.Decimal // in rial
}

// M builds an IRR amount from any numeric value.
func M[T float32 | float64 | int | int32 | int64 | uint | uint32 | uint64 | decimal.Decimal](value T) Money {
	return Money{value: newDecimal(value)}
}

// ParseMoney parses a plain decimal string such as "2000000" or "1500.5".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{value: d}, nil
}

// currency returns the IRR currency definition.
func (m Money) currency() money.Currency {
	// to get a never nil currency I need to call the Money constructor
	return *money.New(0, IRR).Currency()
}

// String returns the amount formatted with the IRR grapheme and thousand separators.
func (m Money) String() string {
	cur := m.currency()
	dec := m.value.Shift(int32(cur.Fraction))
	return cur.Formatter().Format(dec.IntPart())
}

// SignedString returns the string representation of the money value with a sign.
// 0 is represented as a "-"
func (m Money) SignedString() string {
	if m.value.IsZero() {
		return "-"
	}
	if m.value.IsPositive() {
		return "+" + m.String()
	}
	return m.String()
}

func (m Money) Decimal() decimal.Decimal        { return m.value }
func (m Money) Equal(n Money) bool              { return m.value.Equal(n.value) }
func (m Money) Cmp(n Money) int                 { return m.value.Cmp(n.value) }
func (m Money) IsZero() bool                    { return m.value.IsZero() }
func (m Money) IsPositive() bool                { return m.value.IsPositive() }
func (m Money) IsNegative() bool                { return m.value.IsNegative() }
func (m Money) LessThan(amount Money) bool      { return m.value.LessThan(amount.value) }
func (m Money) LessThanOrEqual(n Money) bool    { return m.value.LessThanOrEqual(n.value) }
func (m Money) GreaterThan(n Money) bool        { return m.value.GreaterThan(n.value) }
func (m Money) GreaterThanOrEqual(n Money) bool { return m.value.GreaterThanOrEqual(n.value) }
func (m Money) Neg() Money                      { return Money{value: m.value.Neg()} }
func (m Money) Add(n Money) Money               { return Money{value: m.value.Add(n.value)} }
func (m Money) Sub(n Money) Money               { return Money{value: m.value.Sub(n.value)} }
func (m Money) Mul(n Quantity) Money            { return Money{value: m.value.Mul(n.value)} }
func (m Money) MulFloat(f float64) Money        { return Money{value: m.value.Mul(decimal.NewFromFloat(f))} }
func (m Money) DivPrice(price Money) Quantity   { return Quantity{value: m.value.Div(price.value)} }
func (m Money) Floor() Money                    { return Money{value: m.value.Floor()} }
func (m Money) InexactFloat64() float64         { return m.value.InexactFloat64() }
func (m Money) Ratio(total Money) float64       { return m.value.Div(total.value).InexactFloat64() }
func (m Money) Abs() Money                      { return Money{value: m.value.Abs()} }
func (m Money) Max(n Money) Money               { return Money{value: decimal.Max(m.value, n.value)} }
func (m Money) Min(n Money) Money               { return Money{value: decimal.Min(m.value, n.value)} }

// SumMoney adds up amounts.
func SumMoney(amounts ...Money) Money {
	var total Money
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// MarshalJSON writes the amount as a bare JSON number with all its digits.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.value.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.value.UnmarshalJSON(b)
}
