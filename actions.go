package portfolio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blumarkets/portfolio/allocation"
)

// Kind is a typed string identifying an action.
type Kind string

// Action kinds. LIQUIDATION is recorded by the system only and cannot be drafted.
const (
	KindAddFunds    Kind = "ADD_FUNDS"
	KindTrade       Kind = "TRADE"
	KindProtect     Kind = "PROTECT"
	KindBorrow      Kind = "BORROW"
	KindRepay       Kind = "REPAY"
	KindRebalance   Kind = "REBALANCE"
	KindLiquidation Kind = "LIQUIDATION"
)

// Kinds lists the action kinds a user can draft.
func Kinds() []Kind {
	return []Kind{KindAddFunds, KindTrade, KindProtect, KindBorrow, KindRepay, KindRebalance}
}

// ParseKind converts a case-insensitive kind name such as "add_funds" or "trade".
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Field names a draft field that can be set from text.
type Field string

const (
	FieldAmount       Field = "amount"
	FieldSide         Field = "side"
	FieldAsset        Field = "asset"
	FieldQuantity     Field = "quantity"
	FieldDuration     Field = "duration"
	FieldNotional     Field = "notional"
	FieldInstallments Field = "installments"
	FieldTermDays     Field = "term"
	FieldLoan         Field = "loan"
	FieldMode         Field = "mode"
	FieldStrategy     Field = "strategy"
)

// Action is one of the closed set of portfolio actions.
//
// The set is sealed: only the types of this package implement it.
type Action interface {
	Kind() Kind
	// missing returns the required fields that are still empty.
	missing() []Field
	// with returns a copy of the action with one field set from text.
	with(f Field, value string) (Action, error)
}

// Side is the direction of a trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// AddFunds deposits cash.
type AddFunds struct {
	AmountIRR Money `json:"amountIrr"`
}

// Trade buys an asset for an IRR amount, or sells an amount or a quantity of it.
// A SELL with a quantity ignores the amount.
type Trade struct {
	Side      Side     `json:"side"`
	AssetID   AssetID  `json:"assetId"`
	AmountIRR Money    `json:"amountIrr"`
	Quantity  Quantity `json:"quantity"`
}

// Protect buys downside protection on a holding for a number of days.
// Notional defaults to the holding value and the premium comes from the quote.
type Protect struct {
	AssetID      AssetID `json:"assetId"`
	DurationDays int     `json:"durationDays"`
	NotionalIRR  Money   `json:"notionalIrr"`
	PremiumIRR   Money   `json:"premiumIrr"`
}

// Borrow takes a loan against a whole holding as collateral.
// Interest and the LTV limit come from the quote.
type Borrow struct {
	AssetID      AssetID `json:"assetId"`
	AmountIRR    Money   `json:"amountIrr"`
	Installments int     `json:"installments"`
	TermDays     int     `json:"termDays"`
	InterestIRR  Money   `json:"interestIrr"`
	MaxLTV       float64 `json:"maxLtv"`
}

// Repay pays back part or all of a loan.
type Repay struct {
	LoanID    string `json:"loanId"`
	AmountIRR Money  `json:"amountIrr"`
}

// Rebalance moves the portfolio back toward its target allocation. Trades are
// filled by the planner at preview time and replayed at commit.
type Rebalance struct {
	Mode     RebalanceMode       `json:"mode"`
	Strategy allocation.Strategy `json:"strategy"`
	Trades   []PlannedTrade      `json:"trades,omitempty"`
}

// Liquidation records the forced sale of loan collateral.
type Liquidation struct {
	LoanID     string   `json:"loanId"`
	AssetID    AssetID  `json:"assetId"`
	Quantity   Quantity `json:"quantity"`
	SettledIRR Money    `json:"settledIrr"`
}

func (AddFunds) Kind() Kind    { return KindAddFunds }
func (Trade) Kind() Kind       { return KindTrade }
func (Protect) Kind() Kind     { return KindProtect }
func (Borrow) Kind() Kind      { return KindBorrow }
func (Repay) Kind() Kind       { return KindRepay }
func (Rebalance) Kind() Kind   { return KindRebalance }
func (Liquidation) Kind() Kind { return KindLiquidation }

// newDraft returns an empty action of kind k.
func newDraft(k Kind) (Action, error) {
	switch k {
	case KindAddFunds:
		return AddFunds{}, nil
	case KindTrade:
		return Trade{}, nil
	case KindProtect:
		return Protect{}, nil
	case KindBorrow:
		return Borrow{}, nil
	case KindRepay:
		return Repay{}, nil
	case KindRebalance:
		return Rebalance{}, nil
	default:
		return nil, &ContractError{Kind: k, Err: ErrUnknownKind}
	}
}

// checkComplete returns a ContractError for the first missing required field.
func checkComplete(a Action) error {
	if m := a.missing(); len(m) > 0 {
		return &ContractError{Kind: a.Kind(), Field: m[0], Err: ErrMissingField}
	}
	return nil
}

func (a AddFunds) missing() []Field {
	if a.AmountIRR.IsZero() {
		return []Field{FieldAmount}
	}
	return nil
}

func (a Trade) missing() []Field {
	var m []Field
	if a.Side == "" {
		m = append(m, FieldSide)
	}
	if a.AssetID == "" {
		m = append(m, FieldAsset)
	}
	if a.AmountIRR.IsZero() && (a.Side != Sell || a.Quantity.IsZero()) {
		m = append(m, FieldAmount)
	}
	return m
}

func (a Protect) missing() []Field {
	if a.AssetID == "" {
		return []Field{FieldAsset}
	}
	return nil
}

func (a Borrow) missing() []Field {
	var m []Field
	if a.AssetID == "" {
		m = append(m, FieldAsset)
	}
	if a.AmountIRR.IsZero() {
		m = append(m, FieldAmount)
	}
	return m
}

func (a Repay) missing() []Field {
	var m []Field
	if a.LoanID == "" {
		m = append(m, FieldLoan)
	}
	if a.AmountIRR.IsZero() {
		m = append(m, FieldAmount)
	}
	return m
}

func (a Rebalance) missing() []Field {
	if a.Mode == "" {
		return []Field{FieldMode}
	}
	return nil
}

func (a Liquidation) missing() []Field { return nil }

func (a AddFunds) with(f Field, v string) (Action, error) {
	var err error
	switch f {
	case FieldAmount:
		a.AmountIRR, err = parseMoneyField(a, f, v)
	default:
		err = unknownField(a, f)
	}
	return a, err
}

func (a Trade) with(f Field, v string) (Action, error) {
	var err error
	switch f {
	case FieldSide:
		switch s := Side(strings.ToUpper(strings.TrimSpace(v))); s {
		case Buy, Sell:
			a.Side = s
		default:
			err = invalidValue(a, f, v)
		}
	case FieldAsset:
		a.AssetID = normalizeAsset(v)
	case FieldAmount:
		a.AmountIRR, err = parseMoneyField(a, f, v)
	case FieldQuantity:
		a.Quantity, err = ParseQuantity(strings.TrimSpace(v))
		if err != nil {
			err = invalidValue(a, f, v)
		}
	default:
		err = unknownField(a, f)
	}
	return a, err
}

func (a Protect) with(f Field, v string) (Action, error) {
	var err error
	switch f {
	case FieldAsset:
		a.AssetID = normalizeAsset(v)
	case FieldDuration:
		a.DurationDays, err = parseIntField(a, f, v)
	case FieldNotional:
		a.NotionalIRR, err = parseMoneyField(a, f, v)
	default:
		err = unknownField(a, f)
	}
	return a, err
}

func (a Borrow) with(f Field, v string) (Action, error) {
	var err error
	switch f {
	case FieldAsset:
		a.AssetID = normalizeAsset(v)
	case FieldAmount:
		a.AmountIRR, err = parseMoneyField(a, f, v)
	case FieldInstallments:
		a.Installments, err = parseIntField(a, f, v)
	case FieldTermDays:
		a.TermDays, err = parseIntField(a, f, v)
	default:
		err = unknownField(a, f)
	}
	return a, err
}

func (a Repay) with(f Field, v string) (Action, error) {
	var err error
	switch f {
	case FieldLoan:
		a.LoanID = strings.TrimSpace(v)
	case FieldAmount:
		a.AmountIRR, err = parseMoneyField(a, f, v)
	default:
		err = unknownField(a, f)
	}
	return a, err
}

func (a Rebalance) with(f Field, v string) (Action, error) {
	switch f {
	case FieldMode:
		a.Mode = RebalanceMode(strings.ToUpper(strings.TrimSpace(v)))
	case FieldStrategy:
		a.Strategy = allocation.Strategy(strings.ToUpper(strings.TrimSpace(v)))
	default:
		return a, unknownField(a, f)
	}
	a.Trades = nil
	return a, nil
}

func (a Liquidation) with(f Field, v string) (Action, error) {
	return a, unknownField(a, f)
}

func normalizeAsset(v string) AssetID {
	return AssetID(strings.ToUpper(strings.TrimSpace(v)))
}

func parseMoneyField(a Action, f Field, v string) (Money, error) {
	m, err := ParseMoney(strings.TrimSpace(v))
	if err != nil {
		return Money{}, invalidValue(a, f, v)
	}
	return m, nil
}

func parseIntField(a Action, f Field, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, invalidValue(a, f, v)
	}
	return n, nil
}

func unknownField(a Action, f Field) error {
	return &ContractError{Kind: a.Kind(), Field: f, Err: ErrUnknownField}
}

func invalidValue(a Action, f Field, v string) error {
	return &ContractError{Kind: a.Kind(), Field: f, Err: fmt.Errorf("%w %q", ErrInvalidValue, v)}
}

// cloneAction copies the slices an action may hold.
func cloneAction(a Action) Action {
	if r, ok := a.(Rebalance); ok {
		r.Trades = append([]PlannedTrade(nil), r.Trades...)
		return r
	}
	return a
}
