package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoanStatus string

const (
	LoanActive     LoanStatus = "ACTIVE"
	LoanRepaid     LoanStatus = "REPAID"
	LoanLiquidated LoanStatus = "LIQUIDATED"
)

// Installment is one scheduled payment of a loan.
type Installment struct {
	DueAt     time.Time `json:"dueAt"`
	AmountIRR Money     `json:"amountIrr"`
	PaidIRR   Money     `json:"paidIrr"`
}

// Due returns what is left to pay on the installment.
func (i Installment) Due() Money { return i.AmountIRR.Sub(i.PaidIRR) }

// Loan is a collateralized loan. The collateral holding stays frozen while the loan is active.
type Loan struct {
	ID                  string        `json:"id"`
	CollateralAssetID   AssetID       `json:"collateralAssetId"`
	CollateralQuantity  Quantity      `json:"collateralQuantity"`
	PrincipalIRR        Money         `json:"principalIrr"`
	InterestIRR         Money         `json:"interestIrr"`
	LTV                 float64       `json:"ltv"`
	LiquidationPriceIRR Money         `json:"liquidationPriceIrr"`
	Installments        []Installment `json:"installments"`
	Status              LoanStatus    `json:"status"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// Outstanding returns principal plus interest not yet paid.
func (l Loan) Outstanding() Money {
	var total Money
	for _, i := range l.Installments {
		total = total.Add(i.Due())
	}
	return total
}

// Paid returns the total paid so far.
func (l Loan) Paid() Money {
	var total Money
	for _, i := range l.Installments {
		total = total.Add(i.PaidIRR)
	}
	return total
}

// NextDue returns the first installment that is not fully paid.
func (l Loan) NextDue() (Installment, bool) {
	for _, i := range l.Installments {
		if i.Due().IsPositive() {
			return i, true
		}
	}
	return Installment{}, false
}

func (l Loan) clone() Loan {
	l.Installments = append([]Installment(nil), l.Installments...)
	return l
}

// repay applies amount to installments in schedule order.
// The loan is REPAID once nothing is outstanding.
func (l Loan) repay(amount Money) Loan {
	l = l.clone()
	left := amount
	for i := range l.Installments {
		if !left.IsPositive() {
			break
		}
		pay := l.Installments[i].Due().Min(left)
		if !pay.IsPositive() {
			continue
		}
		l.Installments[i].PaidIRR = l.Installments[i].PaidIRR.Add(pay)
		left = left.Sub(pay)
	}
	if !l.Outstanding().IsPositive() {
		l.Status = LoanRepaid
	}
	return l
}

// schedule splits total into n equal installments over termDays. Installments
// are whole rials; the rounding remainder goes to the last one.
func schedule(total Money, n, termDays int, start time.Time) []Installment {
	each := Money{value: total.value.Div(decimal.NewFromInt(int64(n))).Floor()}
	step := time.Duration(termDays) * 24 * time.Hour / time.Duration(n)
	res := make([]Installment, n)
	var planned Money
	for i := range res {
		amount := each
		if i == n-1 {
			amount = total.Sub(planned)
		}
		res[i] = Installment{DueAt: start.Add(step * time.Duration(i+1)), AmountIRR: amount}
		planned = planned.Add(amount)
	}
	return res
}

// liquidationPrice is the collateral unit price at which the loan reaches the liquidation LTV.
func liquidationPrice(debt Money, collateral Quantity, liquidationLTV float64) Money {
	denom := collateral.value.Mul(decimal.NewFromFloat(liquidationLTV))
	if denom.IsZero() {
		return Money{}
	}
	return Money{value: debt.value.Div(denom)}
}

// activeDebt sums what is outstanding on active loans collateralized by id.
func activeDebt(loans []Loan, id AssetID) Money {
	var total Money
	for _, l := range loans {
		if l.Status == LoanActive && l.CollateralAssetID == id {
			total = total.Add(l.Outstanding())
		}
	}
	return total
}
