// Package schedule builds the installment plan for a disbursed loan.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/money"
)

var (
	// ErrNotDisbursed is returned when the loan is not in DISBURSED state.
	ErrNotDisbursed = errors.New("schedule requires a disbursed loan")
	// ErrNoDisbursementDate is returned when the loan has no disbursement date.
	ErrNoDisbursementDate = errors.New("loan has no disbursement date")
	// ErrScheduleActive is returned when an existing schedule already has
	// payments against it; regeneration would lose ledger linkage.
	ErrScheduleActive = errors.New("existing schedule is under active payment processing")
	// ErrInvalidTerm is returned for a non-positive term.
	ErrInvalidTerm = errors.New("loan term must be at least one month")
)

// Generator produces amortization schedules.
type Generator struct {
	log *logrus.Logger
}

// NewGenerator initializes a schedule generator.
func NewGenerator(log *logrus.Logger) *Generator {
	return &Generator{log: log}
}

// Generate replaces the loan's installment plan, one installment per month
// of term. The caller persists the result atomically so duplicate
// installment numbers are never observable.
func (g *Generator) Generate(loan *models.Loan, now time.Time) ([]*models.Installment, error) {
	if loan.Status != models.LoanDisbursed {
		return nil, ErrNotDisbursed
	}
	if loan.DisbursementDate == nil {
		return nil, ErrNoDisbursementDate
	}
	if loan.TermMonths < 1 {
		return nil, ErrInvalidTerm
	}
	for _, inst := range loan.Installments {
		if inst.PaidAmount.IsPositive() {
			return nil, ErrScheduleActive
		}
	}

	var installments []*models.Installment
	var err error
	switch loan.InterestMethod {
	case models.InterestReducingBalance:
		installments = g.reducingBalance(loan, now)
	case models.InterestFlat, "":
		installments = g.flat(loan, now)
	default:
		err = fmt.Errorf("unknown interest method %q", loan.InterestMethod)
	}
	if err != nil {
		return nil, err
	}

	loan.Installments = installments
	maturity := installments[len(installments)-1].DueDate
	loan.MaturityDate = &maturity

	g.log.Infof("Generated %d installments for loan %s (%s)",
		len(installments), loan.ApplicationNumber, loan.InterestMethod)
	return installments, nil
}

// flat splits principal and simple interest evenly across the term.
// total_interest = amount * rate/100 * term/12.
func (g *Generator) flat(loan *models.Loan, now time.Time) []*models.Installment {
	n := loan.TermMonths
	nDec := decimal.NewFromInt(int64(n))

	totalInterest := loan.Amount.
		Mul(money.Percent(loan.InterestRate)).
		Mul(nDec.Div(decimal.NewFromInt(12)))

	perPrincipal := money.Cents(loan.Amount.Div(nDec))
	perInterest := money.Cents(totalInterest.Div(nDec))

	installments := make([]*models.Installment, 0, n)
	for i := 1; i <= n; i++ {
		principal, interest := perPrincipal, perInterest
		if i == n {
			// Final installment absorbs rounding residue so principal
			// sums exactly to the loan amount.
			prev := decimal.NewFromInt(int64(n - 1))
			principal = loan.Amount.Sub(perPrincipal.Mul(prev))
			interest = money.Cents(totalInterest).Sub(perInterest.Mul(prev))
		}
		installments = append(installments, g.newInstallment(loan, i, principal, interest, now))
	}
	return installments
}

// reducingBalance charges each period's interest on the outstanding
// principal, with a fixed annuity payment.
func (g *Generator) reducingBalance(loan *models.Loan, now time.Time) []*models.Installment {
	n := loan.TermMonths
	rate := money.MonthlyRate(loan.InterestRate)
	if rate.IsZero() {
		// Zero-rate annuity degenerates to an even principal split.
		return g.flat(loan, now)
	}

	// payment = P * r * (1+r)^n / ((1+r)^n - 1)
	compound := decimal.NewFromInt(1).Add(rate).Pow(decimal.NewFromInt(int64(n)))
	payment := money.Cents(loan.Amount.Mul(rate).Mul(compound).Div(compound.Sub(decimal.NewFromInt(1))))

	installments := make([]*models.Installment, 0, n)
	balance := loan.Amount
	for i := 1; i <= n; i++ {
		interest := money.Cents(balance.Mul(rate))
		principal := payment.Sub(interest)
		if i == n {
			// Force the last installment to retire the balance exactly,
			// absorbing rounding drift from earlier periods.
			principal = balance
		}
		balance = balance.Sub(principal)
		installments = append(installments, g.newInstallment(loan, i, principal, interest, now))
	}
	return installments
}

func (g *Generator) newInstallment(loan *models.Loan, number int, principal, interest decimal.Decimal, now time.Time) *models.Installment {
	return &models.Installment{
		LoanID:          loan.ID,
		Number:          number,
		DueDate:         DueDate(*loan.DisbursementDate, loan.GraceMonths+number),
		PrincipalAmount: principal,
		InterestAmount:  interest,
		TotalAmount:     principal.Add(interest),
		PaidAmount:      decimal.Zero,
		Status:          models.InstallmentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// DueDate steps months months forward from start using calendar-month
// arithmetic, clamping the day to the target month's length (Jan 31 plus
// one month is Feb 28/29, not Mar 2). Fixed 30-day stepping would drift.
func DueDate(start time.Time, months int) time.Time {
	year := start.Year()
	month := int(start.Month()) + months
	year += (month - 1) / 12
	month = (month-1)%12 + 1

	day := start.Day()
	if last := daysIn(year, time.Month(month)); day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, start.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
