// Package risk scores borrower risk and detects alert-worthy patterns.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/money"
)

// Factor keys in the assessment breakdown.
const (
	FactorPaymentHistory = "payment_history"
	FactorLoanHistory    = "loan_history"
	FactorLoanAmount     = "loan_amount"
	FactorActiveLoans    = "active_loans"
)

// Factor weights. Payment history dominates; loan history second.
var weights = map[string]decimal.Decimal{
	FactorPaymentHistory: decimal.NewFromFloat(0.40),
	FactorLoanHistory:    decimal.NewFromFloat(0.30),
	FactorLoanAmount:     decimal.NewFromFloat(0.15),
	FactorActiveLoans:    decimal.NewFromFloat(0.15),
}

var (
	neutral  = decimal.NewFromInt(50)
	maxScore = decimal.NewFromInt(100)
)

// Assessment is the outcome of scoring one customer.
type Assessment struct {
	Score   decimal.Decimal            `json:"score"` // 0-100 composite
	Tier    models.RiskTier            `json:"tier"`
	Factors map[string]decimal.Decimal `json:"factors"`
}

// Engine computes composite risk scores from customer history.
type Engine struct {
	history History
	log     *logrus.Logger

	// Clock supplies the current time; overridable in tests.
	Clock func() time.Time
}

// NewEngine initializes a risk scoring engine.
func NewEngine(history History, log *logrus.Logger) *Engine {
	return &Engine{history: history, log: log, Clock: time.Now}
}

// Score computes the 0-100 composite for a customer, optionally weighing a
// candidate loan amount. Customers with no history score neutral on the
// history factors rather than erroring.
func (e *Engine) Score(ctx context.Context, customerID int64, candidateAmount *decimal.Decimal) (*Assessment, error) {
	loans, err := e.history.LoansByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer loans: %w", err)
	}

	factors := map[string]decimal.Decimal{}
	factors[FactorPaymentHistory], err = e.paymentHistory(ctx, loans)
	if err != nil {
		return nil, err
	}
	factors[FactorLoanHistory] = loanHistory(loans)
	factors[FactorLoanAmount] = amountRisk(loans, candidateAmount)
	factors[FactorActiveLoans], err = e.activeLoans(ctx, loans)
	if err != nil {
		return nil, err
	}

	composite := decimal.Zero
	for key, weight := range weights {
		composite = composite.Add(factors[key].Mul(weight))
	}
	composite = money.Cents(composite)

	e.log.Debugf("Scored customer %d: %s", customerID, composite.StringFixed(2))
	return &Assessment{
		Score:   composite,
		Tier:    models.TierForScore(composite),
		Factors: factors,
	}, nil
}

// paymentHistory scores installment punctuality over closed and defaulted
// loans: 100 * (1 - (late + 2*defaulted) / total), floored at zero.
func (e *Engine) paymentHistory(ctx context.Context, loans []*models.Loan) (decimal.Decimal, error) {
	total, late, defaulted := 0, 0, 0
	for _, loan := range loans {
		if loan.Status != models.LoanClosed && loan.Status != models.LoanDefaulted {
			continue
		}
		installments, err := e.history.InstallmentsForLoan(ctx, loan.ID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load installments for loan %d: %w", loan.ID, err)
		}
		for _, inst := range installments {
			total++
			switch {
			case inst.Status == models.InstallmentPaid && inst.PaidDate != nil && inst.PaidDate.After(inst.DueDate):
				late++
			case loan.Status == models.LoanDefaulted && inst.Status != models.InstallmentPaid:
				defaulted++
			}
		}
	}
	if total == 0 {
		return neutral, nil
	}

	badRatio := decimal.NewFromInt(int64(late + 2*defaulted)).Div(decimal.NewFromInt(int64(total)))
	score := maxScore.Mul(decimal.NewFromInt(1).Sub(badRatio))
	return clampScore(score), nil
}

// loanHistory scores completed versus defaulted loans, with a bonus for a
// consistent clean record.
func loanHistory(loans []*models.Loan) decimal.Decimal {
	completed, defaulted := 0, 0
	for _, loan := range loans {
		switch loan.Status {
		case models.LoanClosed:
			completed++
		case models.LoanDefaulted:
			defaulted++
		}
	}
	total := len(loans)
	if total == 0 {
		return neutral
	}

	totalDec := decimal.NewFromInt(int64(total))
	score := maxScore.Mul(decimal.NewFromInt(int64(completed))).Div(totalDec).
		Sub(neutral.Mul(decimal.NewFromInt(int64(defaulted))).Div(totalDec))
	if completed >= 3 && defaulted == 0 {
		score = score.Add(decimal.NewFromInt(10))
	}
	return clampScore(score)
}

// amountRisk compares the candidate amount against the customer's largest
// completed loan. First-time borrowers and scoring without a candidate
// amount are neutral.
func amountRisk(loans []*models.Loan, candidateAmount *decimal.Decimal) decimal.Decimal {
	if candidateAmount == nil {
		return neutral
	}
	maxCompleted := decimal.Zero
	for _, loan := range loans {
		if loan.Status == models.LoanClosed && loan.Amount.GreaterThan(maxCompleted) {
			maxCompleted = loan.Amount
		}
	}
	if !maxCompleted.IsPositive() {
		return neutral
	}

	ratio := candidateAmount.Div(maxCompleted)
	switch {
	case ratio.LessThanOrEqual(decimal.NewFromInt(1)):
		return decimal.NewFromInt(100)
	case ratio.LessThanOrEqual(decimal.NewFromFloat(1.5)):
		return decimal.NewFromInt(80)
	case ratio.LessThanOrEqual(decimal.NewFromInt(2)):
		return decimal.NewFromInt(60)
	case ratio.LessThanOrEqual(decimal.NewFromInt(3)):
		return decimal.NewFromInt(40)
	default:
		return decimal.NewFromInt(20)
	}
}

// activeLoans scores concurrent exposure: the count of disbursed loans sets
// the base, and every currently-overdue installment among them costs 15
// points.
func (e *Engine) activeLoans(ctx context.Context, loans []*models.Loan) (decimal.Decimal, error) {
	now := e.Clock()
	activeCount := 0
	overdueInstallments := 0
	for _, loan := range loans {
		if loan.Status != models.LoanDisbursed {
			continue
		}
		activeCount++
		installments, err := e.history.InstallmentsForLoan(ctx, loan.ID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load installments for loan %d: %w", loan.ID, err)
		}
		for _, inst := range installments {
			if inst.IsOverdue(now) {
				overdueInstallments++
			}
		}
	}

	var score decimal.Decimal
	switch {
	case activeCount == 0:
		score = decimal.NewFromInt(100)
	case activeCount == 1:
		score = decimal.NewFromInt(75)
	case activeCount == 2:
		score = decimal.NewFromInt(50)
	default:
		score = decimal.NewFromInt(25)
	}
	score = score.Sub(decimal.NewFromInt(int64(overdueInstallments * 15)))
	return clampScore(score), nil
}

func clampScore(score decimal.Decimal) decimal.Decimal {
	if score.IsNegative() {
		return decimal.Zero
	}
	if score.GreaterThan(maxScore) {
		return maxScore
	}
	return score
}
