package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

type fakeHistory struct {
	loans        []*models.Loan
	installments map[int64][]*models.Installment
	recentCount  int
}

func (h *fakeHistory) LoansByCustomer(ctx context.Context, customerID int64) ([]*models.Loan, error) {
	return h.loans, nil
}

func (h *fakeHistory) InstallmentsForLoan(ctx context.Context, loanID int64) ([]*models.Installment, error) {
	return h.installments[loanID], nil
}

func (h *fakeHistory) RecentApplicationCount(ctx context.Context, customerID int64, since time.Time, excludeApplicationID int64) (int, error) {
	return h.recentCount, nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testClock() time.Time {
	return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
}

func newTestEngine(history *fakeHistory) *Engine {
	engine := NewEngine(history, testLogger())
	engine.Clock = testClock
	return engine
}

func paidInstallment(loanID int64, due time.Time, daysLate int) *models.Installment {
	paid := due.AddDate(0, 0, daysLate)
	return &models.Installment{
		LoanID:      loanID,
		DueDate:     due,
		TotalAmount: decimal.RequireFromString("1000"),
		PaidAmount:  decimal.RequireFromString("1000"),
		Status:      models.InstallmentPaid,
		PaidDate:    &paid,
	}
}

func TestScoreFirstTimeBorrower(t *testing.T) {
	engine := newTestEngine(&fakeHistory{})
	amount := decimal.RequireFromString("50000")

	assessment, err := engine.Score(context.Background(), 1, &amount)
	require.NoError(t, err)

	// Neutral history factors plus a perfect active-loans factor:
	// 0.40*50 + 0.30*50 + 0.15*50 + 0.15*100 = 57.5.
	assert.True(t, assessment.Score.Equal(decimal.RequireFromString("57.5")), "score %s", assessment.Score)
	assert.Equal(t, models.TierMedium, assessment.Tier)
	assert.True(t, assessment.Factors[FactorPaymentHistory].Equal(decimal.RequireFromString("50")))
	assert.True(t, assessment.Factors[FactorActiveLoans].Equal(decimal.RequireFromString("100")))
}

func TestScorePerfectHistory(t *testing.T) {
	due := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	history := &fakeHistory{installments: map[int64][]*models.Installment{}}
	for id := int64(1); id <= 3; id++ {
		history.loans = append(history.loans, &models.Loan{
			ID: id, Status: models.LoanClosed, Amount: decimal.RequireFromString("10000"),
		})
		history.installments[id] = []*models.Installment{
			paidInstallment(id, due, 0),
			paidInstallment(id, due.AddDate(0, 1, 0), -2),
		}
	}
	engine := newTestEngine(history)
	amount := decimal.RequireFromString("10000")

	assessment, err := engine.Score(context.Background(), 1, &amount)
	require.NoError(t, err)
	assert.True(t, assessment.Score.Equal(decimal.RequireFromString("100")), "score %s", assessment.Score)
	assert.Equal(t, models.TierLow, assessment.Tier)
}

func TestScoreDefaultedHistory(t *testing.T) {
	history := &fakeHistory{
		loans: []*models.Loan{
			{ID: 1, Status: models.LoanDefaulted, Amount: decimal.RequireFromString("10000")},
		},
		installments: map[int64][]*models.Installment{
			1: {
				{LoanID: 1, Status: models.InstallmentOverdue, TotalAmount: decimal.RequireFromString("1000")},
				{LoanID: 1, Status: models.InstallmentOverdue, TotalAmount: decimal.RequireFromString("1000")},
			},
		},
	}
	engine := newTestEngine(history)

	assessment, err := engine.Score(context.Background(), 1, nil)
	require.NoError(t, err)

	// Both history factors bottom out; the amount factor is neutral without
	// a candidate amount: 0.15*50 + 0.15*100 = 22.5.
	assert.True(t, assessment.Score.Equal(decimal.RequireFromString("22.5")), "score %s", assessment.Score)
	assert.Equal(t, models.TierHigh, assessment.Tier)
	assert.True(t, assessment.Factors[FactorPaymentHistory].IsZero())
	assert.True(t, assessment.Factors[FactorLoanHistory].IsZero())
}

func TestAmountRiskThresholds(t *testing.T) {
	loans := []*models.Loan{
		{ID: 1, Status: models.LoanClosed, Amount: decimal.RequireFromString("10000")},
	}
	cases := map[string]string{
		"8000":  "100",
		"10000": "100",
		"15000": "80",
		"20000": "60",
		"30000": "40",
		"30001": "20",
	}
	for candidate, want := range cases {
		amount := decimal.RequireFromString(candidate)
		got := amountRisk(loans, &amount)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "amountRisk(%s) = %s", candidate, got)
	}
}

func TestActiveLoansOverduePenalty(t *testing.T) {
	history := &fakeHistory{
		loans: []*models.Loan{
			{ID: 1, Status: models.LoanDisbursed, Amount: decimal.RequireFromString("10000")},
		},
		installments: map[int64][]*models.Installment{
			1: {
				{LoanID: 1, Status: models.InstallmentOverdue, DueDate: testClock().AddDate(0, -2, 0), TotalAmount: decimal.RequireFromString("1000")},
				{LoanID: 1, Status: models.InstallmentOverdue, DueDate: testClock().AddDate(0, -1, 0), TotalAmount: decimal.RequireFromString("1000")},
			},
		},
	}
	engine := newTestEngine(history)

	factor, err := engine.activeLoans(context.Background(), history.loans)
	require.NoError(t, err)
	// One active loan (75) minus 15 per overdue installment.
	assert.True(t, factor.Equal(decimal.RequireFromString("45")), "factor %s", factor)
}

func TestDecide(t *testing.T) {
	product := &models.LoanProduct{
		MaximumAmount:         decimal.RequireFromString("100000"),
		ModerateRiskMaxAmount: decimal.RequireFromString("50000"),
		MediumRiskMaxAmount:   decimal.RequireFromString("25000"),
		HighRiskMaxAmount:     decimal.RequireFromString("10000"),
		AutoApproveAbove:      decimal.RequireFromString("70"),
		AutoRejectBelow:       decimal.RequireFromString("30"),
	}

	assert.Equal(t, DecisionReject, Decide(product, decimal.RequireFromString("25"), decimal.RequireFromString("5000")))
	assert.Equal(t, DecisionReview, Decide(product, decimal.RequireFromString("55"), decimal.RequireFromString("5000")))
	assert.Equal(t, DecisionApprove, Decide(product, decimal.RequireFromString("75"), decimal.RequireFromString("40000")))
	// High enough score, but the amount exceeds the tier ceiling.
	assert.Equal(t, DecisionReview, Decide(product, decimal.RequireFromString("75"), decimal.RequireFromString("60000")))
}
