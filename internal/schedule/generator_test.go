package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testLoan(amount string, rate string, term int, method models.InterestMethod) *models.Loan {
	disbursed := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	return &models.Loan{
		ID:                1,
		ApplicationNumber: "LN20260115AAAAAA",
		Amount:            decimal.RequireFromString(amount),
		TermMonths:        term,
		InterestMethod:    method,
		InterestRate:      decimal.RequireFromString(rate),
		Status:            models.LoanDisbursed,
		DisbursementDate:  &disbursed,
	}
}

func TestGenerateFlat(t *testing.T) {
	gen := NewGenerator(testLogger())
	loan := testLoan("120000", "12", 12, models.InterestFlat)

	installments, err := gen.Generate(loan, time.Now())
	require.NoError(t, err)
	require.Len(t, installments, 12)

	// 120000 at 12% flat over 12 months: 10000 principal and 1200 interest
	// per installment.
	for i, inst := range installments {
		assert.Equal(t, i+1, inst.Number)
		assert.True(t, inst.PrincipalAmount.Equal(decimal.RequireFromString("10000")), "installment %d principal %s", inst.Number, inst.PrincipalAmount)
		assert.True(t, inst.InterestAmount.Equal(decimal.RequireFromString("1200")), "installment %d interest %s", inst.Number, inst.InterestAmount)
		assert.True(t, inst.TotalAmount.Equal(decimal.RequireFromString("11200")))
		assert.Equal(t, models.InstallmentPending, inst.Status)
	}

	// First due one month after disbursement, maturity set to the last due.
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), installments[0].DueDate)
	require.NotNil(t, loan.MaturityDate)
	assert.Equal(t, time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC), *loan.MaturityDate)
}

func TestGenerateFlatRoundingResidue(t *testing.T) {
	gen := NewGenerator(testLogger())
	loan := testLoan("100000", "12", 7, models.InterestFlat)

	installments, err := gen.Generate(loan, time.Now())
	require.NoError(t, err)

	principalSum := decimal.Zero
	for _, inst := range installments {
		principalSum = principalSum.Add(inst.PrincipalAmount)
	}
	// 100000/7 does not divide evenly; the final installment absorbs the
	// residue so principal sums back exactly.
	assert.True(t, principalSum.Equal(loan.Amount), "principal sum %s", principalSum)
}

func TestGenerateReducingBalance(t *testing.T) {
	gen := NewGenerator(testLogger())
	loan := testLoan("120000", "12", 12, models.InterestReducingBalance)

	installments, err := gen.Generate(loan, time.Now())
	require.NoError(t, err)
	require.Len(t, installments, 12)

	// First month's interest is charged on the full principal: 1% of 120000.
	assert.True(t, installments[0].InterestAmount.Equal(decimal.RequireFromString("1200")))

	principalSum := decimal.Zero
	for i, inst := range installments {
		principalSum = principalSum.Add(inst.PrincipalAmount)
		if i > 0 {
			// Interest decreases as the balance reduces.
			assert.True(t, inst.InterestAmount.LessThan(installments[i-1].InterestAmount),
				"interest did not decrease at installment %d", inst.Number)
		}
	}
	assert.True(t, principalSum.Equal(loan.Amount), "principal sum %s", principalSum)
}

func TestGenerateZeroRateReducingBalance(t *testing.T) {
	gen := NewGenerator(testLogger())
	loan := testLoan("12000", "0", 12, models.InterestReducingBalance)

	installments, err := gen.Generate(loan, time.Now())
	require.NoError(t, err)
	for _, inst := range installments {
		assert.True(t, inst.PrincipalAmount.Equal(decimal.RequireFromString("1000")))
		assert.True(t, inst.InterestAmount.IsZero())
	}
}

func TestGenerateGracePeriod(t *testing.T) {
	gen := NewGenerator(testLogger())
	loan := testLoan("12000", "12", 12, models.InterestFlat)
	loan.GraceMonths = 2

	installments, err := gen.Generate(loan, time.Now())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), installments[0].DueDate)
}

func TestGenerateGuards(t *testing.T) {
	gen := NewGenerator(testLogger())

	loan := testLoan("10000", "12", 12, models.InterestFlat)
	loan.Status = models.LoanApproved
	_, err := gen.Generate(loan, time.Now())
	assert.ErrorIs(t, err, ErrNotDisbursed)

	loan = testLoan("10000", "12", 12, models.InterestFlat)
	loan.DisbursementDate = nil
	_, err = gen.Generate(loan, time.Now())
	assert.ErrorIs(t, err, ErrNoDisbursementDate)

	loan = testLoan("10000", "12", 0, models.InterestFlat)
	_, err = gen.Generate(loan, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTerm)

	loan = testLoan("10000", "12", 12, models.InterestFlat)
	loan.Installments = []*models.Installment{
		{Number: 1, PaidAmount: decimal.RequireFromString("500")},
	}
	_, err = gen.Generate(loan, time.Now())
	assert.ErrorIs(t, err, ErrScheduleActive)
}

func TestDueDateClampsToMonthEnd(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), DueDate(start, 1))
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), DueDate(start, 2))
	assert.Equal(t, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC), DueDate(start, 3))

	// Leap year February keeps the 29th.
	leapStart := time.Date(2028, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC), DueDate(leapStart, 1))

	// Year rollover.
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), DueDate(start, 12))
}
