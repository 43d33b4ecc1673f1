package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRecomputeStatus(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	inst := &Installment{
		DueDate:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("1000"),
		PaidAmount:  decimal.Zero,
	}
	inst.RecomputeStatus(now)
	assert.Equal(t, InstallmentPending, inst.Status)

	inst.PaidAmount = decimal.RequireFromString("400")
	inst.RecomputeStatus(now)
	assert.Equal(t, InstallmentPartiallyPaid, inst.Status)

	inst.PaidAmount = decimal.RequireFromString("1000")
	inst.RecomputeStatus(now)
	assert.Equal(t, InstallmentPaid, inst.Status)

	inst.PaidAmount = decimal.Zero
	inst.DueDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inst.RecomputeStatus(now)
	assert.Equal(t, InstallmentOverdue, inst.Status)
}

func TestIsOverdueIgnoresTimeOfDay(t *testing.T) {
	dueToday := &Installment{
		DueDate:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("100"),
	}
	// Late in the evening of the due date is still on time.
	now := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	assert.False(t, dueToday.IsOverdue(now))

	// The next morning it is overdue.
	now = time.Date(2026, 3, 16, 0, 30, 0, 0, time.UTC)
	assert.True(t, dueToday.IsOverdue(now))
}

func TestIsOverduePaidInstallment(t *testing.T) {
	inst := &Installment{
		DueDate:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TotalAmount: decimal.RequireFromString("100"),
		PaidAmount:  decimal.RequireFromString("100"),
		Status:      InstallmentPaid,
	}
	assert.False(t, inst.IsOverdue(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDaysOverdue(t *testing.T) {
	inst := &Installment{DueDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	assert.Equal(t, 0, inst.DaysOverdue(time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, inst.DaysOverdue(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 14, inst.DaysOverdue(time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, 45, inst.DaysOverdue(time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)))
}

func TestRemaining(t *testing.T) {
	inst := &Installment{
		TotalAmount: decimal.RequireFromString("1120.50"),
		PaidAmount:  decimal.RequireFromString("120.50"),
	}
	assert.True(t, inst.Remaining().Equal(decimal.RequireFromString("1000")))
}
