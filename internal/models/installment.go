package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus tracks payment progress of a single installment.
type InstallmentStatus string

const (
	InstallmentPending       InstallmentStatus = "PENDING"
	InstallmentPartiallyPaid InstallmentStatus = "PARTIALLY_PAID"
	InstallmentPaid          InstallmentStatus = "PAID"
	InstallmentOverdue       InstallmentStatus = "OVERDUE"
)

// Installment is one scheduled due line of a loan's repayment plan.
// Numbers are unique per loan, 1..term. Penalty is always recomputed from
// the overdue state, never read from a stored accumulator.
type Installment struct {
	ID              int64             `json:"id"`
	LoanID          int64             `json:"loan_id"`
	Number          int               `json:"installment_number"`
	DueDate         time.Time         `json:"due_date"`
	PrincipalAmount decimal.Decimal   `json:"principal_amount"`
	InterestAmount  decimal.Decimal   `json:"interest_amount"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	PaidAmount      decimal.Decimal   `json:"paid_amount"`
	Status          InstallmentStatus `json:"status"`
	PaidDate        *time.Time        `json:"paid_date,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Remaining is the amount still owed on this installment.
func (i *Installment) Remaining() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// IsOverdue reports whether the installment is unpaid past its due date.
func (i *Installment) IsOverdue(now time.Time) bool {
	return i.Status != InstallmentPaid && i.DueDate.Before(truncateToDay(now))
}

// RecomputeStatus derives the status from paid amount and due date.
func (i *Installment) RecomputeStatus(now time.Time) {
	switch {
	case i.PaidAmount.GreaterThanOrEqual(i.TotalAmount):
		i.Status = InstallmentPaid
	case i.PaidAmount.IsPositive():
		i.Status = InstallmentPartiallyPaid
	case i.DueDate.Before(truncateToDay(now)):
		i.Status = InstallmentOverdue
	default:
		i.Status = InstallmentPending
	}
}

// DaysOverdue counts whole days past the due date, zero when not overdue.
func (i *Installment) DaysOverdue(now time.Time) int {
	days := int(truncateToDay(now).Sub(truncateToDay(i.DueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
