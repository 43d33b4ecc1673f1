package repayment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/money"
)

// AccruedPenalty computes the penalty currently owed on an installment.
//
// months_overdue rounds days up to whole 30-day months; the gross penalty is
// remaining * (annual_rate/100/12) * months_overdue, capped at the remaining
// amount. Completed PENALTY payments and WAIVERs already recorded against
// the installment are netted out so a penalty is never charged twice. The
// value is always derived on read; nothing stores an accumulator.
func AccruedPenalty(loan *models.Loan, inst *models.Installment, now time.Time) decimal.Decimal {
	if !inst.IsOverdue(now) {
		return decimal.Zero
	}
	days := inst.DaysOverdue(now)
	if days <= 0 {
		return decimal.Zero
	}
	monthsOverdue := decimal.NewFromInt(int64((days + 29) / 30))

	remaining := inst.Remaining()
	gross := remaining.Mul(money.MonthlyRate(loan.PenaltyRate)).Mul(monthsOverdue)
	gross = money.Cents(money.Min(gross, remaining))

	accrued := gross.Sub(settledPenalty(loan, inst.Number))
	if accrued.IsNegative() {
		return decimal.Zero
	}
	return accrued
}

// settledPenalty sums completed PENALTY and WAIVER ledger entries for an
// installment. Reversed entries do not count.
func settledPenalty(loan *models.Loan, installmentNumber int) decimal.Decimal {
	settled := decimal.Zero
	for _, txn := range loan.Transactions {
		if txn.InstallmentNumber != installmentNumber || txn.Status != models.TxnCompleted {
			continue
		}
		if txn.Type == models.TxnPenalty || txn.Type == models.TxnWaiver {
			settled = settled.Add(txn.Amount)
		}
	}
	return settled
}
