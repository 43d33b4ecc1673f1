package repayment

import (
	"time"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// loanSnapshot captures the mutable parts of a loan aggregate so a failed
// store commit can roll the in-memory state back. Partial batches are never
// observable.
type loanSnapshot struct {
	status           models.LoanStatus
	closedDate       *time.Time
	disbursementDate *time.Time
	maturityDate     *time.Time
	txnCount         int
	installments     []*models.Installment
	values           []models.Installment
}

func snapshotLoan(loan *models.Loan) *loanSnapshot {
	s := &loanSnapshot{
		status:           loan.Status,
		closedDate:       loan.ClosedDate,
		disbursementDate: loan.DisbursementDate,
		maturityDate:     loan.MaturityDate,
		txnCount:         len(loan.Transactions),
		installments:     loan.Installments,
		values:           make([]models.Installment, len(loan.Installments)),
	}
	for i, inst := range loan.Installments {
		s.values[i] = *inst
	}
	return s
}

func (s *loanSnapshot) restore(loan *models.Loan) {
	loan.Status = s.status
	loan.ClosedDate = s.closedDate
	loan.DisbursementDate = s.disbursementDate
	loan.MaturityDate = s.maturityDate
	loan.Transactions = loan.Transactions[:s.txnCount]
	loan.Installments = s.installments
	for i, inst := range s.installments {
		*inst = s.values[i]
	}
}
