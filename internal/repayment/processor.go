// Package repayment allocates incoming payments across a loan's penalties
// and installments and maintains the append-only transaction ledger.
package repayment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/money"
	"github.com/lalloyce/optifluenceLMS/internal/schedule"
)

var (
	// ErrInvalidAmount rejects non-positive payment amounts.
	ErrInvalidAmount = errors.New("payment amount must be greater than zero")
	// ErrNoPendingInstallments is returned when nothing is left to pay.
	ErrNoPendingInstallments = errors.New("no pending repayments found")
	// ErrExcessiveWaiver rejects waivers outside (0, accrued penalty].
	ErrExcessiveWaiver = errors.New("waiver amount cannot exceed accrued penalty")
	// ErrNotReversible is returned when reversing a non-completed transaction.
	ErrNotReversible = errors.New("only completed transactions can be reversed")
	// ErrNotApproved is returned when disbursing a loan that is not approved.
	ErrNotApproved = errors.New("only approved loans can be disbursed")
)

// Store persists loan aggregates and the outcome of processor operations.
// ApplyBatch and ReplaceSchedule are atomic units: either everything in the
// call commits, or none of it does.
type Store interface {
	// LoanByID returns the current loan aggregate with its installments and
	// transactions.
	LoanByID(ctx context.Context, id int64) (*models.Loan, error)
	ApplyBatch(ctx context.Context, loan *models.Loan, installments []*models.Installment, txns []*models.Transaction) error
	// ReplaceSchedule swaps the installment plan and commits any
	// accompanying ledger entries in the same unit.
	ReplaceSchedule(ctx context.Context, loan *models.Loan, installments []*models.Installment, txns []*models.Transaction) error
}

// Balance is a point-in-time snapshot of what a loan still owes.
type Balance struct {
	PrincipalRemaining   decimal.Decimal `json:"principal_remaining"`
	InterestRemaining    decimal.Decimal `json:"interest_remaining"`
	PenaltiesOutstanding decimal.Decimal `json:"penalties_outstanding"`
	TotalBalance         decimal.Decimal `json:"total_balance"`
	PaymentProgress      decimal.Decimal `json:"payment_progress_percent"`
}

// Processor handles repayments, waivers, reversals and disbursement.
// Mutating operations address loans by ID and load the aggregate under the
// per-loan lock, so every walk runs against the latest committed state.
type Processor struct {
	store Store
	gen   *schedule.Generator
	log   *logrus.Logger
	locks *lockRegistry

	// Clock supplies the current time; overridable in tests.
	Clock func() time.Time
}

// NewProcessor initializes a repayment processor.
func NewProcessor(store Store, gen *schedule.Generator, log *logrus.Logger) *Processor {
	return &Processor{
		store: store,
		gen:   gen,
		log:   log,
		locks: newLockRegistry(),
		Clock: time.Now,
	}
}

// ProcessPayment allocates a payment against a loan: accrued penalties on
// overdue installments are charged first in due-date order, then remaining
// funds settle installments oldest first. The returned transactions are all
// COMPLETED; the batch commits atomically or not at all.
func (p *Processor) ProcessPayment(ctx context.Context, loanID int64, amount decimal.Decimal, method string, details map[string]string, note, actor string) ([]*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	lock := p.locks.forLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := p.store.LoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	now := p.Clock()
	pending := pendingByDueDate(loan)
	if len(pending) == 0 {
		return nil, ErrNoPendingInstallments
	}

	funds := amount
	var txns []*models.Transaction

	// Penalties first.
	for _, inst := range pending {
		if !funds.IsPositive() {
			break
		}
		penalty := AccruedPenalty(loan, inst, now)
		if !penalty.IsPositive() {
			continue
		}
		pay := money.Min(penalty, funds)
		txn := models.NewTransaction(loan.ID, models.TxnPenalty, pay, now)
		txn.InstallmentNumber = inst.Number
		txn.PaymentMethod = method
		txn.PaymentDetails = details
		txn.Notes = fmt.Sprintf("Penalty payment for installment %d", inst.Number)
		txns = append(txns, txn)
		funds = funds.Sub(pay)
	}

	// Then the installments themselves.
	paidDeltas := make(map[int]decimal.Decimal)
	for _, inst := range pending {
		if !funds.IsPositive() {
			break
		}
		pay := money.Min(inst.Remaining(), funds)
		if !pay.IsPositive() {
			continue
		}
		txn := models.NewTransaction(loan.ID, models.TxnRepayment, pay, now)
		txn.InstallmentNumber = inst.Number
		txn.PaymentMethod = method
		txn.PaymentDetails = details
		txn.Notes = note
		txns = append(txns, txn)
		paidDeltas[inst.Number] = pay
		funds = funds.Sub(pay)
	}

	for _, txn := range txns {
		if err := txn.Complete(actor, now); err != nil {
			return nil, err
		}
	}

	undo := snapshotLoan(loan)
	var updated []*models.Installment
	for _, inst := range pending {
		delta, ok := paidDeltas[inst.Number]
		if !ok {
			continue
		}
		inst.PaidAmount = inst.PaidAmount.Add(delta)
		paid := now
		inst.PaidDate = &paid
		inst.RecomputeStatus(now)
		inst.UpdatedAt = now
		updated = append(updated, inst)
	}
	loan.Transactions = append(loan.Transactions, txns...)
	p.refreshLoanStatus(loan, now)

	if err := p.store.ApplyBatch(ctx, loan, updated, txns); err != nil {
		undo.restore(loan)
		return nil, fmt.Errorf("failed to commit payment batch: %w", err)
	}

	p.log.Infof("Processed payment of %s on loan %s: %d transactions",
		amount.StringFixed(2), loan.ApplicationNumber, len(txns))
	return txns, nil
}

// WaivePenalty records an administrative penalty reduction. No cash moves,
// but the waiver is still a completed, audited ledger entry.
func (p *Processor) WaivePenalty(ctx context.Context, loanID int64, installmentNumber int, amount decimal.Decimal, note, actor string) (*models.Transaction, error) {
	lock := p.locks.forLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := p.store.LoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	inst := loan.InstallmentByNumber(installmentNumber)
	if inst == nil {
		return nil, fmt.Errorf("loan %s has no installment %d", loan.ApplicationNumber, installmentNumber)
	}

	now := p.Clock()
	accrued := AccruedPenalty(loan, inst, now)
	if !amount.IsPositive() || amount.GreaterThan(accrued) {
		return nil, ErrExcessiveWaiver
	}

	txn := models.NewTransaction(loan.ID, models.TxnWaiver, amount, now)
	txn.InstallmentNumber = inst.Number
	txn.Notes = note
	if txn.Notes == "" {
		txn.Notes = fmt.Sprintf("Penalty waiver for installment %d", inst.Number)
	}
	if err := txn.Complete(actor, now); err != nil {
		return nil, err
	}

	undo := snapshotLoan(loan)
	loan.Transactions = append(loan.Transactions, txn)
	if err := p.store.ApplyBatch(ctx, loan, nil, []*models.Transaction{txn}); err != nil {
		undo.restore(loan)
		return nil, fmt.Errorf("failed to commit waiver: %w", err)
	}

	p.log.Infof("Waived %s penalty on loan %s installment %d",
		amount.StringFixed(2), loan.ApplicationNumber, inst.Number)
	return txn, nil
}

// Reverse undoes a completed transaction's financial effect. The original
// row is kept with status REVERSED; a repayment reversal restores the
// installment's paid amount.
func (p *Processor) Reverse(ctx context.Context, loanID int64, reference, actor, note string) (*models.Transaction, error) {
	lock := p.locks.forLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := p.store.LoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	var txn *models.Transaction
	for _, candidate := range loan.Transactions {
		if candidate.Reference == reference {
			txn = candidate
			break
		}
	}
	if txn == nil {
		return nil, fmt.Errorf("loan %s has no transaction %s", loan.ApplicationNumber, reference)
	}
	if txn.Status != models.TxnCompleted {
		return nil, ErrNotReversible
	}

	now := p.Clock()
	undo := snapshotLoan(loan)

	txn.Status = models.TxnReversed
	txn.ProcessedBy = actor
	txn.ProcessedAt = &now
	txn.UpdatedAt = now
	if note != "" {
		txn.Notes = appendNote(txn.Notes, "Reversed: "+note)
	}

	var updated []*models.Installment
	if txn.Type == models.TxnRepayment && txn.InstallmentNumber > 0 {
		if inst := loan.InstallmentByNumber(txn.InstallmentNumber); inst != nil {
			inst.PaidAmount = inst.PaidAmount.Sub(txn.Amount)
			if inst.PaidAmount.IsNegative() {
				inst.PaidAmount = decimal.Zero
			}
			if inst.PaidAmount.IsZero() {
				inst.PaidDate = nil
			}
			inst.RecomputeStatus(now)
			inst.UpdatedAt = now
			updated = append(updated, inst)
		}
	}
	p.refreshLoanStatus(loan, now)

	if err := p.store.ApplyBatch(ctx, loan, updated, []*models.Transaction{txn}); err != nil {
		undo.restore(loan)
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}

	p.log.Infof("Reversed transaction %s on loan %s", txn.Reference, loan.ApplicationNumber)
	return txn, nil
}

// Disburse moves an approved loan to DISBURSED, records the disbursement in
// the ledger and generates the repayment schedule. The schedule, the ledger
// entry and the loan row commit in one store call; a failure leaves no
// partial disbursement behind.
func (p *Processor) Disburse(ctx context.Context, loanID int64, actor string) (*models.Transaction, error) {
	lock := p.locks.forLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := p.store.LoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanApproved {
		return nil, ErrNotApproved
	}

	now := p.Clock()
	undo := snapshotLoan(loan)

	loan.Status = models.LoanDisbursed
	if loan.DisbursementDate == nil {
		loan.DisbursementDate = &now
	}

	txn := models.NewTransaction(loan.ID, models.TxnDisbursement, loan.Amount, now)
	txn.Notes = fmt.Sprintf("Disbursement of loan %s", loan.ApplicationNumber)
	if err := txn.Complete(actor, now); err != nil {
		undo.restore(loan)
		return nil, err
	}

	installments, err := p.gen.Generate(loan, now)
	if err != nil {
		undo.restore(loan)
		return nil, err
	}
	loan.Transactions = append(loan.Transactions, txn)

	if err := p.store.ReplaceSchedule(ctx, loan, installments, []*models.Transaction{txn}); err != nil {
		undo.restore(loan)
		return nil, fmt.Errorf("failed to commit disbursement: %w", err)
	}

	p.log.Infof("Disbursed loan %s for %s", loan.ApplicationNumber, loan.Amount.StringFixed(2))
	return txn, nil
}

// GenerateSchedule rebuilds the installment plan for a disbursed loan,
// mutually exclusive with payment processing on the same loan.
func (p *Processor) GenerateSchedule(ctx context.Context, loanID int64) ([]*models.Installment, error) {
	lock := p.locks.forLoan(loanID)
	lock.Lock()
	defer lock.Unlock()

	loan, err := p.store.LoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}

	undo := snapshotLoan(loan)
	installments, err := p.gen.Generate(loan, p.Clock())
	if err != nil {
		return nil, err
	}
	if err := p.store.ReplaceSchedule(ctx, loan, installments, nil); err != nil {
		undo.restore(loan)
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}
	return installments, nil
}

// GetBalance returns the loan's current balance snapshot. Penalties are
// recomputed live, never read back from stored values. Each installment's
// remaining amount is split between principal and interest in the
// installment's original proportion; payments retire both pro rata rather
// than interest first. The read has no side effects and is idempotent
// absent an intervening payment.
func (p *Processor) GetBalance(loan *models.Loan) Balance {
	now := p.Clock()

	principal := decimal.Zero
	interest := decimal.Zero
	penalties := decimal.Zero
	totalDue := decimal.Zero
	totalPaid := decimal.Zero

	for _, inst := range loan.Installments {
		totalDue = totalDue.Add(inst.TotalAmount)
		totalPaid = totalPaid.Add(inst.PaidAmount)

		remaining := inst.Remaining()
		if remaining.IsPositive() && inst.TotalAmount.IsPositive() {
			ratio := inst.PrincipalAmount.Div(inst.TotalAmount)
			principalPart := money.Cents(remaining.Mul(ratio))
			principal = principal.Add(principalPart)
			interest = interest.Add(remaining.Sub(principalPart))
		}
		penalties = penalties.Add(AccruedPenalty(loan, inst, now))
	}

	progress := decimal.NewFromInt(100)
	if totalDue.IsPositive() {
		progress = money.Cents(totalPaid.Div(totalDue).Mul(decimal.NewFromInt(100)))
		if progress.GreaterThan(decimal.NewFromInt(100)) {
			progress = decimal.NewFromInt(100)
		}
	}

	return Balance{
		PrincipalRemaining:   principal,
		InterestRemaining:    interest,
		PenaltiesOutstanding: penalties,
		TotalBalance:         principal.Add(interest).Add(penalties),
		PaymentProgress:      progress,
	}
}

// refreshLoanStatus closes the loan once nothing remains due, and reopens
// it if a reversal brought balance back onto a closed loan.
func (p *Processor) refreshLoanStatus(loan *models.Loan, now time.Time) {
	outstanding := loan.OutstandingTotal()
	switch {
	case loan.Status == models.LoanDisbursed && !outstanding.IsPositive() && len(loan.Installments) > 0:
		loan.Status = models.LoanClosed
		closed := now
		loan.ClosedDate = &closed
	case loan.Status == models.LoanClosed && outstanding.IsPositive():
		loan.Status = models.LoanDisbursed
		loan.ClosedDate = nil
	}
}

func pendingByDueDate(loan *models.Loan) []*models.Installment {
	pending := loan.PendingInstallments()
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].DueDate.Before(pending[j].DueDate)
	})
	return pending
}

func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}
