// Package repository provides Postgres persistence for the loan ledger.
// Installments are keyed by unique (loan_id, installment_number) and
// transactions by a globally unique reference number; both layouts are
// load-bearing for auditability.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateLoan inserts a new loan and fills in its generated ID.
func (r *Repository) CreateLoan(ctx context.Context, loan *models.Loan) error {
	factors, err := json.Marshal(loan.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}
	query := `
		INSERT INTO loans (product_id, customer_id, application_id, application_number,
			amount, term_months, interest_method, interest_rate, processing_fee,
			insurance_fee, penalty_rate, grace_period_months, status, risk_score,
			risk_tier, risk_factors, risk_notes, application_date, approval_date,
			disbursement_date, maturity_date, purpose, notes, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		loan.ProductID, loan.CustomerID, loan.ApplicationID, loan.ApplicationNumber,
		loan.Amount, loan.TermMonths, loan.InterestMethod, loan.InterestRate,
		loan.ProcessingFee, loan.InsuranceFee, loan.PenaltyRate, loan.GraceMonths,
		loan.Status, loan.RiskScore, loan.RiskTier, factors, loan.RiskNotes,
		loan.ApplicationDate, loan.ApprovalDate, loan.DisbursementDate,
		loan.MaturityDate, loan.Purpose, loan.Notes).
		Scan(&loan.ID, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// SaveLoan updates a loan's mutable columns.
func (r *Repository) SaveLoan(ctx context.Context, loan *models.Loan) error {
	return r.saveLoanTx(ctx, r.db, loan)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *Repository) saveLoanTx(ctx context.Context, db execer, loan *models.Loan) error {
	factors, err := json.Marshal(loan.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}
	query := `
		UPDATE loans
		SET status = $2, risk_score = $3, risk_tier = $4, risk_factors = $5,
			risk_notes = $6, approval_date = $7, disbursement_date = $8,
			maturity_date = $9, closed_date = $10, notes = $11,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	if _, err := db.ExecContext(ctx, query, loan.ID, loan.Status, loan.RiskScore,
		loan.RiskTier, factors, loan.RiskNotes, loan.ApprovalDate,
		loan.DisbursementDate, loan.MaturityDate, loan.ClosedDate, loan.Notes); err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

// LoanByID loads a loan together with its installments and transactions.
func (r *Repository) LoanByID(ctx context.Context, id int64) (*models.Loan, error) {
	query := `
		SELECT id, product_id, customer_id, COALESCE(application_id, 0), application_number,
			amount, term_months, interest_method, interest_rate, processing_fee,
			insurance_fee, penalty_rate, grace_period_months, status, risk_score,
			COALESCE(risk_tier, ''), risk_factors, COALESCE(risk_notes, ''),
			application_date, approval_date, disbursement_date, maturity_date,
			closed_date, COALESCE(purpose, ''), COALESCE(notes, ''), created_at, updated_at
		FROM loans
		WHERE id = $1`
	loan, err := scanLoan(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	if loan.Installments, err = r.InstallmentsForLoan(ctx, loan.ID); err != nil {
		return nil, err
	}
	if loan.Transactions, err = r.transactionsForLoan(ctx, loan.ID); err != nil {
		return nil, err
	}
	return loan, nil
}

// LoanByApplicationNumber resolves an external payment reference to a loan.
func (r *Repository) LoanByApplicationNumber(ctx context.Context, number string) (*models.Loan, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM loans WHERE application_number = $1`, number).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %s not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan: %w", err)
	}
	return r.LoanByID(ctx, id)
}

// LoansByCustomer returns a customer's loans, newest first, without their
// installment and transaction children.
func (r *Repository) LoansByCustomer(ctx context.Context, customerID int64) ([]*models.Loan, error) {
	query := `
		SELECT id, product_id, customer_id, COALESCE(application_id, 0), application_number,
			amount, term_months, interest_method, interest_rate, processing_fee,
			insurance_fee, penalty_rate, grace_period_months, status, risk_score,
			COALESCE(risk_tier, ''), risk_factors, COALESCE(risk_notes, ''),
			application_date, approval_date, disbursement_date, maturity_date,
			closed_date, COALESCE(purpose, ''), COALESCE(notes, ''), created_at, updated_at
		FROM loans
		WHERE customer_id = $1
		ORDER BY application_date DESC`
	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	loan := &models.Loan{}
	var factors []byte
	var approval, disbursement, maturity, closed sql.NullTime
	err := row.Scan(&loan.ID, &loan.ProductID, &loan.CustomerID, &loan.ApplicationID,
		&loan.ApplicationNumber, &loan.Amount, &loan.TermMonths, &loan.InterestMethod,
		&loan.InterestRate, &loan.ProcessingFee, &loan.InsuranceFee, &loan.PenaltyRate,
		&loan.GraceMonths, &loan.Status, &loan.RiskScore, &loan.RiskTier, &factors,
		&loan.RiskNotes, &loan.ApplicationDate, &approval, &disbursement, &maturity,
		&closed, &loan.Purpose, &loan.Notes, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ApprovalDate = timePtr(approval)
	loan.DisbursementDate = timePtr(disbursement)
	loan.MaturityDate = timePtr(maturity)
	loan.ClosedDate = timePtr(closed)
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &loan.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors: %w", err)
		}
	}
	return loan, nil
}

// InstallmentsForLoan returns a loan's installments ordered by due date.
func (r *Repository) InstallmentsForLoan(ctx context.Context, loanID int64) ([]*models.Installment, error) {
	query := `
		SELECT id, loan_id, installment_number, due_date, principal_amount,
			interest_amount, total_amount, paid_amount, status, paid_date,
			created_at, updated_at
		FROM installments
		WHERE loan_id = $1
		ORDER BY due_date, installment_number`
	rows, err := r.db.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installments: %w", err)
	}
	defer rows.Close()

	var installments []*models.Installment
	for rows.Next() {
		inst := &models.Installment{}
		var paidDate sql.NullTime
		if err := rows.Scan(&inst.ID, &inst.LoanID, &inst.Number, &inst.DueDate,
			&inst.PrincipalAmount, &inst.InterestAmount, &inst.TotalAmount,
			&inst.PaidAmount, &inst.Status, &paidDate, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan installment: %w", err)
		}
		inst.PaidDate = timePtr(paidDate)
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

// ReplaceSchedule atomically swaps a loan's installment plan and commits any
// accompanying ledger entries. The delete, inserts, transactions and loan row
// share one SQL transaction so a disbursement is either fully recorded or
// not at all.
func (r *Repository) ReplaceSchedule(ctx context.Context, loan *models.Loan, installments []*models.Installment, txns []*models.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE loan_id = $1`, loan.ID); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	insert := `
		INSERT INTO installments (loan_id, installment_number, due_date,
			principal_amount, interest_amount, total_amount, paid_amount, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id`
	for _, inst := range installments {
		if err := tx.QueryRowContext(ctx, insert, inst.LoanID, inst.Number, inst.DueDate,
			inst.PrincipalAmount, inst.InterestAmount, inst.TotalAmount,
			inst.PaidAmount, inst.Status).Scan(&inst.ID); err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	for _, txn := range txns {
		if err := r.upsertTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}
	if err := r.saveLoanTx(ctx, tx, loan); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule: %w", err)
	}
	return nil
}

// ApplyBatch commits a processor batch in one transaction: installment
// updates, ledger inserts/updates and the loan row itself.
func (r *Repository) ApplyBatch(ctx context.Context, loan *models.Loan, installments []*models.Installment, txns []*models.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	update := `
		UPDATE installments
		SET paid_amount = $3, status = $4, paid_date = $5, updated_at = CURRENT_TIMESTAMP
		WHERE loan_id = $1 AND installment_number = $2`
	for _, inst := range installments {
		if _, err := tx.ExecContext(ctx, update, inst.LoanID, inst.Number,
			inst.PaidAmount, inst.Status, inst.PaidDate); err != nil {
			return fmt.Errorf("failed to update installment %d: %w", inst.Number, err)
		}
	}

	for _, txn := range txns {
		if err := r.upsertTransaction(ctx, tx, txn); err != nil {
			return err
		}
	}
	if err := r.saveLoanTx(ctx, tx, loan); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (r *Repository) upsertTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction) error {
	details, err := json.Marshal(txn.PaymentDetails)
	if err != nil {
		return fmt.Errorf("failed to encode payment details: %w", err)
	}
	if txn.ID == 0 {
		insert := `
			INSERT INTO transactions (loan_id, installment_number, transaction_type,
				amount, status, reference_number, payment_method, payment_details,
				notes, processed_by, processed_at, created_at, updated_at)
			VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10, $11,
				CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id`
		if err := tx.QueryRowContext(ctx, insert, txn.LoanID, txn.InstallmentNumber,
			txn.Type, txn.Amount, txn.Status, txn.Reference, txn.PaymentMethod,
			details, txn.Notes, txn.ProcessedBy, txn.ProcessedAt).Scan(&txn.ID); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.Reference, err)
		}
		return nil
	}
	update := `
		UPDATE transactions
		SET status = $2, notes = $3, processed_by = $4, processed_at = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, txn.ID, txn.Status, txn.Notes,
		txn.ProcessedBy, txn.ProcessedAt); err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.Reference, err)
	}
	return nil
}

func (r *Repository) transactionsForLoan(ctx context.Context, loanID int64) ([]*models.Transaction, error) {
	query := `
		SELECT id, loan_id, COALESCE(installment_number, 0), transaction_type, amount,
			status, reference_number, COALESCE(payment_method, ''), payment_details,
			COALESCE(notes, ''), COALESCE(processed_by, ''), processed_at,
			created_at, updated_at
		FROM transactions
		WHERE loan_id = $1
		ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// TransactionByReference finds a ledger entry by its unique reference.
func (r *Repository) TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query := `
		SELECT id, loan_id, COALESCE(installment_number, 0), transaction_type, amount,
			status, reference_number, COALESCE(payment_method, ''), payment_details,
			COALESCE(notes, ''), COALESCE(processed_by, ''), processed_at,
			created_at, updated_at
		FROM transactions
		WHERE reference_number = $1`
	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, reference))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s not found", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return txn, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var details []byte
	var processedAt sql.NullTime
	err := row.Scan(&txn.ID, &txn.LoanID, &txn.InstallmentNumber, &txn.Type,
		&txn.Amount, &txn.Status, &txn.Reference, &txn.PaymentMethod, &details,
		&txn.Notes, &txn.ProcessedBy, &processedAt, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return nil, err
	}
	txn.ProcessedAt = timePtr(processedAt)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &txn.PaymentDetails); err != nil {
			return nil, fmt.Errorf("failed to decode payment details: %w", err)
		}
	}
	return txn, nil
}

// MarkOverdueInstallments flips unpaid installments past their due date to
// OVERDUE. Run by the nightly sweep.
func (r *Repository) MarkOverdueInstallments(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE installments
		SET status = 'OVERDUE', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'PENDING' AND due_date < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue installments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count overdue installments: %w", err)
	}
	return affected, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
