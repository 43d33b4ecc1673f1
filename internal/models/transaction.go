package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TxnDisbursement TransactionType = "DISBURSEMENT"
	TxnRepayment    TransactionType = "REPAYMENT"
	TxnPenalty      TransactionType = "PENALTY"
	TxnWaiver       TransactionType = "WAIVER"
)

// TransactionStatus tracks the lifecycle of a ledger entry.
type TransactionStatus string

const (
	TxnPending   TransactionStatus = "PENDING"
	TxnCompleted TransactionStatus = "COMPLETED"
	TxnFailed    TransactionStatus = "FAILED"
	TxnReversed  TransactionStatus = "REVERSED"
)

// ErrNotPending is returned when completing a transaction twice.
var ErrNotPending = errors.New("only pending transactions can be completed")

// Transaction is an append-only ledger entry. Rows are never deleted;
// reversal flips the status and compensates the installment instead.
type Transaction struct {
	ID                int64             `json:"id"`
	LoanID            int64             `json:"loan_id"`
	InstallmentNumber int               `json:"installment_number,omitempty"` // 0 when not tied to one
	Type              TransactionType   `json:"transaction_type"`
	Amount            decimal.Decimal   `json:"amount"` // always positive
	Status            TransactionStatus `json:"status"`
	Reference         string            `json:"reference_number"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	PaymentDetails    map[string]string `json:"payment_details,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	ProcessedBy       string            `json:"processed_by,omitempty"` // actor reference, audit only
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewTransaction builds a pending ledger entry with a unique reference.
func NewTransaction(loanID int64, txnType TransactionType, amount decimal.Decimal, now time.Time) *Transaction {
	return &Transaction{
		LoanID:    loanID,
		Type:      txnType,
		Amount:    amount,
		Status:    TxnPending,
		Reference: NewReference(txnType, now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewReference builds a globally unique reference like RPY20240101120000A1B2C3.
func NewReference(txnType TransactionType, now time.Time) string {
	prefix := map[TransactionType]string{
		TxnDisbursement: "DSB",
		TxnRepayment:    "RPY",
		TxnPenalty:      "PEN",
		TxnWaiver:       "WVR",
	}[txnType]
	if prefix == "" {
		prefix = "TXN"
	}
	tail := strings.ToUpper(uuid.NewString()[:6])
	return fmt.Sprintf("%s%s%s", prefix, now.Format("20060102150405"), tail)
}

// Complete marks the entry COMPLETED with its audit attribution. A completed
// transaction always carries a non-empty actor and a processed timestamp.
func (t *Transaction) Complete(actor string, now time.Time) error {
	if t.Status != TxnPending {
		return ErrNotPending
	}
	if actor == "" {
		return errors.New("completing a transaction requires an actor")
	}
	t.Status = TxnCompleted
	t.ProcessedBy = actor
	t.ProcessedAt = &now
	t.UpdatedAt = now
	return nil
}
