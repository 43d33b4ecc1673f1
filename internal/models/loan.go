package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanStatus is the loan lifecycle state.
type LoanStatus string

const (
	LoanDraft     LoanStatus = "DRAFT"
	LoanPending   LoanStatus = "PENDING"
	LoanApproved  LoanStatus = "APPROVED"
	LoanRejected  LoanStatus = "REJECTED"
	LoanDisbursed LoanStatus = "DISBURSED"
	LoanClosed    LoanStatus = "CLOSED"
	LoanDefaulted LoanStatus = "DEFAULTED"
)

// RiskTier buckets a numeric risk score.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"      // score >= 80
	TierModerate RiskTier = "MODERATE" // 60-79
	TierMedium   RiskTier = "MEDIUM"   // 40-59
	TierHigh     RiskTier = "HIGH"     // < 40
)

// Loan is an individual loan. Product terms are copied at approval and
// never re-read from the product afterwards.
type Loan struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id"`
	CustomerID        int64  `json:"customer_id"`
	ApplicationID     int64  `json:"application_id,omitempty"`
	ApplicationNumber string `json:"application_number"`

	Amount         decimal.Decimal `json:"amount"`
	TermMonths     int             `json:"term_months"`
	InterestMethod InterestMethod  `json:"interest_method"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"`
	InsuranceFee   decimal.Decimal `json:"insurance_fee"`
	PenaltyRate    decimal.Decimal `json:"penalty_rate"`
	GraceMonths    int             `json:"grace_period_months"`

	Status LoanStatus `json:"status"`

	RiskScore   decimal.Decimal            `json:"risk_score"`
	RiskTier    RiskTier                   `json:"risk_tier,omitempty"`
	RiskFactors map[string]decimal.Decimal `json:"risk_factors,omitempty"`
	RiskNotes   string                     `json:"risk_notes,omitempty"`

	ApplicationDate  time.Time  `json:"application_date"`
	ApprovalDate     *time.Time `json:"approval_date,omitempty"`
	DisbursementDate *time.Time `json:"disbursement_date,omitempty"`
	MaturityDate     *time.Time `json:"maturity_date,omitempty"`
	ClosedDate       *time.Time `json:"closed_date,omitempty"`

	Purpose string `json:"purpose,omitempty"`
	Notes   string `json:"notes,omitempty"`

	Installments []*Installment `json:"installments,omitempty"`
	Transactions []*Transaction `json:"transactions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewApplicationNumber builds a unique loan reference like LN20240101A1B2C3.
func NewApplicationNumber(now time.Time) string {
	tail := strings.ToUpper(uuid.NewString()[:6])
	return fmt.Sprintf("LN%s%s", now.Format("20060102"), tail)
}

// TierForScore maps a composite score onto its risk tier.
func TierForScore(score decimal.Decimal) RiskTier {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(80)):
		return TierLow
	case score.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return TierModerate
	case score.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return TierMedium
	default:
		return TierHigh
	}
}

// PendingInstallments returns non-PAID installments in due-date order.
// Installments are kept sorted by due date on load.
func (l *Loan) PendingInstallments() []*Installment {
	var pending []*Installment
	for _, inst := range l.Installments {
		if inst.Status != InstallmentPaid {
			pending = append(pending, inst)
		}
	}
	return pending
}

// OutstandingTotal is the sum of total due minus paid across installments.
func (l *Loan) OutstandingTotal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l.Installments {
		total = total.Add(inst.Remaining())
	}
	return total
}

// InstallmentByNumber finds an installment by its number, or nil.
func (l *Loan) InstallmentByNumber(number int) *Installment {
	for _, inst := range l.Installments {
		if inst.Number == number {
			return inst
		}
	}
	return nil
}
