package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApplicationStatus is the application lifecycle state.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// LoanApplication is a customer's request for a loan. Risk fields are
// filled by the scoring engine at application time.
type LoanApplication struct {
	ID                int64             `json:"id"`
	CustomerID        int64             `json:"customer_id"`
	ProductID         int64             `json:"product_id"`
	ApplicationNumber string            `json:"application_number"`
	AmountRequested   decimal.Decimal   `json:"amount_requested"`
	TermMonths        int               `json:"term_months"`
	Purpose           string            `json:"purpose,omitempty"`
	Status            ApplicationStatus `json:"status"`

	RiskScore   decimal.Decimal            `json:"risk_score"`
	RiskTier    RiskTier                   `json:"risk_tier,omitempty"`
	RiskFactors map[string]decimal.Decimal `json:"risk_factors,omitempty"`
	RiskNotes   string                     `json:"risk_notes,omitempty"`

	DisbursementDate *time.Time `json:"disbursement_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
