package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InterestMethod selects the amortization formula for a product.
type InterestMethod string

const (
	// InterestFlat splits simple interest evenly across installments.
	InterestFlat InterestMethod = "FLAT"
	// InterestReducingBalance charges interest on the outstanding principal.
	InterestReducingBalance InterestMethod = "REDUCING_BALANCE"
)

// LoanProduct is the template a loan copies its terms from at approval.
type LoanProduct struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	LoanType       LoanType        `json:"loan_type"`
	InterestMethod InterestMethod  `json:"interest_method"`
	InterestRate   decimal.Decimal `json:"interest_rate"` // annual, percent
	MinimumAmount  decimal.Decimal `json:"minimum_amount"`
	MaximumAmount  decimal.Decimal `json:"maximum_amount"`
	MinimumTerm    int             `json:"minimum_term"` // months
	MaximumTerm    int             `json:"maximum_term"`
	ProcessingFee  decimal.Decimal `json:"processing_fee"` // percent of amount
	InsuranceFee   decimal.Decimal `json:"insurance_fee"`  // percent of amount
	PenaltyRate    decimal.Decimal `json:"penalty_rate"`   // annual, percent
	GracePeriod    int             `json:"grace_period_months"`

	// Risk-based amount ceilings.
	ModerateRiskMaxAmount decimal.Decimal `json:"moderate_risk_max_amount"`
	MediumRiskMaxAmount   decimal.Decimal `json:"medium_risk_max_amount"`
	HighRiskMaxAmount     decimal.Decimal `json:"high_risk_max_amount"`

	// Thresholds for automatic decisions at application time.
	AutoApproveAbove decimal.Decimal `json:"auto_approve_above"`
	AutoRejectBelow  decimal.Decimal `json:"auto_reject_below"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaxAmountForScore returns the lending ceiling for a risk score.
func (p *LoanProduct) MaxAmountForScore(score decimal.Decimal) decimal.Decimal {
	switch {
	case score.GreaterThanOrEqual(decimal.NewFromInt(80)):
		return p.MaximumAmount
	case score.GreaterThanOrEqual(decimal.NewFromInt(60)):
		return p.ModerateRiskMaxAmount
	case score.GreaterThanOrEqual(decimal.NewFromInt(40)):
		return p.MediumRiskMaxAmount
	default:
		return p.HighRiskMaxAmount
	}
}
