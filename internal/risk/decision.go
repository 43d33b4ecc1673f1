package risk

import (
	"github.com/shopspring/decimal"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// Decision is the automated outcome for a scored application.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionReview  Decision = "REVIEW"
)

// Decide applies the product's automatic thresholds to a composite score.
// An auto-approval still falls back to manual review when the requested
// amount exceeds the tier's ceiling.
func Decide(product *models.LoanProduct, score, requestedAmount decimal.Decimal) Decision {
	if score.LessThan(product.AutoRejectBelow) {
		return DecisionReject
	}
	if score.GreaterThanOrEqual(product.AutoApproveAbove) {
		if requestedAmount.GreaterThan(product.MaxAmountForScore(score)) {
			return DecisionReview
		}
		return DecisionApprove
	}
	return DecisionReview
}
