package risk

import (
	"context"
	"time"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// History is the customer history provider. The repository implements it;
// absence of history is expected and never an error.
type History interface {
	// LoansByCustomer returns all loans for a customer, any status.
	LoansByCustomer(ctx context.Context, customerID int64) ([]*models.Loan, error)
	// InstallmentsForLoan returns a loan's installments in due-date order.
	InstallmentsForLoan(ctx context.Context, loanID int64) ([]*models.Installment, error)
	// RecentApplicationCount counts a customer's other applications created
	// at or after since, excluding the given application.
	RecentApplicationCount(ctx context.Context, customerID int64, since time.Time, excludeApplicationID int64) (int, error)
}
