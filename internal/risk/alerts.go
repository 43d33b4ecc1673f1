package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// AlertStore persists risk alerts.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.RiskAlert) error
	ActiveAlerts(ctx context.Context) ([]*models.RiskAlert, error)
}

// Notifier receives alerts for out-of-band delivery. Dispatch is
// fire-and-forget; delivery outcome is never observed here.
type Notifier interface {
	AlertRaised(alert *models.RiskAlert)
}

// Detector runs the risk pattern checks on newly scored applications. Each
// pattern is evaluated independently, so several alerts can fire for one
// application.
type Detector struct {
	history  History
	store    AlertStore
	notifier Notifier
	log      *logrus.Logger

	// Clock supplies the current time; overridable in tests.
	Clock func() time.Time
}

// NewDetector initializes an alert detector.
func NewDetector(history History, store AlertStore, notifier Notifier, log *logrus.Logger) *Detector {
	return &Detector{history: history, store: store, notifier: notifier, log: log, Clock: time.Now}
}

// Evaluate runs every pattern check against a scored application and
// returns the alerts raised. CRITICAL alerts are handed to the notifier on
// a separate goroutine so delivery failure can never roll back the alert.
func (d *Detector) Evaluate(ctx context.Context, app *models.LoanApplication) ([]*models.RiskAlert, error) {
	loans, err := d.history.LoansByCustomer(ctx, app.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer loans: %w", err)
	}

	var alerts []*models.RiskAlert
	alerts = appendAlert(alerts, d.checkHighRiskScore(app))
	alerts = appendAlert(alerts, d.checkMultipleActiveLoans(app, loans))

	patternAlert, err := d.checkPaymentPattern(ctx, app, loans)
	if err != nil {
		return nil, err
	}
	alerts = appendAlert(alerts, patternAlert)

	rapidAlert, err := d.checkRapidRequests(ctx, app)
	if err != nil {
		return nil, err
	}
	alerts = appendAlert(alerts, rapidAlert)
	alerts = appendAlert(alerts, d.checkAmountSpike(app, loans))

	for _, alert := range alerts {
		if err := d.store.SaveAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to save alert: %w", err)
		}
		d.log.Warnf("Risk alert %s (%s) for application %s", alert.Type, alert.Severity, app.ApplicationNumber)
		if alert.Severity == models.SeverityCritical {
			go d.dispatch(alert)
		}
	}
	return alerts, nil
}

func (d *Detector) dispatch(alert *models.RiskAlert) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("Alert notification panicked: %v", r)
		}
	}()
	d.notifier.AlertRaised(alert)
}

func (d *Detector) checkHighRiskScore(app *models.LoanApplication) *models.RiskAlert {
	if app.RiskScore.GreaterThanOrEqual(decimal.NewFromInt(40)) {
		return nil
	}
	return d.newAlert(app, models.AlertHighRiskApplication, models.SeverityHigh,
		fmt.Sprintf("High risk loan application with score %s", app.RiskScore.StringFixed(2)),
		map[string]decimal.Decimal{"risk_score": app.RiskScore})
}

func (d *Detector) checkMultipleActiveLoans(app *models.LoanApplication, loans []*models.Loan) *models.RiskAlert {
	activeCount := 0
	for _, loan := range loans {
		if loan.Status == models.LoanDisbursed {
			activeCount++
		}
	}
	if activeCount < 2 {
		return nil
	}
	severity := models.SeverityHigh
	if activeCount > 2 {
		severity = models.SeverityCritical
	}
	return d.newAlert(app, models.AlertMultipleActiveLoans, severity,
		fmt.Sprintf("Customer has %d active loans", activeCount),
		map[string]decimal.Decimal{"active_loan_count": decimal.NewFromInt(int64(activeCount))})
}

func (d *Detector) checkPaymentPattern(ctx context.Context, app *models.LoanApplication, loans []*models.Loan) (*models.RiskAlert, error) {
	totalPaid, latePaid := 0, 0
	for _, loan := range loans {
		installments, err := d.history.InstallmentsForLoan(ctx, loan.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load installments for loan %d: %w", loan.ID, err)
		}
		for _, inst := range installments {
			if inst.Status != models.InstallmentPaid {
				continue
			}
			totalPaid++
			if inst.PaidDate != nil && inst.PaidDate.After(inst.DueDate) {
				latePaid++
			}
		}
	}
	if totalPaid < 5 {
		return nil, nil
	}
	ratio := decimal.NewFromInt(int64(latePaid)).Div(decimal.NewFromInt(int64(totalPaid)))
	if ratio.LessThanOrEqual(decimal.NewFromFloat(0.6)) {
		return nil, nil
	}
	return d.newAlert(app, models.AlertPaymentPattern, models.SeverityMedium,
		fmt.Sprintf("Customer has high rate of late payments (%d/%d)", latePaid, totalPaid),
		map[string]decimal.Decimal{
			"late_payment_ratio": ratio,
			"late_count":         decimal.NewFromInt(int64(latePaid)),
			"total_count":        decimal.NewFromInt(int64(totalPaid)),
		}), nil
}

func (d *Detector) checkRapidRequests(ctx context.Context, app *models.LoanApplication) (*models.RiskAlert, error) {
	since := d.Clock().AddDate(0, 0, -30)
	count, err := d.history.RecentApplicationCount(ctx, app.CustomerID, since, app.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recent applications: %w", err)
	}
	if count < 2 {
		return nil, nil
	}
	return d.newAlert(app, models.AlertRapidRequests, models.SeverityMedium,
		"Multiple loan applications in the past 30 days",
		map[string]decimal.Decimal{"recent_application_count": decimal.NewFromInt(int64(count))}), nil
}

func (d *Detector) checkAmountSpike(app *models.LoanApplication, loans []*models.Loan) *models.RiskAlert {
	previousMax := decimal.Zero
	for _, loan := range loans {
		if loan.Status == models.LoanClosed && loan.Amount.GreaterThan(previousMax) {
			previousMax = loan.Amount
		}
	}
	if !previousMax.IsPositive() {
		return nil
	}
	if app.AmountRequested.LessThanOrEqual(previousMax.Mul(decimal.NewFromInt(2))) {
		return nil
	}
	return d.newAlert(app, models.AlertAmountSpike, models.SeverityHigh,
		"Requested amount is more than double the previous maximum",
		map[string]decimal.Decimal{
			"previous_max":     previousMax,
			"requested_amount": app.AmountRequested,
			"increase_ratio":   app.AmountRequested.Div(previousMax),
		})
}

func (d *Detector) newAlert(app *models.LoanApplication, alertType models.AlertType, severity models.AlertSeverity, message string, details map[string]decimal.Decimal) *models.RiskAlert {
	now := d.Clock()
	return &models.RiskAlert{
		ApplicationID: app.ID,
		CustomerID:    app.CustomerID,
		Type:          alertType,
		Severity:      severity,
		Message:       message,
		Details:       details,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func appendAlert(alerts []*models.RiskAlert, alert *models.RiskAlert) []*models.RiskAlert {
	if alert == nil {
		return alerts
	}
	return append(alerts, alert)
}

// AlertSummary aggregates active alerts for the daily risk summary.
type AlertSummary struct {
	TotalActive int                          `json:"total_active"`
	BySeverity  map[models.AlertSeverity]int `json:"by_severity"`
	ByType      map[models.AlertType]int     `json:"by_type"`
}

// ActiveAlertSummary counts currently active alerts by severity and type.
func (d *Detector) ActiveAlertSummary(ctx context.Context) (*AlertSummary, error) {
	alerts, err := d.store.ActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	summary := &AlertSummary{
		TotalActive: len(alerts),
		BySeverity:  make(map[models.AlertSeverity]int),
		ByType:      make(map[models.AlertType]int),
	}
	for _, alert := range alerts {
		summary.BySeverity[alert.Severity]++
		summary.ByType[alert.Type]++
	}
	return summary, nil
}
