// Package service orchestrates the loan application lifecycle: validation
// against the product, risk scoring, the automatic decision and loan
// creation on approval.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/risk"
)

var (
	// ErrProductInactive rejects applications against retired products.
	ErrProductInactive = errors.New("loan product is not active")
	// ErrAmountOutOfRange rejects amounts outside the product's limits.
	ErrAmountOutOfRange = errors.New("requested amount is outside the product limits")
	// ErrTermOutOfRange rejects terms outside the product's limits.
	ErrTermOutOfRange = errors.New("requested term is outside the product limits")
	// ErrNotPendingApplication guards manual decisions on settled applications.
	ErrNotPendingApplication = errors.New("application is not pending")
)

// Store is the persistence surface the service needs.
type Store interface {
	ProductByID(ctx context.Context, id int64) (*models.LoanProduct, error)
	CreateApplication(ctx context.Context, app *models.LoanApplication) error
	SaveApplication(ctx context.Context, app *models.LoanApplication) error
	ApplicationByID(ctx context.Context, id int64) (*models.LoanApplication, error)
	CreateLoan(ctx context.Context, loan *models.Loan) error
	AlertByID(ctx context.Context, id int64) (*models.RiskAlert, error)
	SaveAlert(ctx context.Context, alert *models.RiskAlert) error
}

// RateSource provides the prevailing central bank policy rate.
type RateSource interface {
	PolicyRate() (decimal.Decimal, error)
}

// policyRateTTL bounds how long a fetched policy rate is reused before the
// source is asked again.
const policyRateTTL = 6 * time.Hour

// Service coordinates applications, scoring and alerts.
type Service struct {
	store    Store
	configs  *models.ProductConfigSet
	rates    RateSource
	engine   *risk.Engine
	detector *risk.Detector
	log      *logrus.Logger

	rateMu      sync.Mutex
	cachedRate  decimal.Decimal
	rateFetched time.Time

	// Clock supplies the current time; overridable in tests.
	Clock func() time.Time
}

// NewService initializes the application service. configs supplies
// effective-dated fallback rates for products that leave theirs unset; rates
// may be nil when no central bank feed is configured.
func NewService(store Store, configs *models.ProductConfigSet, rates RateSource, engine *risk.Engine, detector *risk.Detector, log *logrus.Logger) *Service {
	return &Service{
		store:    store,
		configs:  configs,
		rates:    rates,
		engine:   engine,
		detector: detector,
		log:      log,
		Clock:    time.Now,
	}
}

// SubmitApplication validates a request against its product, scores the
// customer, applies the automatic decision and persists the outcome. An
// auto-approved application immediately gets its loan; REVIEW leaves the
// application pending for a loan officer. Alert detection runs after the
// decision and never blocks it.
func (s *Service) SubmitApplication(ctx context.Context, customerID, productID int64, amount decimal.Decimal, termMonths int, purpose string) (*models.LoanApplication, risk.Decision, error) {
	product, err := s.store.ProductByID(ctx, productID)
	if err != nil {
		return nil, "", err
	}
	if !product.IsActive {
		return nil, "", ErrProductInactive
	}
	if amount.LessThan(product.MinimumAmount) || amount.GreaterThan(product.MaximumAmount) {
		return nil, "", ErrAmountOutOfRange
	}
	if termMonths < product.MinimumTerm || termMonths > product.MaximumTerm {
		return nil, "", ErrTermOutOfRange
	}
	if floor, ok := s.policyFloor(); ok && product.InterestRate.LessThan(floor) {
		// Pricing below the central bank policy rate is suspicious but not
		// fatal; the product owner decides.
		s.log.Warnf("Product %s rate %s%% is below the policy rate %s%%",
			product.Name, product.InterestRate.StringFixed(2), floor.StringFixed(2))
	}

	now := s.Clock()
	app := &models.LoanApplication{
		CustomerID:        customerID,
		ProductID:         productID,
		ApplicationNumber: models.NewApplicationNumber(now),
		AmountRequested:   amount,
		TermMonths:        termMonths,
		Purpose:           purpose,
		Status:            models.ApplicationPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	assessment, err := s.engine.Score(ctx, customerID, &amount)
	if err != nil {
		return nil, "", fmt.Errorf("failed to score application: %w", err)
	}
	app.RiskScore = assessment.Score
	app.RiskTier = assessment.Tier
	app.RiskFactors = assessment.Factors

	decision := risk.Decide(product, assessment.Score, amount)
	switch decision {
	case risk.DecisionApprove:
		app.Status = models.ApplicationApproved
		app.RiskNotes = fmt.Sprintf("Auto-approved with score %s", assessment.Score.StringFixed(2))
	case risk.DecisionReject:
		app.Status = models.ApplicationRejected
		app.RiskNotes = fmt.Sprintf("Auto-rejected with score %s", assessment.Score.StringFixed(2))
	default:
		app.RiskNotes = fmt.Sprintf("Queued for review with score %s", assessment.Score.StringFixed(2))
	}

	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, "", err
	}
	s.log.Infof("Application %s scored %s: %s", app.ApplicationNumber, assessment.Score.StringFixed(2), decision)

	if _, err := s.detector.Evaluate(ctx, app); err != nil {
		// Alerts are advisory; a detection failure must not undo the decision.
		s.log.Errorf("Alert detection failed for application %s: %v", app.ApplicationNumber, err)
	}

	if decision == risk.DecisionApprove {
		if _, err := s.createLoan(ctx, app, product, "system"); err != nil {
			return nil, "", err
		}
	}
	return app, decision, nil
}

// ApproveApplication is the manual approval path for applications the
// automatic decision left in review. It creates the loan with the product's
// current terms.
func (s *Service) ApproveApplication(ctx context.Context, applicationID int64, actor string) (*models.Loan, error) {
	app, err := s.store.ApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationPending {
		return nil, ErrNotPendingApplication
	}
	product, err := s.store.ProductByID(ctx, app.ProductID)
	if err != nil {
		return nil, err
	}

	app.Status = models.ApplicationApproved
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return nil, err
	}
	return s.createLoan(ctx, app, product, actor)
}

// RejectApplication is the manual rejection path.
func (s *Service) RejectApplication(ctx context.Context, applicationID int64, actor, notes string) (*models.LoanApplication, error) {
	app, err := s.store.ApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.ApplicationPending {
		return nil, ErrNotPendingApplication
	}
	app.Status = models.ApplicationRejected
	if notes != "" {
		app.RiskNotes = notes
	}
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return nil, err
	}
	s.log.Infof("Application %s rejected by %s", app.ApplicationNumber, actor)
	return app, nil
}

// policyFloor returns the central bank policy rate, refreshing the cached
// value once it is older than policyRateTTL. A fetch failure is logged and
// reported as no floor available.
func (s *Service) policyFloor() (decimal.Decimal, bool) {
	if s.rates == nil {
		return decimal.Zero, false
	}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	now := s.Clock()
	if !s.rateFetched.IsZero() && now.Sub(s.rateFetched) < policyRateTTL {
		return s.cachedRate, true
	}
	rate, err := s.rates.PolicyRate()
	if err != nil {
		s.log.Warnf("Failed to fetch policy rate: %v", err)
		return decimal.Zero, false
	}
	s.cachedRate = rate
	s.rateFetched = now
	return rate, true
}

// createLoan copies the product terms onto a new APPROVED loan. The copy is
// deliberate: later product changes must not touch existing loans. Products
// that leave interest or penalty rates unset fall back to the configuration
// record effective when the application was made.
func (s *Service) createLoan(ctx context.Context, app *models.LoanApplication, product *models.LoanProduct, actor string) (*models.Loan, error) {
	interestRate := product.InterestRate
	penaltyRate := product.PenaltyRate
	if (interestRate.IsZero() || penaltyRate.IsZero()) && s.configs != nil {
		if cfg, ok := s.configs.At(product.LoanType, app.CreatedAt); ok {
			if interestRate.IsZero() {
				interestRate = cfg.InterestRate
			}
			if penaltyRate.IsZero() {
				penaltyRate = cfg.PenaltyRate
			}
		}
	}

	now := s.Clock()
	loan := &models.Loan{
		ProductID:         product.ID,
		CustomerID:        app.CustomerID,
		ApplicationID:     app.ID,
		ApplicationNumber: app.ApplicationNumber,
		Amount:            app.AmountRequested,
		TermMonths:        app.TermMonths,
		InterestMethod:    product.InterestMethod,
		InterestRate:      interestRate,
		ProcessingFee:     product.ProcessingFee,
		InsuranceFee:      product.InsuranceFee,
		PenaltyRate:       penaltyRate,
		GraceMonths:       product.GracePeriod,
		Status:            models.LoanApproved,
		RiskScore:         app.RiskScore,
		RiskTier:          app.RiskTier,
		RiskFactors:       app.RiskFactors,
		RiskNotes:         app.RiskNotes,
		ApplicationDate:   app.CreatedAt,
		ApprovalDate:      &now,
		Purpose:           app.Purpose,
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return nil, err
	}
	s.log.Infof("Loan %s approved by %s for %s", loan.ApplicationNumber, actor, loan.Amount.StringFixed(2))
	return loan, nil
}

// ResolveAlert marks a risk alert as handled.
func (s *Service) ResolveAlert(ctx context.Context, alertID int64, actor, notes string) (*models.RiskAlert, error) {
	alert, err := s.store.AlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	alert.Resolve(actor, notes, s.Clock())
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.log.Infof("Alert %d resolved by %s", alert.ID, actor)
	return alert, nil
}
