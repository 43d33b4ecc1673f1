package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/risk"
)

type fakeStore struct {
	products     map[int64]*models.LoanProduct
	applications map[int64]*models.LoanApplication
	loans        []*models.Loan
	alerts       map[int64]*models.RiskAlert
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:     map[int64]*models.LoanProduct{},
		applications: map[int64]*models.LoanApplication{},
		alerts:       map[int64]*models.RiskAlert{},
	}
}

func (s *fakeStore) ProductByID(ctx context.Context, id int64) (*models.LoanProduct, error) {
	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d not found", id)
	}
	return product, nil
}

func (s *fakeStore) CreateApplication(ctx context.Context, app *models.LoanApplication) error {
	s.nextID++
	app.ID = s.nextID
	s.applications[app.ID] = app
	return nil
}

func (s *fakeStore) SaveApplication(ctx context.Context, app *models.LoanApplication) error {
	s.applications[app.ID] = app
	return nil
}

func (s *fakeStore) ApplicationByID(ctx context.Context, id int64) (*models.LoanApplication, error) {
	app, ok := s.applications[id]
	if !ok {
		return nil, fmt.Errorf("application %d not found", id)
	}
	return app, nil
}

func (s *fakeStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	s.nextID++
	loan.ID = s.nextID
	s.loans = append(s.loans, loan)
	return nil
}

func (s *fakeStore) AlertByID(ctx context.Context, id int64) (*models.RiskAlert, error) {
	alert, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %d not found", id)
	}
	return alert, nil
}

func (s *fakeStore) SaveAlert(ctx context.Context, alert *models.RiskAlert) error {
	if alert.ID == 0 {
		s.nextID++
		alert.ID = s.nextID
	}
	s.alerts[alert.ID] = alert
	return nil
}

func (s *fakeStore) ActiveAlerts(ctx context.Context) ([]*models.RiskAlert, error) {
	var active []*models.RiskAlert
	for _, alert := range s.alerts {
		if alert.IsActive {
			active = append(active, alert)
		}
	}
	return active, nil
}

// emptyHistory satisfies risk.History for a customer with no past loans.
type emptyHistory struct{}

func (emptyHistory) LoansByCustomer(ctx context.Context, customerID int64) ([]*models.Loan, error) {
	return nil, nil
}

func (emptyHistory) InstallmentsForLoan(ctx context.Context, loanID int64) ([]*models.Installment, error) {
	return nil, nil
}

func (emptyHistory) RecentApplicationCount(ctx context.Context, customerID int64, since time.Time, excludeApplicationID int64) (int, error) {
	return 0, nil
}

type nopNotifier struct{}

func (nopNotifier) AlertRaised(*models.RiskAlert) {}

// fakeRates counts fetches so caching behavior is observable.
type fakeRates struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (f *fakeRates) PolicyRate() (decimal.Decimal, error) {
	f.calls++
	return f.rate, f.err
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testProduct() *models.LoanProduct {
	return &models.LoanProduct{
		ID:                    1,
		Name:                  "Personal Loan",
		LoanType:              models.LoanTypePersonal,
		InterestMethod:        models.InterestFlat,
		InterestRate:          decimal.RequireFromString("12"),
		MinimumAmount:         decimal.RequireFromString("1000"),
		MaximumAmount:         decimal.RequireFromString("100000"),
		MinimumTerm:           3,
		MaximumTerm:           24,
		PenaltyRate:           decimal.RequireFromString("12"),
		GracePeriod:           1,
		ModerateRiskMaxAmount: decimal.RequireFromString("50000"),
		MediumRiskMaxAmount:   decimal.RequireFromString("25000"),
		HighRiskMaxAmount:     decimal.RequireFromString("10000"),
		AutoApproveAbove:      decimal.RequireFromString("55"),
		AutoRejectBelow:       decimal.RequireFromString("30"),
		IsActive:              true,
	}
}

func newTestService(store *fakeStore) *Service {
	return newTestServiceWith(store, nil, nil)
}

func newTestServiceWith(store *fakeStore, configs *models.ProductConfigSet, rates RateSource) *Service {
	history := emptyHistory{}
	engine := risk.NewEngine(history, testLogger())
	detector := risk.NewDetector(history, store, nopNotifier{}, testLogger())
	svc := NewService(store, configs, rates, engine, detector, testLogger())
	svc.Clock = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubmitApplicationAutoApprove(t *testing.T) {
	store := newFakeStore()
	store.products[1] = testProduct()
	svc := newTestService(store)

	// A first-time borrower scores 57.5, above this product's auto-approve
	// threshold, and 20000 is within the MEDIUM tier ceiling.
	app, decision, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "stock")
	require.NoError(t, err)
	assert.Equal(t, risk.DecisionApprove, decision)
	assert.Equal(t, models.ApplicationApproved, app.Status)
	assert.True(t, app.RiskScore.Equal(decimal.RequireFromString("57.5")), "score %s", app.RiskScore)
	assert.Equal(t, models.TierMedium, app.RiskTier)

	// Auto-approval creates the loan with the product terms copied over.
	require.Len(t, store.loans, 1)
	loan := store.loans[0]
	assert.Equal(t, models.LoanApproved, loan.Status)
	assert.Equal(t, app.ApplicationNumber, loan.ApplicationNumber)
	assert.True(t, loan.InterestRate.Equal(decimal.RequireFromString("12")))
	assert.Equal(t, 1, loan.GraceMonths)
	require.NotNil(t, loan.ApprovalDate)
}

func TestSubmitApplicationReview(t *testing.T) {
	store := newFakeStore()
	product := testProduct()
	product.AutoApproveAbove = decimal.RequireFromString("80")
	store.products[1] = product
	svc := newTestService(store)

	app, decision, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	assert.Equal(t, risk.DecisionReview, decision)
	assert.Equal(t, models.ApplicationPending, app.Status)
	assert.Empty(t, store.loans)
}

func TestSubmitApplicationAmountAboveTierCeiling(t *testing.T) {
	store := newFakeStore()
	store.products[1] = testProduct()
	svc := newTestService(store)

	// Score 57.5 allows at most the MEDIUM ceiling of 25000.
	_, decision, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("40000"), 12, "")
	require.NoError(t, err)
	assert.Equal(t, risk.DecisionReview, decision)
}

func TestSubmitApplicationValidation(t *testing.T) {
	store := newFakeStore()
	store.products[1] = testProduct()
	svc := newTestService(store)

	_, _, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("500"), 12, "")
	assert.ErrorIs(t, err, ErrAmountOutOfRange)

	_, _, err = svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 48, "")
	assert.ErrorIs(t, err, ErrTermOutOfRange)

	store.products[1].IsActive = false
	_, _, err = svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	assert.ErrorIs(t, err, ErrProductInactive)
}

func TestApproveApplication(t *testing.T) {
	store := newFakeStore()
	product := testProduct()
	product.AutoApproveAbove = decimal.RequireFromString("80")
	store.products[1] = product
	svc := newTestService(store)

	app, _, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationPending, app.Status)

	loan, err := svc.ApproveApplication(context.Background(), app.ID, "officer-3")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationApproved, app.Status)
	assert.Equal(t, models.LoanApproved, loan.Status)
	assert.Equal(t, int64(7), loan.CustomerID)

	// A settled application cannot be approved again.
	_, err = svc.ApproveApplication(context.Background(), app.ID, "officer-3")
	assert.ErrorIs(t, err, ErrNotPendingApplication)
}

func TestRejectApplication(t *testing.T) {
	store := newFakeStore()
	product := testProduct()
	product.AutoApproveAbove = decimal.RequireFromString("80")
	store.products[1] = product
	svc := newTestService(store)

	app, _, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)

	rejected, err := svc.RejectApplication(context.Background(), app.ID, "officer-3", "income not verifiable")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationRejected, rejected.Status)
	assert.Equal(t, "income not verifiable", rejected.RiskNotes)
	assert.Empty(t, store.loans)
}

func TestCreateLoanFallsBackToConfigRates(t *testing.T) {
	// A product that leaves its rates unset inherits them from the
	// configuration record effective when the application was made.
	store := newFakeStore()
	product := testProduct()
	product.InterestRate = decimal.Zero
	product.PenaltyRate = decimal.Zero
	store.products[1] = product

	configs := models.NewProductConfigSet([]models.ProductConfig{
		{
			LoanType:      models.LoanTypePersonal,
			InterestRate:  decimal.RequireFromString("15"),
			PenaltyRate:   decimal.RequireFromString("10"),
			EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			LoanType:      models.LoanTypeBusiness,
			InterestRate:  decimal.RequireFromString("22"),
			PenaltyRate:   decimal.RequireFromString("18"),
			EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	})
	svc := newTestServiceWith(store, configs, nil)

	_, decision, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	require.Equal(t, risk.DecisionApprove, decision)

	require.Len(t, store.loans, 1)
	loan := store.loans[0]
	assert.True(t, loan.InterestRate.Equal(decimal.RequireFromString("15")), "interest %s", loan.InterestRate)
	assert.True(t, loan.PenaltyRate.Equal(decimal.RequireFromString("10")), "penalty %s", loan.PenaltyRate)
}

func TestCreateLoanKeepsExplicitProductRates(t *testing.T) {
	store := newFakeStore()
	store.products[1] = testProduct()
	configs := models.NewProductConfigSet([]models.ProductConfig{{
		LoanType:      models.LoanTypePersonal,
		InterestRate:  decimal.RequireFromString("15"),
		PenaltyRate:   decimal.RequireFromString("10"),
		EffectiveFrom: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}})
	svc := newTestServiceWith(store, configs, nil)

	_, _, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)

	require.Len(t, store.loans, 1)
	assert.True(t, store.loans[0].InterestRate.Equal(decimal.RequireFromString("12")))
}

func TestSubmitApplicationPolicyRateCheck(t *testing.T) {
	// A product priced below the policy rate still goes through; the check
	// only warns. The fetched rate is cached across submissions.
	store := newFakeStore()
	store.products[1] = testProduct()
	rates := &fakeRates{rate: decimal.RequireFromString("16.5")}
	svc := newTestServiceWith(store, nil, rates)

	_, _, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	_, _, err = svc.SubmitApplication(context.Background(), 8, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	assert.Equal(t, 1, rates.calls)
}

func TestSubmitApplicationPolicyRateFailureNonFatal(t *testing.T) {
	store := newFakeStore()
	store.products[1] = testProduct()
	rates := &fakeRates{err: fmt.Errorf("soap endpoint unreachable")}
	svc := newTestServiceWith(store, nil, rates)

	_, decision, err := svc.SubmitApplication(context.Background(), 7, 1, decimal.RequireFromString("20000"), 12, "")
	require.NoError(t, err)
	assert.Equal(t, risk.DecisionApprove, decision)
}

func TestResolveAlert(t *testing.T) {
	store := newFakeStore()
	store.alerts[5] = &models.RiskAlert{ID: 5, IsActive: true}
	svc := newTestService(store)

	alert, err := svc.ResolveAlert(context.Background(), 5, "officer-3", "reviewed, acceptable")
	require.NoError(t, err)
	assert.False(t, alert.IsActive)
	assert.Equal(t, "officer-3", alert.ResolvedBy)
	assert.Equal(t, "reviewed, acceptable", alert.ResolutionNotes)
}
