package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lalloyce/optifluenceLMS/internal/models"
)

// CreateApplication inserts a new loan application with its risk assessment.
func (r *Repository) CreateApplication(ctx context.Context, app *models.LoanApplication) error {
	factors, err := json.Marshal(app.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}
	query := `
		INSERT INTO loan_applications (customer_id, product_id, application_number,
			amount_requested, term_months, purpose, status, risk_score, risk_tier,
			risk_factors, risk_notes, disbursement_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, app.CustomerID, app.ProductID,
		app.ApplicationNumber, app.AmountRequested, app.TermMonths, app.Purpose,
		app.Status, app.RiskScore, app.RiskTier, factors, app.RiskNotes,
		app.DisbursementDate).Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	return nil
}

// SaveApplication updates an application's status and risk assessment.
func (r *Repository) SaveApplication(ctx context.Context, app *models.LoanApplication) error {
	factors, err := json.Marshal(app.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to encode risk factors: %w", err)
	}
	query := `
		UPDATE loan_applications
		SET status = $2, risk_score = $3, risk_tier = $4, risk_factors = $5,
			risk_notes = $6, disbursement_date = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, app.ID, app.Status, app.RiskScore,
		app.RiskTier, factors, app.RiskNotes, app.DisbursementDate); err != nil {
		return fmt.Errorf("failed to save application: %w", err)
	}
	return nil
}

// ApplicationByID loads a loan application.
func (r *Repository) ApplicationByID(ctx context.Context, id int64) (*models.LoanApplication, error) {
	query := `
		SELECT id, customer_id, product_id, application_number, amount_requested,
			term_months, COALESCE(purpose, ''), status, risk_score,
			COALESCE(risk_tier, ''), risk_factors, COALESCE(risk_notes, ''),
			disbursement_date, created_at, updated_at
		FROM loan_applications
		WHERE id = $1`
	app := &models.LoanApplication{}
	var factors []byte
	var disbursement sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(&app.ID, &app.CustomerID,
		&app.ProductID, &app.ApplicationNumber, &app.AmountRequested,
		&app.TermMonths, &app.Purpose, &app.Status, &app.RiskScore, &app.RiskTier,
		&factors, &app.RiskNotes, &disbursement, &app.CreatedAt, &app.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("application %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load application: %w", err)
	}
	app.DisbursementDate = timePtr(disbursement)
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &app.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors: %w", err)
		}
	}
	return app, nil
}

// RecentApplicationCount counts a customer's applications since the cutoff,
// excluding the application currently under evaluation.
func (r *Repository) RecentApplicationCount(ctx context.Context, customerID int64, since time.Time, excludeApplicationID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM loan_applications
		WHERE customer_id = $1 AND created_at >= $2 AND id <> $3`
	var count int
	if err := r.db.QueryRowContext(ctx, query, customerID, since, excludeApplicationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent applications: %w", err)
	}
	return count, nil
}

// SaveAlert inserts a new alert or updates an existing one's resolution state.
func (r *Repository) SaveAlert(ctx context.Context, alert *models.RiskAlert) error {
	details, err := json.Marshal(alert.Details)
	if err != nil {
		return fmt.Errorf("failed to encode alert details: %w", err)
	}
	if alert.ID == 0 {
		query := `
			INSERT INTO risk_alerts (application_id, customer_id, alert_type, severity,
				message, details, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err = r.db.QueryRowContext(ctx, query, alert.ApplicationID, alert.CustomerID,
			alert.Type, alert.Severity, alert.Message, details, alert.IsActive).
			Scan(&alert.ID, &alert.CreatedAt, &alert.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create alert: %w", err)
		}
		return nil
	}
	query := `
		UPDATE risk_alerts
		SET is_active = $2, resolved_at = $3, resolved_by = $4, resolution_notes = $5,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, alert.ID, alert.IsActive,
		alert.ResolvedAt, alert.ResolvedBy, alert.ResolutionNotes); err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (r *Repository) ActiveAlerts(ctx context.Context) ([]*models.RiskAlert, error) {
	query := `
		SELECT id, application_id, customer_id, alert_type, severity, message,
			details, is_active, resolved_at, COALESCE(resolved_by, ''),
			COALESCE(resolution_notes, ''), created_at, updated_at
		FROM risk_alerts
		WHERE is_active
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.RiskAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// AlertByID loads a single risk alert.
func (r *Repository) AlertByID(ctx context.Context, id int64) (*models.RiskAlert, error) {
	query := `
		SELECT id, application_id, customer_id, alert_type, severity, message,
			details, is_active, resolved_at, COALESCE(resolved_by, ''),
			COALESCE(resolution_notes, ''), created_at, updated_at
		FROM risk_alerts
		WHERE id = $1`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return alert, nil
}

func scanAlert(row rowScanner) (*models.RiskAlert, error) {
	alert := &models.RiskAlert{}
	var details []byte
	var resolvedAt sql.NullTime
	err := row.Scan(&alert.ID, &alert.ApplicationID, &alert.CustomerID, &alert.Type,
		&alert.Severity, &alert.Message, &details, &alert.IsActive, &resolvedAt,
		&alert.ResolvedBy, &alert.ResolutionNotes, &alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		return nil, err
	}
	alert.ResolvedAt = timePtr(resolvedAt)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &alert.Details); err != nil {
			return nil, fmt.Errorf("failed to decode alert details: %w", err)
		}
	}
	return alert, nil
}

// ProductByID loads a loan product.
func (r *Repository) ProductByID(ctx context.Context, id int64) (*models.LoanProduct, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), loan_type, interest_method,
			interest_rate, minimum_amount, maximum_amount, minimum_term, maximum_term,
			processing_fee, insurance_fee, penalty_rate, grace_period_months,
			moderate_risk_max_amount, medium_risk_max_amount, high_risk_max_amount,
			auto_approve_above, auto_reject_below, is_active, created_at, updated_at
		FROM loan_products
		WHERE id = $1`
	product := &models.LoanProduct{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&product.ID, &product.Name,
		&product.Description, &product.LoanType, &product.InterestMethod, &product.InterestRate,
		&product.MinimumAmount, &product.MaximumAmount, &product.MinimumTerm,
		&product.MaximumTerm, &product.ProcessingFee, &product.InsuranceFee,
		&product.PenaltyRate, &product.GracePeriod, &product.ModerateRiskMaxAmount,
		&product.MediumRiskMaxAmount, &product.HighRiskMaxAmount,
		&product.AutoApproveAbove, &product.AutoRejectBelow, &product.IsActive,
		&product.CreatedAt, &product.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	return product, nil
}

// ProductConfigs loads every effective-dated configuration record, newest
// first. The set is read once at startup; superseding terms means inserting
// a new row, never updating an old one.
func (r *Repository) ProductConfigs(ctx context.Context) ([]models.ProductConfig, error) {
	query := `
		SELECT loan_type, interest_rate, penalty_rate, term_days,
			effective_from, effective_to
		FROM product_configs
		ORDER BY effective_from DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list product configs: %w", err)
	}
	defer rows.Close()

	var configs []models.ProductConfig
	for rows.Next() {
		var cfg models.ProductConfig
		var effectiveTo sql.NullTime
		if err := rows.Scan(&cfg.LoanType, &cfg.InterestRate, &cfg.PenaltyRate,
			&cfg.TermDays, &cfg.EffectiveFrom, &effectiveTo); err != nil {
			return nil, fmt.Errorf("failed to scan product config: %w", err)
		}
		cfg.EffectiveTo = timePtr(effectiveTo)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
