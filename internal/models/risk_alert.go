package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType identifies the risk pattern behind an alert.
type AlertType string

const (
	AlertHighRiskApplication AlertType = "HIGH_RISK_APPLICATION"
	AlertMultipleActiveLoans AlertType = "MULTIPLE_ACTIVE_LOANS"
	AlertPaymentPattern      AlertType = "PAYMENT_PATTERN"
	AlertRapidRequests       AlertType = "RAPID_REQUESTS"
	AlertAmountSpike         AlertType = "AMOUNT_SPIKE"
)

// AlertSeverity ranks an alert.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// RiskAlert records a detected risk pattern on a loan application.
type RiskAlert struct {
	ID              int64                      `json:"id"`
	ApplicationID   int64                      `json:"application_id"`
	CustomerID      int64                      `json:"customer_id"`
	Type            AlertType                  `json:"alert_type"`
	Severity        AlertSeverity              `json:"severity"`
	Message         string                     `json:"message"`
	Details         map[string]decimal.Decimal `json:"details,omitempty"`
	IsActive        bool                       `json:"is_active"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	ResolvedAt      *time.Time                 `json:"resolved_at,omitempty"`
	ResolvedBy      string                     `json:"resolved_by,omitempty"`
	ResolutionNotes string                     `json:"resolution_notes,omitempty"`
}

// Resolve marks the alert inactive. Resolving an already-resolved alert is
// a no-op so callers can retry safely.
func (a *RiskAlert) Resolve(actor, notes string, now time.Time) {
	if !a.IsActive {
		return
	}
	a.IsActive = false
	a.ResolvedAt = &now
	a.ResolvedBy = actor
	a.ResolutionNotes = notes
	a.UpdatedAt = now
}
