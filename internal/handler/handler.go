// Package handler exposes the loan lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/lalloyce/optifluenceLMS/internal/middleware"
	"github.com/lalloyce/optifluenceLMS/internal/models"
	"github.com/lalloyce/optifluenceLMS/internal/repayment"
	"github.com/lalloyce/optifluenceLMS/internal/risk"
	"github.com/lalloyce/optifluenceLMS/internal/service"
)

// LedgerStore is the read surface the handlers need beyond the services.
type LedgerStore interface {
	LoanByID(ctx context.Context, id int64) (*models.Loan, error)
	LoanByApplicationNumber(ctx context.Context, number string) (*models.Loan, error)
	ApplicationByID(ctx context.Context, id int64) (*models.LoanApplication, error)
	TransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ActiveAlerts(ctx context.Context) ([]*models.RiskAlert, error)
}

// Handler wires HTTP requests to the loan services.
type Handler struct {
	svc      *service.Service
	proc     *repayment.Processor
	detector *risk.Detector
	store    LedgerStore
	log      *logrus.Logger
}

// NewHandler initializes the HTTP handler.
func NewHandler(svc *service.Service, proc *repayment.Processor, detector *risk.Detector, store LedgerStore, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, proc: proc, detector: detector, store: store, log: log}
}

type submitApplicationRequest struct {
	CustomerID int64           `json:"customer_id"`
	ProductID  int64           `json:"product_id"`
	Amount     decimal.Decimal `json:"amount"`
	TermMonths int             `json:"term_months"`
	Purpose    string          `json:"purpose"`
}

// SubmitApplication handles POST /applications.
func (h *Handler) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	var req submitApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	app, decision, err := h.svc.SubmitApplication(r.Context(), req.CustomerID, req.ProductID, req.Amount, req.TermMonths, req.Purpose)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"application": app,
		"decision":    decision,
	})
}

// GetApplication handles GET /applications/{id}.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	app, err := h.store.ApplicationByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// ApproveApplication handles POST /applications/{id}/approve.
func (h *Handler) ApproveApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	loan, err := h.svc.ApproveApplication(r.Context(), id, middleware.Actor(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, loan)
}

// RejectApplication handles POST /applications/{id}/reject.
func (h *Handler) RejectApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid application id")
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	app, err := h.svc.RejectApplication(r.Context(), id, middleware.Actor(r.Context()), req.Notes)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, app)
}

// GetLoan handles GET /loans/{id}.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, loan)
}

// GetBalance handles GET /loans/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.proc.GetBalance(loan))
}

// Disburse handles POST /loans/{id}/disburse.
func (h *Handler) Disburse(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	txn, err := h.proc.Disburse(r.Context(), loan.ID, middleware.Actor(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	updated, err := h.store.LoanByID(r.Context(), loan.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"loan":        updated,
		"transaction": txn,
	})
}

// RegenerateSchedule handles POST /loans/{id}/schedule.
func (h *Handler) RegenerateSchedule(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	installments, err := h.proc.GenerateSchedule(r.Context(), loan.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, installments)
}

type paymentRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	PaymentMethod  string            `json:"payment_method"`
	PaymentDetails map[string]string `json:"payment_details"`
	Notes          string            `json:"notes"`
}

// ProcessPayment handles POST /loans/{id}/repayments.
func (h *Handler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txns, err := h.proc.ProcessPayment(r.Context(), loan.ID, req.Amount, req.PaymentMethod, req.PaymentDetails, req.Notes, middleware.Actor(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	updated, err := h.store.LoanByID(r.Context(), loan.ID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"transactions": txns,
		"balance":      h.proc.GetBalance(updated),
	})
}

type waiverRequest struct {
	InstallmentNumber int             `json:"installment_number"`
	Amount            decimal.Decimal `json:"amount"`
	Notes             string          `json:"notes"`
}

// WaivePenalty handles POST /loans/{id}/waivers.
func (h *Handler) WaivePenalty(w http.ResponseWriter, r *http.Request) {
	loan, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	var req waiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	txn, err := h.proc.WaivePenalty(r.Context(), loan.ID, req.InstallmentNumber, req.Amount, req.Notes, middleware.Actor(r.Context()))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

// ReverseTransaction handles POST /transactions/{reference}/reverse.
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	txn, err := h.store.TransactionByReference(r.Context(), reference)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	reversed, err := h.proc.Reverse(r.Context(), txn.LoanID, reference, middleware.Actor(r.Context()), req.Notes)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reversed)
}

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.store.ActiveAlerts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// AlertSummary handles GET /alerts/summary.
func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.detector.ActiveAlertSummary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ResolveAlert handles POST /alerts/{id}/resolve.
func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	alert, err := h.svc.ResolveAlert(r.Context(), id, middleware.Actor(r.Context()), req.Notes)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (h *Handler) loadLoan(w http.ResponseWriter, r *http.Request) (*models.Loan, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid loan id")
		return nil, false
	}
	loan, err := h.store.LoanByID(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return loan, true
}

// respondServiceError maps domain errors onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repayment.ErrInvalidAmount),
		errors.Is(err, repayment.ErrExcessiveWaiver),
		errors.Is(err, service.ErrAmountOutOfRange),
		errors.Is(err, service.ErrTermOutOfRange):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repayment.ErrNoPendingInstallments),
		errors.Is(err, repayment.ErrNotReversible),
		errors.Is(err, repayment.ErrNotApproved),
		errors.Is(err, service.ErrProductInactive),
		errors.Is(err, service.ErrNotPendingApplication),
		errors.Is(err, models.ErrNotPending):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.log.Errorf("Request failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
