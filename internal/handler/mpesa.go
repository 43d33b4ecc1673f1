package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// stkCallback mirrors the Safaricom STK push result payload.
type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// MpesaCallback handles POST /payments/mpesa/callback. A successful result
// settles the referenced loan; the gateway is always acknowledged with a
// zero result code so it does not retry payloads we cannot use.
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	var payload stkCallback
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.log.Errorf("Unreadable mpesa callback: %v", err)
		acknowledge(w)
		return
	}

	callback := payload.Body.StkCallback
	if callback.ResultCode != 0 {
		h.log.Warnf("Mpesa payment %s failed: %s", callback.CheckoutRequestID, callback.ResultDesc)
		acknowledge(w)
		return
	}

	var amount decimal.Decimal
	details := map[string]string{
		"merchant_request_id": callback.MerchantRequestID,
		"checkout_request_id": callback.CheckoutRequestID,
	}
	var loanReference string
	for _, item := range callback.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if err := json.Unmarshal(item.Value, &amount); err != nil {
				h.log.Errorf("Unreadable mpesa amount in %s: %v", callback.CheckoutRequestID, err)
				acknowledge(w)
				return
			}
		case "MpesaReceiptNumber":
			details["receipt_number"] = rawString(item.Value)
		case "PhoneNumber":
			details["phone_number"] = rawString(item.Value)
		case "AccountReference":
			loanReference = rawString(item.Value)
		}
	}

	if loanReference == "" || !amount.IsPositive() {
		h.log.Errorf("Mpesa callback %s missing reference or amount", callback.CheckoutRequestID)
		acknowledge(w)
		return
	}

	loan, err := h.store.LoanByApplicationNumber(r.Context(), loanReference)
	if err != nil {
		h.log.Errorf("Mpesa callback %s: %v", callback.CheckoutRequestID, err)
		acknowledge(w)
		return
	}

	note := fmt.Sprintf("Mpesa receipt %s", details["receipt_number"])
	if _, err := h.proc.ProcessPayment(r.Context(), loan.ID, amount, "MPESA", details, note, "mpesa"); err != nil {
		h.log.Errorf("Failed to settle mpesa payment %s on loan %s: %v",
			callback.CheckoutRequestID, loan.ApplicationNumber, err)
		acknowledge(w)
		return
	}

	h.log.Infof("Settled mpesa payment of %s on loan %s", amount.StringFixed(2), loan.ApplicationNumber)
	acknowledge(w)
}

// rawString renders a metadata value as text whether the gateway sent it as
// a JSON string or a number.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}

func acknowledge(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}
