package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTierForScore(t *testing.T) {
	cases := map[string]RiskTier{
		"95":    TierLow,
		"80":    TierLow,
		"79.99": TierModerate,
		"60":    TierModerate,
		"59":    TierMedium,
		"40":    TierMedium,
		"39.99": TierHigh,
		"0":     TierHigh,
	}
	for score, want := range cases {
		assert.Equal(t, want, TierForScore(decimal.RequireFromString(score)), "score %s", score)
	}
}

func TestNewApplicationNumber(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	number := NewApplicationNumber(now)
	assert.True(t, strings.HasPrefix(number, "LN20260830"))
	assert.Len(t, number, 16)
	assert.Equal(t, number, strings.ToUpper(number))
}

func TestOutstandingTotal(t *testing.T) {
	loan := &Loan{
		Installments: []*Installment{
			{TotalAmount: decimal.RequireFromString("1000"), PaidAmount: decimal.RequireFromString("1000")},
			{TotalAmount: decimal.RequireFromString("1000"), PaidAmount: decimal.RequireFromString("250")},
			{TotalAmount: decimal.RequireFromString("1000"), PaidAmount: decimal.Zero},
		},
	}
	assert.True(t, loan.OutstandingTotal().Equal(decimal.RequireFromString("1750")))
}

func TestPendingInstallments(t *testing.T) {
	loan := &Loan{
		Installments: []*Installment{
			{Number: 1, Status: InstallmentPaid},
			{Number: 2, Status: InstallmentPartiallyPaid},
			{Number: 3, Status: InstallmentOverdue},
			{Number: 4, Status: InstallmentPending},
		},
	}
	pending := loan.PendingInstallments()
	assert.Len(t, pending, 3)
	for _, inst := range pending {
		assert.NotEqual(t, InstallmentPaid, inst.Status)
	}
}

func TestInstallmentByNumber(t *testing.T) {
	loan := &Loan{
		Installments: []*Installment{{Number: 1}, {Number: 2}},
	}
	assert.Equal(t, loan.Installments[1], loan.InstallmentByNumber(2))
	assert.Nil(t, loan.InstallmentByNumber(9))
}
