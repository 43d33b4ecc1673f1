package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// LoanType distinguishes configuration families.
type LoanType string

const (
	LoanTypePersonal LoanType = "PERSONAL"
	LoanTypeBusiness LoanType = "BUSINESS"
)

// ProductConfig is one effective-dated configuration record. Records are
// immutable; superseding terms means appending a new record with a later
// effective-from.
type ProductConfig struct {
	LoanType      LoanType        `json:"loan_type"`
	InterestRate  decimal.Decimal `json:"interest_rate"` // annual, percent
	PenaltyRate   decimal.Decimal `json:"penalty_rate"`  // annual, percent
	TermDays      int             `json:"term_days"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"` // nil = open-ended
}

// ProductConfigSet resolves the applicable configuration for a loan type at
// a point in time. It is a pure lookup over a sorted list; there is no
// mutable "current configuration" state.
type ProductConfigSet struct {
	records []ProductConfig
}

// NewProductConfigSet copies and sorts the records by effective-from
// descending so lookups scan newest first.
func NewProductConfigSet(records []ProductConfig) *ProductConfigSet {
	sorted := make([]ProductConfig, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectiveFrom.After(sorted[j].EffectiveFrom)
	})
	return &ProductConfigSet{records: sorted}
}

// At returns the configuration effective for loanType at the given time,
// or false when none applies.
func (s *ProductConfigSet) At(loanType LoanType, at time.Time) (ProductConfig, bool) {
	for _, rec := range s.records {
		if rec.LoanType != loanType {
			continue
		}
		if rec.EffectiveFrom.After(at) {
			continue
		}
		if rec.EffectiveTo != nil && !rec.EffectiveTo.After(at) {
			continue
		}
		return rec, true
	}
	return ProductConfig{}, false
}
