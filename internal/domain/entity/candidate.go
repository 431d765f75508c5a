package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CandidateStatus is the liquidation tier of a candidate.
type CandidateStatus string

const (
	StatusWatch     CandidateStatus = "watch"
	StatusExecReady CandidateStatus = "exec_ready"
)

// ProximitySentinel stands in for 1/HF when the health factor is zero.
var ProximitySentinel = decimal.NewFromInt(1_000_000_000)

// Thresholds are the health factor tiers and the dust floor.
type Thresholds struct {
	// Liquidation is the health factor below which an account can be liquidated.
	Liquidation decimal.Decimal
	// Risk is the ceiling for publishing a candidate.
	Risk decimal.Decimal
	// Warning is the ceiling for the scheduler's priority set.
	Warning decimal.Decimal
	// DustUSD is the minimum debt worth publishing.
	DustUSD decimal.Decimal
}

// DefaultThresholds returns the standard tiers: 1.0, 1.1, 1.5 and a $10 dust floor.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Liquidation: decimal.NewFromInt(1),
		Risk:        decimal.RequireFromString("1.1"),
		Warning:     decimal.RequireFromString("1.5"),
		DustUSD:     decimal.NewFromInt(10),
	}
}

// Validate checks that the tiers are ordered.
func (t Thresholds) Validate() error {
	if !t.Liquidation.IsPositive() {
		return fmt.Errorf("liquidation threshold must be positive, got %s", t.Liquidation)
	}
	if t.Risk.LessThan(t.Liquidation) {
		return fmt.Errorf("risk threshold %s must not be below liquidation threshold %s", t.Risk, t.Liquidation)
	}
	if t.Warning.LessThan(t.Risk) {
		return fmt.Errorf("warning threshold %s must not be below risk threshold %s", t.Warning, t.Risk)
	}
	if t.DustUSD.IsNegative() {
		return fmt.Errorf("dust floor must be non-negative, got %s", t.DustUSD)
	}
	return nil
}

// Candidate is a published at-risk account.
type Candidate struct {
	ID                  string           `json:"id"`
	Borrower            common.Address   `json:"borrower"`
	HealthFactor        decimal.Decimal  `json:"healthFactor"`
	Proximity           decimal.Decimal  `json:"proximity"`
	CollateralUSD       decimal.Decimal  `json:"collateralUSD"`
	DebtUSD             decimal.Decimal  `json:"debtUSD"`
	BestDebtAsset       *common.Address  `json:"bestDebtAsset,omitempty"`
	BestCollateralAsset *common.Address  `json:"bestCollateralAsset,omitempty"`
	BestDebtAmount      *big.Int         `json:"bestDebtAmount,omitempty"`
	BestDebtUSD         *decimal.Decimal `json:"bestDebtUSD,omitempty"`
	BestCollateralUSD   *decimal.Decimal `json:"bestCollateralUSD,omitempty"`
	Status              CandidateStatus  `json:"status"`
	Timestamp           time.Time        `json:"timestamp"`
}

// HasAssetPair reports whether the published best assets are known, non-zero
// and carry a positive debt amount.
func (c Candidate) HasAssetPair() bool {
	return c.BestDebtAsset != nil && c.BestCollateralAsset != nil &&
		*c.BestDebtAsset != (common.Address{}) && *c.BestCollateralAsset != (common.Address{}) &&
		c.BestDebtAmount != nil && c.BestDebtAmount.Sign() > 0
}

// CandidateID builds the "<protocol>:<account>" identifier.
func CandidateID(protocol string, account common.Address) string {
	return protocol + ":" + account.Hex()
}

// Classify maps a snapshot to a candidate. It returns false when the account
// is healthy enough to ignore or its debt is below the dust floor.
func Classify(s *HealthSnapshot, th Thresholds, protocol string, now time.Time) (Candidate, bool) {
	if s == nil {
		return Candidate{}, false
	}
	if s.HealthFactor.GreaterThanOrEqual(th.Risk) {
		return Candidate{}, false
	}
	if s.DebtUSD.LessThan(th.DustUSD) {
		return Candidate{}, false
	}

	status := StatusWatch
	if s.HealthFactor.LessThan(th.Liquidation) {
		status = StatusExecReady
	}

	c := Candidate{
		ID:                  CandidateID(protocol, s.Account),
		Borrower:            s.Account,
		HealthFactor:        s.HealthFactor,
		Proximity:           Proximity(s.HealthFactor),
		CollateralUSD:       s.CollateralUSD,
		DebtUSD:             s.DebtUSD,
		BestDebtAsset:       s.BestDebtAsset,
		BestCollateralAsset: s.BestCollateralAsset,
		BestDebtAmount:      s.BestDebtAmount,
		Status:              status,
		Timestamp:           now.UTC(),
	}
	if s.BestDebtAsset != nil {
		debtUSD, collateralUSD := s.BestDebtUSD, s.BestCollateralUSD
		c.BestDebtUSD = &debtUSD
		c.BestCollateralUSD = &collateralUSD
	}
	return c, true
}

// Proximity returns 1/hf, or ProximitySentinel when hf is zero.
func Proximity(hf decimal.Decimal) decimal.Decimal {
	if hf.IsZero() {
		return ProximitySentinel
	}
	return decimal.NewFromInt(1).Div(hf)
}

// CandidateBatch is one complete publication of the scheduler.
// A new batch always replaces the previous one.
type CandidateBatch struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	Cycle       uint64      `json:"cycle"`
	Items       []Candidate `json:"items"`
}

// CountByStatus returns how many items carry status.
func (b *CandidateBatch) CountByStatus(status CandidateStatus) int {
	n := 0
	for _, c := range b.Items {
		if c.Status == status {
			n++
		}
	}
	return n
}
