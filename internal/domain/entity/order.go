package entity

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Order is a fully parameterized liquidation instruction for the settlement contract.
type Order struct {
	DebtAsset       common.Address `json:"debtAsset"`
	CollateralAsset common.Address `json:"collateralAsset"`
	User            common.Address `json:"user"`
	DebtToCover     *big.Int       `json:"debtToCover"`
	SwapPath        hexutil.Bytes  `json:"swapPath"`
	MinAmountOut    *big.Int       `json:"minAmountOut"`
	MinProfit       *big.Int       `json:"minProfit"`
	Deadline        *big.Int       `json:"deadline"`
	MaxGasPrice     *big.Int       `json:"maxGasPrice"`
	ReferralCode    uint16         `json:"referralCode"`
	Nonce           *big.Int       `json:"nonce"`
}

// Validate checks the order's structural invariants.
func (o *Order) Validate() error {
	if o.DebtAsset == (common.Address{}) {
		return fmt.Errorf("debtAsset must be set")
	}
	if o.CollateralAsset == (common.Address{}) {
		return fmt.Errorf("collateralAsset must be set")
	}
	if o.User == (common.Address{}) {
		return fmt.Errorf("user must be set")
	}
	if o.DebtToCover == nil || o.DebtToCover.Sign() <= 0 {
		return fmt.Errorf("debtToCover must be positive")
	}
	if len(o.SwapPath) == 0 {
		return fmt.Errorf("swapPath must not be empty")
	}
	if o.Deadline == nil || o.Nonce == nil || o.MaxGasPrice == nil {
		return fmt.Errorf("deadline, nonce and maxGasPrice must be set")
	}
	return nil
}

// Refresh sets a new deadline and nonce just before the order is used.
func (o *Order) Refresh(deadline time.Time, nonce *big.Int) {
	o.Deadline = big.NewInt(deadline.Unix())
	o.Nonce = new(big.Int).Set(nonce)
}

// HalfDebt returns floor(debt/2), the close-factor repay amount.
func HalfDebt(debt *big.Int) *big.Int {
	if debt == nil {
		return new(big.Int)
	}
	return new(big.Int).Rsh(debt, 1)
}

// PlanAction tells the executor what to do with a plan item.
type PlanAction string

const (
	ActionWatch PlanAction = "WATCH"
	ActionExec  PlanAction = "EXEC"
)

// PlanItem is the planner's decision for one candidate.
type PlanItem struct {
	CandidateID       string          `json:"candidateId"`
	Borrower          common.Address  `json:"borrower"`
	Action            PlanAction      `json:"action"`
	HealthFactor      decimal.Decimal `json:"healthFactor"`
	Proximity         decimal.Decimal `json:"proximity"`
	Reason            string          `json:"reason,omitempty"`
	Order             *Order          `json:"order,omitempty"`
	ExpectedProfitUSD decimal.Decimal `json:"expectedProfitUSD"`
}

// OrderPlan is one complete publication of the planner.
type OrderPlan struct {
	GeneratedAt     time.Time  `json:"generatedAt"`
	PlanID          string     `json:"planId"`
	ActionableCount int        `json:"actionableCount"`
	Items           []PlanItem `json:"items"`
}

// Age returns how old the plan is at now.
func (p *OrderPlan) Age(now time.Time) time.Duration {
	return now.Sub(p.GeneratedAt)
}

// Actionable returns the EXEC items that carry an order.
func (p *OrderPlan) Actionable() []PlanItem {
	var out []PlanItem
	for _, item := range p.Items {
		if item.Action == ActionExec && item.Order != nil {
			out = append(out, item)
		}
	}
	return out
}
