package executor

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var weiPerEther = decimal.New(1, 18)

// FeePolicy turns an order's expected profit into a priority fee per gas.
// It bids a fixed share of the profit, clamped to [FloorUSD, CapUSD], and
// converts it to wei with a configured native token price. This is a
// heuristic bid, not an auction strategy.
type FeePolicy struct {
	Share    decimal.Decimal
	FloorUSD decimal.Decimal
	CapUSD   decimal.Decimal

	// NativePriceUSD is the USD price of one unit of the chain's native token.
	NativePriceUSD decimal.Decimal

	// GasUnits is the expected gas used by one settlement call.
	GasUnits uint64
}

// DefaultFeePolicy returns a 10% share between $1 and $500 over 800k gas.
// NativePriceUSD has no default.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		Share:    decimal.RequireFromString("0.10"),
		FloorUSD: decimal.NewFromInt(1),
		CapUSD:   decimal.NewFromInt(500),
		GasUnits: 800_000,
	}
}

// Validate checks the policy.
func (p FeePolicy) Validate() error {
	if !p.NativePriceUSD.IsPositive() {
		return fmt.Errorf("native price must be positive, got %s", p.NativePriceUSD)
	}
	if p.Share.IsNegative() || p.Share.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("fee share must be within [0, 1], got %s", p.Share)
	}
	if p.FloorUSD.IsNegative() || p.CapUSD.LessThan(p.FloorUSD) {
		return fmt.Errorf("fee bounds must satisfy 0 <= floor <= cap, got [%s, %s]", p.FloorUSD, p.CapUSD)
	}
	if p.GasUnits == 0 {
		return fmt.Errorf("gas units must be positive")
	}
	return nil
}

// BidUSD returns clamp(profit*share, floor, cap).
func (p FeePolicy) BidUSD(profitUSD decimal.Decimal) decimal.Decimal {
	bid := profitUSD.Mul(p.Share)
	if bid.LessThan(p.FloorUSD) {
		return p.FloorUSD
	}
	if bid.GreaterThan(p.CapUSD) {
		return p.CapUSD
	}
	return bid
}

// PriorityFee returns the tip per gas in wei for an order with the given
// expected profit, rounded down.
func (p FeePolicy) PriorityFee(profitUSD decimal.Decimal) *big.Int {
	wei := p.BidUSD(profitUSD).Div(p.NativePriceUSD).Mul(weiPerEther)
	return wei.Div(decimal.NewFromInt(int64(p.GasUnits))).Floor().BigInt()
}
