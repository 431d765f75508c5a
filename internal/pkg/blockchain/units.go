package blockchain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// OraclePriceDecimals is the scale of Aave V3 / SparkLend oracle prices.
const OraclePriceDecimals = 8

// TokenAmount scales a raw token amount by its decimals.
func TokenAmount(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ValueUSD returns amount (in token units with the given decimals) times an
// oracle price with OraclePriceDecimals.
func ValueUSD(amount *big.Int, decimals int32, price *big.Int) decimal.Decimal {
	if amount == nil || price == nil {
		return decimal.Zero
	}
	return TokenAmount(amount, decimals).Mul(decimal.NewFromBigInt(price, -OraclePriceDecimals))
}
