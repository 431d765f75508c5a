package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Fixed scales of the pool's getUserAccountData return values.
const (
	HealthFactorDecimals = 18
	BaseCurrencyDecimals = 8
)

// HealthSnapshot is the solvency reading of one account at one point in time.
// The best-asset fields are only set when a detailed read was made.
type HealthSnapshot struct {
	Account       common.Address
	HealthFactor  decimal.Decimal
	CollateralUSD decimal.Decimal
	DebtUSD       decimal.Decimal

	BestDebtAsset       *common.Address
	BestCollateralAsset *common.Address
	BestDebtAmount      *big.Int
	BestDebtUSD         decimal.Decimal
	BestCollateralUSD   decimal.Decimal
}

// NewHealthSnapshot scales the raw pool values into a snapshot.
func NewHealthSnapshot(account common.Address, collateralBase, debtBase, healthFactorRaw *big.Int) *HealthSnapshot {
	return &HealthSnapshot{
		Account:       account,
		HealthFactor:  scaleDown(healthFactorRaw, HealthFactorDecimals),
		CollateralUSD: scaleDown(collateralBase, BaseCurrencyDecimals),
		DebtUSD:       scaleDown(debtBase, BaseCurrencyDecimals),
	}
}

// HasDebt reports whether the account owes anything.
func (s *HealthSnapshot) HasDebt() bool {
	return s.DebtUSD.Sign() > 0
}

// AssetSelection is the outcome of a detailed per-reserve read.
type AssetSelection struct {
	DebtAsset       common.Address
	CollateralAsset common.Address
	DebtAmount      *big.Int
	DebtUSD         decimal.Decimal
	CollateralUSD   decimal.Decimal
}

// Apply copies the selection into the snapshot.
func (a AssetSelection) Apply(s *HealthSnapshot) {
	debt, collateral := a.DebtAsset, a.CollateralAsset
	s.BestDebtAsset = &debt
	s.BestCollateralAsset = &collateral
	s.BestDebtAmount = new(big.Int).Set(a.DebtAmount)
	s.BestDebtUSD = a.DebtUSD
	s.BestCollateralUSD = a.CollateralUSD
}

func scaleDown(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
