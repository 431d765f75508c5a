package blockchain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Reserve is an asset listed on a lending pool.
type Reserve struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// Deployment is one lending protocol instance on one chain.
type Deployment struct {
	Name                  string
	Chain                 string
	PoolAddress           common.Address
	PoolDataProvider      common.Address
	PoolAddressesProvider common.Address
	UIPoolDataProvider    common.Address
	// DeploymentBlock is the floor for historical log scans.
	DeploymentBlock uint64
	// Reserves is the allow-list of assets considered for liquidation.
	Reserves []Reserve
}

var (
	weth   = Reserve{Symbol: "WETH", Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Decimals: 18}
	wsteth = Reserve{Symbol: "wstETH", Address: common.HexToAddress("0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0"), Decimals: 18}
	reth   = Reserve{Symbol: "rETH", Address: common.HexToAddress("0xae78736Cd615f374D3085123A210448E74Fc6393"), Decimals: 18}
	wbtc   = Reserve{Symbol: "WBTC", Address: common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"), Decimals: 8}
	dai    = Reserve{Symbol: "DAI", Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Decimals: 18}
	usdc   = Reserve{Symbol: "USDC", Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6}
	usdt   = Reserve{Symbol: "USDT", Address: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6}
	sdai   = Reserve{Symbol: "sDAI", Address: common.HexToAddress("0x83F20F44975D03b1b09e64809B757c47f942BEeA"), Decimals: 18}
)

// Deployments is keyed by "<chain>/<protocol>".
var Deployments = map[string]Deployment{
	"mainnet/sparklend": {
		Name:                  "sparklend",
		Chain:                 "mainnet",
		PoolAddress:           common.HexToAddress("0xC13e21B648A5Ee794902342038FF3aDAB66BE987"),
		PoolDataProvider:      common.HexToAddress("0xFc21d6d146E6086B8359705C8b28512a983db0cb"),
		PoolAddressesProvider: common.HexToAddress("0x02C3eA4e34C0cBd694D2adFa2c690EECbC1793eE"),
		UIPoolDataProvider:    common.HexToAddress("0x56b7A1012765C285afAC8b8F25C69Bf10ccfE978"),
		DeploymentBlock:       17203646,
		Reserves:              []Reserve{weth, wsteth, reth, wbtc, dai, usdc, usdt, sdai},
	},
	"mainnet/aave-v3": {
		Name:                  "aave-v3",
		Chain:                 "mainnet",
		PoolAddress:           common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"),
		PoolDataProvider:      common.HexToAddress("0x0a16f2FCC0D44FaE41cc54e079281D84A363bECD"),
		PoolAddressesProvider: common.HexToAddress("0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e"),
		UIPoolDataProvider:    common.HexToAddress("0x91c0eA31b49B69Ea18607702c5d9aC360bf3dE7d"),
		DeploymentBlock:       16291127,
		Reserves:              []Reserve{weth, wsteth, reth, wbtc, dai, usdc, usdt},
	},
}

// GetDeployment looks up a protocol deployment by chain and protocol name.
func GetDeployment(chain, protocol string) (Deployment, error) {
	key := strings.ToLower(chain) + "/" + strings.ToLower(protocol)
	d, ok := Deployments[key]
	if !ok {
		return Deployment{}, fmt.Errorf("no deployment for protocol %q on chain %q", protocol, chain)
	}
	return d, nil
}

// ReserveBySymbol returns the allow-listed reserve with the given symbol,
// ignoring case.
func (d Deployment) ReserveBySymbol(symbol string) (Reserve, bool) {
	for _, r := range d.Reserves {
		if strings.EqualFold(r.Symbol, symbol) {
			return r, true
		}
	}
	return Reserve{}, false
}

// KnownContracts returns the protocol's own contract and reserve addresses,
// which appear in pool log topics but are never borrowers.
func (d Deployment) KnownContracts() map[common.Address]struct{} {
	known := map[common.Address]struct{}{
		d.PoolAddress:           {},
		d.PoolDataProvider:      {},
		d.PoolAddressesProvider: {},
		d.UIPoolDataProvider:    {},
	}
	for _, r := range d.Reserves {
		known[r.Address] = struct{}{}
	}
	return known
}
