package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// MulticallResult matches the multicall3 aggregate3 output tuple.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// PackMulticallAggregate3 ABI-encodes results as aggregate3 return data.
func PackMulticallAggregate3(t *testing.T, results []MulticallResult) []byte {
	t.Helper()
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		t.Fatalf("loading multicall3 ABI: %v", err)
	}
	data, err := multicallABI.Methods["aggregate3"].Outputs.Pack(results)
	if err != nil {
		t.Fatalf("packing aggregate3: %v", err)
	}
	return data
}

// PackAssetPrices ABI-encodes prices as getAssetsPrices() return data.
func PackAssetPrices(t *testing.T, prices []*big.Int) []byte {
	t.Helper()
	oracleABI, err := abis.GetAaveOracleABI()
	if err != nil {
		t.Fatalf("loading oracle ABI: %v", err)
	}
	data, err := oracleABI.Methods["getAssetsPrices"].Outputs.Pack(prices)
	if err != nil {
		t.Fatalf("packing prices: %v", err)
	}
	return data
}

// PackUserAccountData ABI-encodes getUserAccountData() return data.
func PackUserAccountData(t *testing.T, collateralBase, debtBase, healthFactor *big.Int) []byte {
	t.Helper()
	poolABI, err := abis.GetPoolABI()
	if err != nil {
		t.Fatalf("loading pool ABI: %v", err)
	}
	data, err := poolABI.Methods["getUserAccountData"].Outputs.Pack(
		collateralBase, debtBase, big.NewInt(0), big.NewInt(8000), big.NewInt(7500), healthFactor,
	)
	if err != nil {
		t.Fatalf("packing getUserAccountData: %v", err)
	}
	return data
}

// ProviderResults answers a getPool()/getPriceOracle() batch from a
// PoolAddressesProvider.
func ProviderResults(t *testing.T, pool, oracle common.Address) []outbound.Result {
	t.Helper()
	providerABI, err := abis.GetPoolAddressesProviderABI()
	if err != nil {
		t.Fatalf("loading provider ABI: %v", err)
	}
	var out []outbound.Result
	for _, v := range []struct {
		method string
		addr   common.Address
	}{{"getPool", pool}, {"getPriceOracle", oracle}} {
		data, err := providerABI.Methods[v.method].Outputs.Pack(v.addr)
		if err != nil {
			t.Fatalf("packing %s: %v", v.method, err)
		}
		out = append(out, outbound.Result{Success: true, ReturnData: data})
	}
	return out
}
