package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// ProviderAddresses are the contracts a PoolAddressesProvider points at.
type ProviderAddresses struct {
	Pool        common.Address
	PriceOracle common.Address
}

// ResolveProvider reads getPool() and getPriceOracle() from a
// PoolAddressesProvider in one multicall. A nil block reads the latest state.
// A zero address in either slot is an error.
func ResolveProvider(ctx context.Context, mc outbound.Multicaller, provider common.Address, block *big.Int) (ProviderAddresses, error) {
	providerABI, err := abis.GetPoolAddressesProviderABI()
	if err != nil {
		return ProviderAddresses{}, err
	}

	methods := []string{"getPool", "getPriceOracle"}
	calls := make([]outbound.Call, len(methods))
	for i, name := range methods {
		data, err := providerABI.Pack(name)
		if err != nil {
			return ProviderAddresses{}, fmt.Errorf("packing %s: %w", name, err)
		}
		calls[i] = outbound.Call{Target: provider, CallData: data}
	}

	results, err := mc.Execute(ctx, calls, block)
	if err != nil {
		return ProviderAddresses{}, fmt.Errorf("reading addresses provider %s: %w", provider.Hex(), err)
	}
	if len(results) != len(calls) {
		return ProviderAddresses{}, fmt.Errorf("addresses provider %s: %d results for %d calls", provider.Hex(), len(results), len(calls))
	}

	addrs := make([]common.Address, len(methods))
	for i, name := range methods {
		if !results[i].Success {
			return ProviderAddresses{}, fmt.Errorf("%s reverted on %s", name, provider.Hex())
		}
		out, err := providerABI.Unpack(name, results[i].ReturnData)
		if err != nil {
			return ProviderAddresses{}, fmt.Errorf("unpacking %s: %w", name, err)
		}
		addr, ok := out[0].(common.Address)
		if !ok || addr == (common.Address{}) {
			return ProviderAddresses{}, fmt.Errorf("%s on %s returned %v", name, provider.Hex(), out[0])
		}
		addrs[i] = addr
	}
	return ProviderAddresses{Pool: addrs[0], PriceOracle: addrs[1]}, nil
}
