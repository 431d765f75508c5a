package testutil

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// ReservePosition is one account's position in one reserve.
type ReservePosition struct {
	ATokenBalance     *big.Int
	StableDebt        *big.Int
	VariableDebt      *big.Int
	CollateralEnabled bool
}

// PoolAccount is the fake pool's view of one account.
type PoolAccount struct {
	CollateralBase *big.Int
	DebtBase       *big.Int
	HealthFactor   *big.Int
	Reserves       map[common.Address]ReservePosition
	// Fail makes every sub-call about this account report Success=false.
	Fail bool
}

// LendingPoolFake implements outbound.Multicaller by answering Pool,
// PoolDataProvider and oracle reads from in-memory state.
type LendingPoolFake struct {
	mu sync.Mutex

	Pool         common.Address
	DataProvider common.Address
	Oracle       common.Address

	Accounts map[common.Address]*PoolAccount
	Prices   map[common.Address]*big.Int

	// FailBatch, when set, can fail a whole batch before it is answered.
	FailBatch func(calls []outbound.Call) error

	batches   int
	evaluated []common.Address

	poolABI     *abi.ABI
	providerABI *abi.ABI
	oracleABI   *abi.ABI
}

// NewLendingPoolFake creates an empty fake for the given contract addresses.
func NewLendingPoolFake(t *testing.T, pool, dataProvider, oracle common.Address) *LendingPoolFake {
	t.Helper()
	poolABI, err := abis.GetPoolABI()
	if err != nil {
		t.Fatal(err)
	}
	providerABI, err := abis.GetPoolDataProviderABI()
	if err != nil {
		t.Fatal(err)
	}
	oracleABI, err := abis.GetAaveOracleABI()
	if err != nil {
		t.Fatal(err)
	}
	return &LendingPoolFake{
		Pool:         pool,
		DataProvider: dataProvider,
		Oracle:       oracle,
		Accounts:     make(map[common.Address]*PoolAccount),
		Prices:       make(map[common.Address]*big.Int),
		poolABI:      poolABI,
		providerABI:  providerABI,
		oracleABI:    oracleABI,
	}
}

// SetAccount stores the account-level figures for account.
func (f *LendingPoolFake) SetAccount(account common.Address, collateralBase, debtBase, healthFactor *big.Int) *PoolAccount {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &PoolAccount{
		CollateralBase: collateralBase,
		DebtBase:       debtBase,
		HealthFactor:   healthFactor,
		Reserves:       make(map[common.Address]ReservePosition),
	}
	f.Accounts[account] = a
	return a
}

// Batches returns how many Execute calls were answered.
func (f *LendingPoolFake) Batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

// Evaluated returns every account whose getUserAccountData was requested, in order.
func (f *LendingPoolFake) Evaluated() []common.Address {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]common.Address, len(f.evaluated))
	copy(out, f.evaluated)
	return out
}

func (f *LendingPoolFake) Address() common.Address {
	return common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")
}

func (f *LendingPoolFake) Execute(_ context.Context, calls []outbound.Call, _ *big.Int) ([]outbound.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailBatch != nil {
		if err := f.FailBatch(calls); err != nil {
			return nil, err
		}
	}
	f.batches++

	results := make([]outbound.Result, len(calls))
	for i, call := range calls {
		data, ok, err := f.answer(call)
		if err != nil {
			return nil, err
		}
		if !ok && !call.AllowFailure {
			return nil, fmt.Errorf("required call to %s reverted", call.Target.Hex())
		}
		results[i] = outbound.Result{Success: ok, ReturnData: data}
	}
	return results, nil
}

func (f *LendingPoolFake) answer(call outbound.Call) ([]byte, bool, error) {
	if len(call.CallData) < 4 {
		return nil, false, nil
	}
	selector, args := call.CallData[:4], call.CallData[4:]

	switch {
	case call.Target == f.Pool && bytes.Equal(selector, f.poolABI.Methods["getUserAccountData"].ID):
		unpacked, err := f.poolABI.Methods["getUserAccountData"].Inputs.Unpack(args)
		if err != nil {
			return nil, false, err
		}
		user := unpacked[0].(common.Address)
		f.evaluated = append(f.evaluated, user)
		acct, ok := f.Accounts[user]
		if !ok {
			data, err := f.poolABI.Methods["getUserAccountData"].Outputs.Pack(
				big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0), new(big.Int).Set(math.MaxBig256))
			return data, err == nil, err
		}
		if acct.Fail {
			return nil, false, nil
		}
		data, err := f.poolABI.Methods["getUserAccountData"].Outputs.Pack(
			acct.CollateralBase, acct.DebtBase, big.NewInt(0), big.NewInt(8000), big.NewInt(7500), acct.HealthFactor)
		return data, err == nil, err

	case call.Target == f.DataProvider && bytes.Equal(selector, f.providerABI.Methods["getUserReserveData"].ID):
		unpacked, err := f.providerABI.Methods["getUserReserveData"].Inputs.Unpack(args)
		if err != nil {
			return nil, false, err
		}
		asset, user := unpacked[0].(common.Address), unpacked[1].(common.Address)
		pos := ReservePosition{}
		if acct, ok := f.Accounts[user]; ok {
			if acct.Fail {
				return nil, false, nil
			}
			pos = acct.Reserves[asset]
		}
		zero := big.NewInt(0)
		data, err := f.providerABI.Methods["getUserReserveData"].Outputs.Pack(
			orZero(pos.ATokenBalance), orZero(pos.StableDebt), orZero(pos.VariableDebt),
			zero, zero, zero, zero, zero, pos.CollateralEnabled)
		return data, err == nil, err

	case call.Target == f.Oracle && bytes.Equal(selector, f.oracleABI.Methods["getAssetsPrices"].ID):
		unpacked, err := f.oracleABI.Methods["getAssetsPrices"].Inputs.Unpack(args)
		if err != nil {
			return nil, false, err
		}
		assets := unpacked[0].([]common.Address)
		prices := make([]*big.Int, len(assets))
		for i, a := range assets {
			prices[i] = orZero(f.Prices[a])
		}
		data, err := f.oracleABI.Methods["getAssetsPrices"].Outputs.Pack(prices)
		return data, err == nil, err
	}
	return nil, false, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
