// Package health reads account solvency from the lending pool through
// Multicall3 and, for risky accounts, picks the debt and collateral reserves
// a liquidation would use.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/batch"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/stl-sentry/internal/services/health"

// ErrNoAssetPair is returned by ResolveAssets when the account has no
// allow-listed debt or no collateral-enabled balance.
var ErrNoAssetPair = errors.New("no debt/collateral asset pair")

// Config holds configuration for the Engine.
type Config struct {
	Pool         common.Address
	DataProvider common.Address

	// Oracle is the price oracle. When zero it is resolved once through
	// AddressesProvider.getPriceOracle().
	Oracle            common.Address
	AddressesProvider common.Address

	// Reserves is the allow-list read during detailed lookups.
	Reserves []blockchain.Reserve

	// ChunkSize is the number of accounts per multicall.
	ChunkSize int

	// MaxConcurrency bounds the multicalls in flight.
	MaxConcurrency int

	// DetailBelow: accounts with debt and a health factor below this get a detailed read.
	DetailBelow decimal.Decimal

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		ChunkSize:      250,
		MaxConcurrency: 4,
		DetailBelow:    entity.DefaultThresholds().Risk,
		Logger:         slog.Default(),
	}
}

// Engine evaluates account health.
type Engine struct {
	config Config
	mc     outbound.Multicaller

	poolABI     *abi.ABI
	providerABI *abi.ABI
	oracleABI   *abi.ABI

	oracleMu sync.Mutex
	oracle   common.Address

	logger *slog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(mc outbound.Multicaller, config Config) (*Engine, error) {
	if mc == nil {
		return nil, fmt.Errorf("multicaller is required")
	}
	if config.Pool == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}
	if config.DataProvider == (common.Address{}) {
		return nil, fmt.Errorf("pool data provider address is required")
	}
	if config.Oracle == (common.Address{}) && config.AddressesProvider == (common.Address{}) {
		return nil, fmt.Errorf("oracle or addresses provider is required")
	}
	if len(config.Reserves) == 0 {
		return nil, fmt.Errorf("at least one reserve is required")
	}

	defaults := ConfigDefaults()
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.DetailBelow.IsZero() {
		config.DetailBelow = defaults.DetailBelow
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	poolABI, err := abis.GetPoolABI()
	if err != nil {
		return nil, err
	}
	providerABI, err := abis.GetPoolDataProviderABI()
	if err != nil {
		return nil, err
	}
	oracleABI, err := abis.GetAaveOracleABI()
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:      config,
		mc:          mc,
		poolABI:     poolABI,
		providerABI: providerABI,
		oracleABI:   oracleABI,
		oracle:      config.Oracle,
		logger:      config.Logger.With("component", "health-engine"),
	}, nil
}

// Evaluate returns a snapshot per account. A nil value means the account could
// not be read this time. A failed detailed read keeps the coarse snapshot
// without asset fields.
func (e *Engine) Evaluate(ctx context.Context, accounts []common.Address) map[common.Address]*entity.HealthSnapshot {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "health.Evaluate")
	defer span.End()

	out := make(map[common.Address]*entity.HealthSnapshot, len(accounts))
	if len(accounts) == 0 {
		return out
	}

	chunks := batch.Chunk(accounts, e.config.ChunkSize)
	keys := make([]int, len(chunks))
	for i := range chunks {
		keys[i] = i
	}
	outcomes := batch.Run(ctx, keys, e.config.MaxConcurrency, func(ctx context.Context, i int) (map[common.Address]*entity.HealthSnapshot, error) {
		return e.readAccounts(ctx, chunks[i])
	})

	failedChunks := 0
	for i, chunk := range chunks {
		o := outcomes[i]
		if o.Err != nil {
			failedChunks++
			e.logger.Warn("account chunk failed", "chunk", i, "accounts", len(chunk), "error", o.Err)
			for _, account := range chunk {
				out[account] = nil
			}
			continue
		}
		for _, account := range chunk {
			out[account] = o.Value[account]
		}
	}

	var risky []common.Address
	for _, account := range accounts {
		s := out[account]
		if s != nil && s.HasDebt() && s.HealthFactor.LessThan(e.config.DetailBelow) {
			risky = append(risky, account)
		}
	}
	details := batch.Run(ctx, risky, e.config.MaxConcurrency, e.ResolveAssets)
	for _, account := range risky {
		d := details[account]
		if d.Err != nil {
			e.logger.Debug("detailed read failed", "account", account.Hex(), "error", d.Err)
			continue
		}
		d.Value.Apply(out[account])
	}

	failed := 0
	for _, s := range out {
		if s == nil {
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("health.accounts", len(accounts)),
		attribute.Int("health.chunks", len(chunks)),
		attribute.Int("health.failed_chunks", failedChunks),
		attribute.Int("health.failed", failed),
		attribute.Int("health.detailed", len(risky)),
	)
	if failedChunks == len(chunks) {
		span.SetStatus(codes.Error, "every chunk failed")
	}
	e.logger.Debug("evaluated accounts",
		"accounts", len(accounts),
		"failed", failed,
		"detailed", len(risky),
		"duration", time.Since(start))
	return out
}

// readAccounts runs getUserAccountData for one chunk. A failed or undecodable
// sub-call yields a nil snapshot for that account only.
func (e *Engine) readAccounts(ctx context.Context, accounts []common.Address) (map[common.Address]*entity.HealthSnapshot, error) {
	calls := make([]outbound.Call, len(accounts))
	for i, account := range accounts {
		data, err := e.poolABI.Pack("getUserAccountData", account)
		if err != nil {
			return nil, fmt.Errorf("packing getUserAccountData: %w", err)
		}
		calls[i] = outbound.Call{Target: e.config.Pool, AllowFailure: true, CallData: data}
	}

	results, err := e.mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("multicall: %w", err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("expected %d results, got %d", len(calls), len(results))
	}

	out := make(map[common.Address]*entity.HealthSnapshot, len(accounts))
	for i, account := range accounts {
		if !results[i].Success {
			out[account] = nil
			continue
		}
		snapshot, err := e.decodeAccountData(account, results[i].ReturnData)
		if err != nil {
			e.logger.Debug("undecodable account data", "account", account.Hex(), "error", err)
		}
		out[account] = snapshot
	}
	return out, nil
}

func (e *Engine) decodeAccountData(account common.Address, data []byte) (*entity.HealthSnapshot, error) {
	values, err := e.poolABI.Unpack("getUserAccountData", data)
	if err != nil {
		return nil, err
	}
	if len(values) != 6 {
		return nil, fmt.Errorf("expected 6 values, got %d", len(values))
	}
	collateral, ok1 := values[0].(*big.Int)
	debt, ok2 := values[1].(*big.Int)
	hf, ok3 := values[5].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected getUserAccountData types")
	}
	return entity.NewHealthSnapshot(account, collateral, debt, hf), nil
}

// ResolveAssets reads the account's position in every allow-listed reserve
// together with oracle prices, and picks the reserve with the largest debt
// and the collateral-enabled reserve with the largest balance, both in USD.
func (e *Engine) ResolveAssets(ctx context.Context, account common.Address) (*entity.AssetSelection, error) {
	oracle, err := e.priceOracle(ctx)
	if err != nil {
		return nil, err
	}

	reserves := e.config.Reserves
	assets := make([]common.Address, len(reserves))
	calls := make([]outbound.Call, 0, len(reserves)+1)
	for i, r := range reserves {
		assets[i] = r.Address
		data, err := e.providerABI.Pack("getUserReserveData", r.Address, account)
		if err != nil {
			return nil, fmt.Errorf("packing getUserReserveData: %w", err)
		}
		calls = append(calls, outbound.Call{Target: e.config.DataProvider, AllowFailure: true, CallData: data})
	}
	priceData, err := e.oracleABI.Pack("getAssetsPrices", assets)
	if err != nil {
		return nil, fmt.Errorf("packing getAssetsPrices: %w", err)
	}
	calls = append(calls, outbound.Call{Target: oracle, AllowFailure: false, CallData: priceData})

	results, err := e.mc.Execute(ctx, calls, nil)
	if err != nil {
		return nil, fmt.Errorf("detailed multicall for %s: %w", account.Hex(), err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("expected %d results, got %d", len(calls), len(results))
	}

	priceResult := results[len(results)-1]
	if !priceResult.Success {
		return nil, fmt.Errorf("getAssetsPrices failed on %s", oracle.Hex())
	}
	unpacked, err := e.oracleABI.Unpack("getAssetsPrices", priceResult.ReturnData)
	if err != nil {
		return nil, fmt.Errorf("unpacking getAssetsPrices: %w", err)
	}
	prices, ok := unpacked[0].([]*big.Int)
	if !ok || len(prices) != len(reserves) {
		return nil, fmt.Errorf("unexpected getAssetsPrices result")
	}

	var (
		sel            entity.AssetSelection
		haveDebt       bool
		haveCollateral bool
	)
	for i, r := range reserves {
		if !results[i].Success {
			continue
		}
		values, err := e.providerABI.Unpack("getUserReserveData", results[i].ReturnData)
		if err != nil || len(values) != 9 {
			continue
		}
		aToken, _ := values[0].(*big.Int)
		stableDebt, _ := values[1].(*big.Int)
		variableDebt, _ := values[2].(*big.Int)
		collateralEnabled, _ := values[8].(bool)

		debt := new(big.Int)
		if stableDebt != nil {
			debt.Add(debt, stableDebt)
		}
		if variableDebt != nil {
			debt.Add(debt, variableDebt)
		}
		if debt.Sign() > 0 {
			usd := blockchain.ValueUSD(debt, r.Decimals, prices[i])
			if !haveDebt || usd.GreaterThan(sel.DebtUSD) {
				sel.DebtAsset, sel.DebtAmount, sel.DebtUSD = r.Address, debt, usd
				haveDebt = true
			}
		}
		if collateralEnabled && aToken != nil && aToken.Sign() > 0 {
			usd := blockchain.ValueUSD(aToken, r.Decimals, prices[i])
			if !haveCollateral || usd.GreaterThan(sel.CollateralUSD) {
				sel.CollateralAsset, sel.CollateralUSD = r.Address, usd
				haveCollateral = true
			}
		}
	}
	if !haveDebt || !haveCollateral {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrNoAssetPair)
	}
	return &sel, nil
}

func (e *Engine) priceOracle(ctx context.Context) (common.Address, error) {
	e.oracleMu.Lock()
	defer e.oracleMu.Unlock()
	if e.oracle != (common.Address{}) {
		return e.oracle, nil
	}
	resolved, err := blockchain.ResolveProvider(ctx, e.mc, e.config.AddressesProvider, nil)
	if err != nil {
		return common.Address{}, err
	}
	if resolved.Pool != e.config.Pool {
		e.logger.Warn("addresses provider points at a different pool",
			"configured", e.config.Pool.Hex(),
			"provider", resolved.Pool.Hex())
	}
	e.logger.Info("resolved price oracle", "oracle", resolved.PriceOracle.Hex())
	e.oracle = resolved.PriceOracle
	return e.oracle, nil
}
