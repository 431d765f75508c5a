package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

var _ outbound.Settlement = (*Settlement)(nil)

// Backend is the node surface the settlement adapter needs. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SettlementConfig holds the settlement contract binding.
type SettlementConfig struct {
	Address common.Address
	ChainID *big.Int
	// Key signs execute transactions.
	Key *ecdsa.PrivateKey
	// GasBufferPercent pads the node's gas estimate. Default: 20
	GasBufferPercent uint64
}

// Settlement simulates and sends execute(order) calls.
type Settlement struct {
	backend Backend
	address common.Address
	abi     *abi.ABI
	opts    *bind.TransactOpts
	gasPad  uint64
	logger  *slog.Logger
}

// NewSettlement binds the settlement contract at cfg.Address.
func NewSettlement(backend Backend, cfg SettlementConfig, logger *slog.Logger) (*Settlement, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("settlement address is required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain ID is required")
	}
	if cfg.GasBufferPercent == 0 {
		cfg.GasBufferPercent = 20
	}
	if logger == nil {
		logger = slog.Default()
	}

	settlementABI, err := abis.GetSettlementABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement ABI: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(cfg.Key, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	return &Settlement{
		backend: backend,
		address: cfg.Address,
		abi:     settlementABI,
		opts:    opts,
		gasPad:  cfg.GasBufferPercent,
		logger:  logger.With("component", "settlement", "contract", cfg.Address.Hex()),
	}, nil
}

// ParsePrivateKey decodes a hex private key with or without 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// From returns the signing account.
func (s *Settlement) From() common.Address {
	return s.opts.From
}

// orderArg is the ABI shape of the execute tuple.
type orderArg struct {
	DebtAsset       common.Address
	CollateralAsset common.Address
	User            common.Address
	DebtToCover     *big.Int
	SwapPath        []byte
	MinAmountOut    *big.Int
	MinProfit       *big.Int
	Deadline        *big.Int
	MaxGasPrice     *big.Int
	ReferralCode    uint16
	Nonce           *big.Int
}

func orNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func (s *Settlement) pack(order *entity.Order) ([]byte, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}
	data, err := s.abi.Pack("execute", orderArg{
		DebtAsset:       order.DebtAsset,
		CollateralAsset: order.CollateralAsset,
		User:            order.User,
		DebtToCover:     orNil(order.DebtToCover),
		SwapPath:        order.SwapPath,
		MinAmountOut:    orNil(order.MinAmountOut),
		MinProfit:       orNil(order.MinProfit),
		Deadline:        orNil(order.Deadline),
		MaxGasPrice:     orNil(order.MaxGasPrice),
		ReferralCode:    order.ReferralCode,
		Nonce:           orNil(order.Nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack execute: %w", err)
	}
	return data, nil
}

// Simulate dry-runs execute(order) from the signing account at the latest block.
func (s *Settlement) Simulate(ctx context.Context, order *entity.Order) error {
	data, err := s.pack(order)
	if err != nil {
		return err
	}
	_, err = s.backend.CallContract(ctx, ethereum.CallMsg{From: s.opts.From, To: &s.address, Data: data}, nil)
	if err != nil {
		return decodeRevert(err)
	}
	return nil
}

// Execute signs and broadcasts an EIP-1559 execute(order) transaction.
// The tip is priorityFee and the fee cap is order.MaxGasPrice.
func (s *Settlement) Execute(ctx context.Context, order *entity.Order, priorityFee *big.Int) (common.Hash, error) {
	data, err := s.pack(order)
	if err != nil {
		return common.Hash{}, err
	}
	if priorityFee == nil || priorityFee.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("priority fee must be non-negative")
	}
	feeCap := orNil(order.MaxGasPrice)
	if feeCap.Cmp(priorityFee) < 0 {
		return common.Hash{}, fmt.Errorf("priority fee %s exceeds fee cap %s", priorityFee, feeCap)
	}

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      s.opts.From,
		To:        &s.address,
		GasFeeCap: feeCap,
		GasTipCap: priorityFee,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, decodeRevert(err)
	}
	gasLimit := gas + gas*s.gasPad/100

	nonce, err := s.backend.PendingNonceAt(ctx, s.opts.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce for %s: %w", s.opts.From.Hex(), err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: new(big.Int).Set(priorityFee),
		GasFeeCap: new(big.Int).Set(feeCap),
		Gas:       gasLimit,
		To:        &s.address,
		Data:      data,
	})
	signed, err := s.opts.Signer(s.opts.From, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, decodeRevert(err)
	}

	s.logger.Info("execute sent",
		"tx", signed.Hash().Hex(),
		"borrower", order.User.Hex(),
		"nonce", nonce,
		"gas", gasLimit,
		"tip", priorityFee.String())
	return signed.Hash(), nil
}

// decodeRevert turns a node error carrying revert data into *outbound.RevertError.
// Errors without revert data are returned unchanged.
func decodeRevert(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		if strings.Contains(err.Error(), "execution reverted") {
			return &outbound.RevertError{Reason: revertMessage(err.Error()), Err: err}
		}
		return err
	}

	hexData, ok := dataErr.ErrorData().(string)
	if !ok {
		return &outbound.RevertError{Reason: revertMessage(err.Error()), Err: err}
	}
	data, decodeErr := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if decodeErr != nil {
		return &outbound.RevertError{Reason: revertMessage(err.Error()), Err: err}
	}

	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		reason = revertMessage(err.Error())
	}
	return &outbound.RevertError{Reason: reason, Data: data, Err: err}
}

func revertMessage(msg string) string {
	_, after, found := strings.Cut(msg, "execution reverted:")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}
