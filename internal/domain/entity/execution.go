package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ExecutionResult records a broadcast liquidation.
type ExecutionResult struct {
	GeneratedAt          time.Time       `json:"generatedAt"`
	CandidateID          string          `json:"candidateId"`
	Borrower             common.Address  `json:"borrower"`
	TransactionReference common.Hash     `json:"transactionReference"`
	PriorityFee          *big.Int        `json:"priorityFee"`
	ExpectedProfitUSD    decimal.Decimal `json:"expectedProfitUSD"`
}

// FailureKind classifies why an order did not go through.
type FailureKind string

const (
	FailureTransport       FailureKind = "transport"
	FailureDecode          FailureKind = "decode"
	FailureStalePlan       FailureKind = "stale_plan"
	FailureGasExceeded     FailureKind = "gas_exceeded"
	FailurePositionHealthy FailureKind = "position_healthy"
	FailureGeneric         FailureKind = "generic"
)

// Blacklists reports whether a failure of this kind puts the borrower on cooldown.
func (k FailureKind) Blacklists() bool {
	return k == FailurePositionHealthy || k == FailureGeneric
}
