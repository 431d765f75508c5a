package testutil

import (
	"io"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Account returns a deterministic non-zero address for index n.
func Account(n int) common.Address {
	return common.BigToAddress(new(big.Int).Add(big.NewInt(0x1000), big.NewInt(int64(n))))
}

// WAD returns v scaled by 1e18 as a raw on-chain value. v is parsed as a decimal string.
func WAD(v string) *big.Int {
	return scaled(v, 18)
}

// Base returns v scaled by 1e8, the oracle base currency.
func Base(v string) *big.Int {
	return scaled(v, 8)
}

func scaled(v string, decimals int) *big.Int {
	f, ok := new(big.Float).SetPrec(256).SetString(v)
	if !ok {
		panic("testutil: invalid number " + v)
	}
	f.Mul(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)))
	out, _ := f.Int(nil)
	return out
}
