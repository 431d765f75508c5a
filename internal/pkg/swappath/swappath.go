// Package swappath encodes Uniswap V3 style packed swap paths:
// token (20 bytes) followed by repeated fee (3 bytes, big-endian) and token (20 bytes).
package swappath

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	addressLength = common.AddressLength
	feeLength     = 3
	hopLength     = feeLength + addressLength

	// MaxFee is the largest fee representable in three bytes.
	MaxFee = 1<<24 - 1
)

// Standard fee tiers in hundredths of a basis point.
const (
	FeeLowest uint32 = 100
	FeeLow    uint32 = 500
	FeeMedium uint32 = 3000
	FeeHigh   uint32 = 10000
)

var ErrMalformedPath = errors.New("malformed swap path")

// Path is a decoded swap path. len(Fees) == len(Tokens)-1.
type Path struct {
	Tokens []common.Address
	Fees   []uint32
}

// Single builds the one-hop path tokenIn -> tokenOut.
func Single(tokenIn common.Address, fee uint32, tokenOut common.Address) Path {
	return Path{Tokens: []common.Address{tokenIn, tokenOut}, Fees: []uint32{fee}}
}

// Encode packs the path into bytes.
func (p Path) Encode() ([]byte, error) {
	if len(p.Tokens) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 tokens, got %d", ErrMalformedPath, len(p.Tokens))
	}
	if len(p.Fees) != len(p.Tokens)-1 {
		return nil, fmt.Errorf("%w: %d tokens need %d fees, got %d", ErrMalformedPath, len(p.Tokens), len(p.Tokens)-1, len(p.Fees))
	}

	out := make([]byte, 0, addressLength+len(p.Fees)*hopLength)
	out = append(out, p.Tokens[0].Bytes()...)
	for i, fee := range p.Fees {
		if fee > MaxFee {
			return nil, fmt.Errorf("%w: fee %d exceeds 3 bytes", ErrMalformedPath, fee)
		}
		out = append(out, byte(fee>>16), byte(fee>>8), byte(fee))
		out = append(out, p.Tokens[i+1].Bytes()...)
	}
	return out, nil
}

// Decode unpacks an encoded path.
func Decode(data []byte) (Path, error) {
	if len(data) < addressLength+hopLength || (len(data)-addressLength)%hopLength != 0 {
		return Path{}, fmt.Errorf("%w: invalid length %d", ErrMalformedPath, len(data))
	}

	hops := (len(data) - addressLength) / hopLength
	p := Path{
		Tokens: make([]common.Address, 0, hops+1),
		Fees:   make([]uint32, 0, hops),
	}
	p.Tokens = append(p.Tokens, common.BytesToAddress(data[:addressLength]))
	offset := addressLength
	for i := 0; i < hops; i++ {
		fee := uint32(data[offset])<<16 | uint32(data[offset+1])<<8 | uint32(data[offset+2])
		offset += feeLength
		p.Fees = append(p.Fees, fee)
		p.Tokens = append(p.Tokens, common.BytesToAddress(data[offset:offset+addressLength]))
		offset += addressLength
	}
	return p, nil
}
