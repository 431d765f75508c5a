package swappath

import "github.com/ethereum/go-ethereum/common"

// FeeTable picks the pool fee tier for a token pair.
type FeeTable struct {
	Default   uint32
	overrides map[[2]common.Address]uint32
}

// NewFeeTable returns a table that answers def for every pair without an override.
func NewFeeTable(def uint32) *FeeTable {
	return &FeeTable{Default: def, overrides: make(map[[2]common.Address]uint32)}
}

// Set assigns a fee tier to the unordered pair (a, b).
func (t *FeeTable) Set(a, b common.Address, fee uint32) {
	t.overrides[pairKey(a, b)] = fee
}

// Fee returns the tier for the unordered pair (a, b).
func (t *FeeTable) Fee(a, b common.Address) uint32 {
	if fee, ok := t.overrides[pairKey(a, b)]; ok {
		return fee
	}
	return t.Default
}

func pairKey(a, b common.Address) [2]common.Address {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return [2]common.Address{a, b}
}
