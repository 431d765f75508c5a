// Package entity contains the core domain entities for the liquidation sentry.
// These entities carry no I/O and are shared by every service.
package entity

import (
	"fmt"
	"strings"
)

// Chain represents a blockchain network the sentry can be pointed at.
type Chain struct {
	ChainID int64
	Name    string
}

// ChainNameToID maps chain selectors to their chain IDs.
var ChainNameToID = map[string]int64{
	"mainnet": 1,
}

// ParseChain resolves a chain selector such as "mainnet".
func ParseChain(name string) (Chain, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	id, ok := ChainNameToID[key]
	if !ok {
		return Chain{}, fmt.Errorf("unsupported chain %q", name)
	}
	return Chain{ChainID: id, Name: key}, nil
}
