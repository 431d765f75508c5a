package abis

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseABI parses a JSON ABI definition. It fails if any of methods is missing.
func ParseABI(abiJSON string, methods ...string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing ABI: %w", err)
	}
	for _, name := range methods {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("ABI has no method %q", name)
		}
	}
	return &parsed, nil
}
