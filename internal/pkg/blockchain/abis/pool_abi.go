package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetPoolABI returns the account-level read of the Aave V3 / SparkLend Pool.
// All *Base values use the oracle base currency (8 decimals); healthFactor uses 18.
func GetPoolABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [
				{"name": "user", "type": "address"}
			],
			"name": "getUserAccountData",
			"outputs": [
				{"name": "totalCollateralBase", "type": "uint256"},
				{"name": "totalDebtBase", "type": "uint256"},
				{"name": "availableBorrowsBase", "type": "uint256"},
				{"name": "currentLiquidationThreshold", "type": "uint256"},
				{"name": "ltv", "type": "uint256"},
				{"name": "healthFactor", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`, "getUserAccountData")
}
