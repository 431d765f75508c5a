package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetAaveOracleABI returns the price reads of the Aave V3 / SparkLend oracle.
// Prices are in the base currency (8 decimals).
func GetAaveOracleABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [
				{"name": "assets", "type": "address[]"}
			],
			"name": "getAssetsPrices",
			"outputs": [
				{"name": "", "type": "uint256[]"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "asset", "type": "address"}
			],
			"name": "getAssetPrice",
			"outputs": [
				{"name": "", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`, "getAssetsPrices", "getAssetPrice")
}
