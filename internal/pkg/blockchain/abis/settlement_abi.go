package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// GetSettlementABI returns the liquidation settlement contract's entry point.
// execute takes the full order as one tuple and either completes the
// liquidation and swap or reverts.
func GetSettlementABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [
				{
					"components": [
						{"name": "debtAsset", "type": "address"},
						{"name": "collateralAsset", "type": "address"},
						{"name": "user", "type": "address"},
						{"name": "debtToCover", "type": "uint256"},
						{"name": "swapPath", "type": "bytes"},
						{"name": "minAmountOut", "type": "uint256"},
						{"name": "minProfit", "type": "uint256"},
						{"name": "deadline", "type": "uint256"},
						{"name": "maxGasPrice", "type": "uint256"},
						{"name": "referralCode", "type": "uint16"},
						{"name": "nonce", "type": "uint256"}
					],
					"name": "order",
					"type": "tuple"
				}
			],
			"name": "execute",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`, "execute")
}
