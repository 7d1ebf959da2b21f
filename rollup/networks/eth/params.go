// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// GweiFactor is the amount of wei in one gwei.
	GweiFactor = 1e9
	// USDCDecimals is the number of decimals of the stable asset, both the
	// canonical deployments and the local stand-in.
	USDCDecimals = 6
)

// These are the chain IDs of the networks with special handling.
const (
	MainnetChainID = 1
	PolygonChainID = 137
	SimnetChainID  = 1337  // geth --dev
	HardhatChainID = 31337 // hardhat and anvil
)

var (
	// USDCAddresses maps chain ID to the canonical stable asset contract.
	// Chains in this table are production networks. A dev run against one
	// of them is refused.
	USDCAddresses = map[int64]common.Address{
		MainnetChainID: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		PolygonChainID: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
	}

	// DevMintAmount is the stand-in supply minted to the owner in dev mode,
	// one billion whole tokens.
	DevMintAmount = new(big.Int).Mul(big.NewInt(1e9), big.NewInt(1e6))

	// DevProverFunding is the amount sent to the prover on a hardhat chain so
	// it can pay for its own transactions.
	DevProverFunding = big.NewInt(1e18)
)

// StableAssetAddress returns the canonical stable asset address for the chain,
// if the chain is a recognized production network.
func StableAssetAddress(chainID int64) (common.Address, bool) {
	addr, found := USDCAddresses[chainID]
	return addr, found
}

// IsRecognizedNetwork is true for chains with a canonical stable asset.
func IsRecognizedNetwork(chainID int64) bool {
	_, found := USDCAddresses[chainID]
	return found
}
