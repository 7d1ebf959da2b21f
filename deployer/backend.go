// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the chain access needed by a deployment run. Every method blocks
// until the chain has answered. Deploy and Transact block until the
// transaction is mined.
type Backend interface {
	// Address is the deployer account that signs every transaction.
	Address() common.Address
	// ChainID is the chain ID reported by the node.
	ChainID() *big.Int
	// Deploy creates a contract from the init code and returns its address.
	// A mined but failed creation is an error.
	Deploy(ctx context.Context, code []byte) (common.Address, error)
	// Transact sends a call and returns the mined receipt. A failed receipt
	// is not an error at this level.
	Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error)
	// StorageAt reads a 32-byte storage word of a contract.
	StorageAt(ctx context.Context, contract common.Address, slot common.Hash) ([]byte, error)
	// CodeAt returns the runtime code of an account.
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	// Call runs a read-only call against the latest state.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// submit sends a call through the backend and checks the receipt status.
func submit(ctx context.Context, be Backend, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	receipt, err := be.Transact(ctx, to, data, value)
	if err != nil {
		return nil, rollup.NewError(rollup.ErrTransaction, fmt.Sprintf("to %s, calldata 0x%x: %v", to, data, err))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, rollup.NewError(rollup.ErrReverted, fmt.Sprintf("transaction %s reverted. To: %s, Calldata: 0x%x",
			receipt.TxHash, to, data))
	}
	return receipt, nil
}
