// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// minGasTipCap is the floor for the priority fee, 2 gwei.
var minGasTipCap = big.NewInt(2 * dexeth.GweiFactor)

// RPCBackend is a Backend over a JSON-RPC connection, signing with a local
// private key.
type RPCBackend struct {
	ec      *ethclient.Client
	chainID *big.Int
	addr    common.Address
	txOpts  *bind.TransactOpts
	log     rollup.Logger
}

var _ Backend = (*RPCBackend)(nil)

// NewRPCBackend connects to the node at endpoint. The endpoint can be an
// http, websocket or IPC address.
func NewRPCBackend(ctx context.Context, endpoint string, key *ecdsa.PrivateKey, log rollup.Logger) (*RPCBackend, error) {
	ec, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", endpoint, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("error getting chain ID: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("error creating transactor: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	log.Infof("Connected to chain %s as %s", chainID, addr)
	return &RPCBackend{
		ec:      ec,
		chainID: chainID,
		addr:    addr,
		txOpts:  txOpts,
		log:     log,
	}, nil
}

// Close shuts down the RPC connection.
func (b *RPCBackend) Close() error {
	b.ec.Close()
	return nil
}

func (b *RPCBackend) Address() common.Address {
	return b.addr
}

func (b *RPCBackend) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// Balance is the deployer's balance in wei.
func (b *RPCBackend) Balance(ctx context.Context) (*big.Int, error) {
	return b.ec.BalanceAt(ctx, b.addr, nil)
}

func (b *RPCBackend) Deploy(ctx context.Context, code []byte) (common.Address, error) {
	tx, err := b.sendTransaction(ctx, nil, code, nil)
	if err != nil {
		return common.Address{}, err
	}
	receipt, err := bind.WaitMined(ctx, b.ec, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("error waiting for deployment %s: %w", tx.Hash(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return common.Address{}, fmt.Errorf("deployment transaction %s failed", tx.Hash())
	}
	addr := receipt.ContractAddress
	if addr == (common.Address{}) {
		addr = crypto.CreateAddress(b.addr, tx.Nonce())
	}
	b.log.Debugf("Contract creation %s mined in block %s, gas used %d", tx.Hash(), receipt.BlockNumber, receipt.GasUsed)
	return addr, nil
}

func (b *RPCBackend) Transact(ctx context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	tx, err := b.sendTransaction(ctx, &to, data, value)
	if err != nil {
		return nil, err
	}
	receipt, err := bind.WaitMined(ctx, b.ec, tx)
	if err != nil {
		return nil, fmt.Errorf("error waiting for transaction %s: %w", tx.Hash(), err)
	}
	b.log.Debugf("Transaction %s to %s mined in block %s, status %d", tx.Hash(), to, receipt.BlockNumber, receipt.Status)
	return receipt, nil
}

func (b *RPCBackend) StorageAt(ctx context.Context, contract common.Address, slot common.Hash) ([]byte, error) {
	return b.ec.StorageAt(ctx, contract, slot, nil)
}

func (b *RPCBackend) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.ec.CodeAt(ctx, account, nil)
}

func (b *RPCBackend) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return b.ec.CallContract(ctx, ethereum.CallMsg{From: b.addr, To: &to, Data: data}, nil)
}

// currentFees returns the base fee of the best header and a suggested tip.
func (b *RPCBackend) currentFees(ctx context.Context) (baseFee, tipCap *big.Int, err error) {
	hdr, err := b.ec.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error getting best header: %w", err)
	}
	baseFee = hdr.BaseFee
	if baseFee == nil {
		// Pre-London chain. Use the legacy gas price as the base.
		if baseFee, err = b.ec.SuggestGasPrice(ctx); err != nil {
			return nil, nil, fmt.Errorf("error getting gas price: %w", err)
		}
	}
	tipCap, err = b.ec.SuggestGasTipCap(ctx)
	if err != nil {
		b.log.Warnf("Error getting tip cap suggestion, using minimum: %v", err)
		tipCap = new(big.Int).Set(minGasTipCap)
	}
	if tipCap.Cmp(minGasTipCap) < 0 {
		tipCap = new(big.Int).Set(minGasTipCap)
	}
	return baseFee, tipCap, nil
}

// sendTransaction signs and broadcasts a dynamic fee transaction. A nil to
// creates a contract. The fee cap is twice the current base fee plus the tip,
// and the gas limit is the node's estimate with a 25% buffer.
func (b *RPCBackend) sendTransaction(ctx context.Context, to *common.Address, data []byte, value *big.Int) (*types.Transaction, error) {
	if value == nil {
		value = new(big.Int)
	}
	baseFee, tipCap, err := b.currentFees(ctx)
	if err != nil {
		return nil, err
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	gas, err := b.ec.EstimateGas(ctx, ethereum.CallMsg{
		From:      b.addr,
		To:        to, // nil means contract creation
		GasFeeCap: feeCap,
		GasTipCap: tipCap,
		Value:     value,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("EstimateGas error: %w", err)
	}
	gas = gas * 5 / 4

	nonce, err := b.ec.PendingNonceAt(ctx, b.addr)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce: %w", err)
	}

	tx, err := b.txOpts.Signer(b.addr, types.NewTx(&types.DynamicFeeTx{
		ChainID:   b.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        to,
		Value:     value,
		Data:      data,
	}))
	if err != nil {
		return nil, fmt.Errorf("signing error: %w", err)
	}
	if err := b.ec.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("error sending transaction: %w", err)
	}
	b.log.Tracef("Sent transaction %s, nonce %d, gas %d, fee cap %s", tx.Hash(), nonce, gas, feeCap)
	return tx, nil
}
