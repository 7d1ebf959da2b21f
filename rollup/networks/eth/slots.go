// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// AdminSlot is the EIP-1967 storage slot holding a proxy's admin,
	// keccak256("eip1967.proxy.admin") - 1.
	AdminSlot = common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103")
	// ImplementationSlot is the EIP-1967 storage slot holding a proxy's
	// implementation, keccak256("eip1967.proxy.implementation") - 1.
	ImplementationSlot = common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")
)

// AddressFromSlot decodes the address stored in a 32-byte storage word. The
// address is the rightmost 20 bytes.
func AddressFromSlot(word []byte) (common.Address, error) {
	if len(word) != common.HashLength {
		return common.Address{}, fmt.Errorf("storage word is %d bytes, expected %d", len(word), common.HashLength)
	}
	return common.BytesToAddress(word[common.HashLength-common.AddressLength:]), nil
}
