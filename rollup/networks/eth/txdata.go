// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package eth

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const proxyABIJSON = `[
	{"type":"function","name":"upgradeToAndCall","stateMutability":"payable",
	 "inputs":[{"name":"newImplementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const proxyAdminABIJSON = `[
	{"type":"function","name":"upgradeAndCall","stateMutability":"payable",
	 "inputs":[{"name":"proxy","type":"address"},{"name":"implementation","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const fiatTokenABIJSON = `[
	{"type":"function","name":"initialize","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenName","type":"string"},{"name":"tokenSymbol","type":"string"},
	           {"name":"tokenCurrency","type":"string"},{"name":"tokenDecimals","type":"uint8"},
	           {"name":"newMasterMinter","type":"address"},{"name":"newPauser","type":"address"},
	           {"name":"newBlacklister","type":"address"},{"name":"newOwner","type":"address"}],"outputs":[]},
	{"type":"function","name":"initializeV2","stateMutability":"nonpayable",
	 "inputs":[{"name":"newName","type":"string"}],"outputs":[]},
	{"type":"function","name":"initializeV2_1","stateMutability":"nonpayable",
	 "inputs":[{"name":"lostAndFound","type":"address"}],"outputs":[]},
	{"type":"function","name":"configureMinter","stateMutability":"nonpayable",
	 "inputs":[{"name":"minter","type":"address"},{"name":"minterAllowedAmount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	// ProxyABI is the subset of the transparent proxy interface used to
	// upgrade when the caller is the proxy admin.
	ProxyABI = mustParseABI(proxyABIJSON)
	// ProxyAdminABI is the ProxyAdmin contract interface an operator uses for
	// an upgrade this tool could not perform.
	ProxyAdminABI = mustParseABI(proxyAdminABIJSON)
	// FiatTokenABI covers the stable asset calls made during deployment.
	FiatTokenABI = mustParseABI(fiatTokenABIJSON)
)

// MaxUint256 is the unlimited ERC-20 allowance.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustParseABI(s string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("error parsing embedded ABI: %v", err))
	}
	return &parsed
}

// PackUpgradeToAndCall packs the proxy call that switches the implementation
// and runs the initializer calldata in the same transaction.
func PackUpgradeToAndCall(impl common.Address, initData []byte) ([]byte, error) {
	return ProxyABI.Pack("upgradeToAndCall", impl, initData)
}

// ParseUpgradeToAndCall is the inverse of PackUpgradeToAndCall.
func ParseUpgradeToAndCall(calldata []byte) (common.Address, []byte, error) {
	if len(calldata) < 4 {
		return common.Address{}, nil, fmt.Errorf("calldata too short")
	}
	method, err := ProxyABI.MethodById(calldata[:4])
	if err != nil {
		return common.Address{}, nil, err
	}
	if method.Name != "upgradeToAndCall" {
		return common.Address{}, nil, fmt.Errorf("unexpected method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	impl, ok := args[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("implementation arg is %T", args[0])
	}
	data, ok := args[1].([]byte)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("data arg is %T", args[1])
	}
	return impl, data, nil
}

// PackAdminUpgradeAndCall packs the ProxyAdmin call an operator holding
// upgrade authority would submit.
func PackAdminUpgradeAndCall(proxy, impl common.Address, initData []byte) ([]byte, error) {
	return ProxyAdminABI.Pack("upgradeAndCall", proxy, impl, initData)
}
