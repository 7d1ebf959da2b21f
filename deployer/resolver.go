// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// USDCKey is the address book key of the stable asset. It is only
	// printed when a stand-in is deployed.
	USDCKey = "USDC_CONTRACT_ADDR"

	standInArtifact = "USDC.bin"
)

// CheckNetwork validates the mode against the chain. A recognized production
// chain needs production mode. An unrecognized chain in production mode needs
// an explicit stable asset address.
func CheckNetwork(mode rollup.Mode, chainID int64, override *common.Address) error {
	recognized := dexeth.IsRecognizedNetwork(chainID)
	switch mode {
	case rollup.Production:
		if !recognized && override == nil {
			return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("unrecognized production network %d, set USDC_ADDRESS or use dev mode", chainID))
		}
	case rollup.Dev:
		if recognized {
			return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("dev mode refused on production network %d", chainID))
		}
	default:
		return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("unknown mode %d", mode))
	}
	return nil
}

// AddressResolver finds the stable asset for the run, deploying and funding a
// stand-in in dev mode.
type AddressResolver struct {
	mode     rollup.Mode
	chainID  int64
	override *common.Address
	log      rollup.Logger
}

// NewAddressResolver is the constructor for an AddressResolver. The
// mode/network combination is expected to have passed CheckNetwork.
func NewAddressResolver(mode rollup.Mode, chainID int64, override *common.Address, log rollup.Logger) *AddressResolver {
	return &AddressResolver{
		mode:     mode,
		chainID:  chainID,
		override: override,
		log:      log,
	}
}

// Resolve stores the stable asset address under USDCKey.
func (r *AddressResolver) Resolve(ctx context.Context, env *Env) (common.Address, error) {
	if addr, found := dexeth.StableAssetAddress(r.chainID); found && r.mode == rollup.Production {
		if r.override != nil && *r.override != addr {
			r.log.Warnf("Ignoring configured USDC %s on chain %d, which uses %s", *r.override, r.chainID, addr)
		}
		r.log.Infof("Using USDC %s for chain %d", addr, r.chainID)
		env.Book.Preset(USDCKey, addr)
		return addr, nil
	}
	if r.override != nil {
		r.log.Infof("Using configured USDC %s", *r.override)
		env.Book.Preset(USDCKey, *r.override)
		return *r.override, nil
	}
	if r.mode != rollup.Dev {
		return common.Address{}, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("no USDC address for chain %d", r.chainID))
	}
	return r.deployStandIn(ctx, env)
}

// deployStandIn deploys the stand-in token and mints the deployer a
// supply to work with.
func (r *AddressResolver) deployStandIn(ctx context.Context, env *Env) (common.Address, error) {
	addr, _, err := env.Deployer.Deploy(ctx, DeploymentTarget{Artifact: standInArtifact})
	if err != nil {
		return common.Address{}, err
	}
	env.Book.Set(USDCKey, addr)

	me := env.Backend.Address()
	calls := []struct {
		method string
		args   []any
	}{
		{"initialize", []any{"USD Coin", "USDC", "USD", uint8(dexeth.USDCDecimals), me, me, me, me}},
		{"initializeV2", []any{"USD Coin"}},
		{"initializeV2_1", []any{me}},
		{"configureMinter", []any{me, dexeth.DevMintAmount}},
		{"mint", []any{me, dexeth.DevMintAmount}},
	}
	for _, c := range calls {
		data, err := dexeth.FiatTokenABI.Pack(c.method, c.args...)
		if err != nil {
			return common.Address{}, fmt.Errorf("error encoding USDC.%s: %w", c.method, err)
		}
		if _, err := submit(ctx, env.Backend, addr, data, nil); err != nil {
			return common.Address{}, fmt.Errorf("USDC.%s: %w", c.method, err)
		}
		r.log.Debugf("USDC.%s done", c.method)
	}
	r.log.Infof("Stand-in USDC %s minted %s units to %s", addr, dexeth.DevMintAmount, me)
	return addr, nil
}
