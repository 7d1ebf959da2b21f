// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum/common"
)

// Address book keys printed by the rollup plan.
const (
	AggregateBinKey      = "AGGREGATE_BIN_ADDR"
	AggregateVerifierKey = "AGGREGATE_VERIFIER_ADDR"
	MintBinKey           = "MINT_BIN_ADDR"
	MintVerifierKey      = "MINT_VERIFIER_ADDR"
	BurnBinKey           = "BURN_BIN_ADDR"
	BurnVerifierKey      = "BURN_VERIFIER_ADDR"
	RollupV1Key          = "ROLLUP_V1_CONTRACT_ADDR"
	RollupKey            = "ROLLUP_CONTRACT_ADDR"
	ProxyAdminKey        = "ROLLUP_PROXY_ADMIN_ADDR"
	RollupV2Key          = "ROLLUP_V2_CONTRACT_ADDR"
	RollupV3Key          = "ROLLUP_V3_CONTRACT_ADDR"
	RollupV4Key          = "ROLLUP_V4_CONTRACT_ADDR"
	BurnV2BinKey         = "BURN_V2_BIN_ADDR"
	BurnVerifierV2Key    = "BURN_VERIFIER_V2_ADDR"
	RollupV5Key          = "ROLLUP_V5_CONTRACT_ADDR"
	RouterKey            = "BURN_TO_ADDRESS_ROUTER_CONTRACT_ADDR"
	RollupV6Key          = "ROLLUP_V6_CONTRACT_ADDR"
	AcrossKey            = "ACROSS_WITH_AUTHORIZATION_CONTRACT_ADDR"

	// acrossSpokePoolKey is preset from configuration, never printed.
	acrossSpokePoolKey = "ACROSS_SPOKE_POOL"
)

// PlanOptions are the configuration choices that shape the rollup plan.
type PlanOptions struct {
	// NoopVerifier replaces the aggregate verifier bytecode with a verifier
	// that accepts every proof. Dev only.
	NoopVerifier bool
	// AcrossSpokePool is the bridge the authorization contract forwards to.
	// Without one the contract is not deployed, except in dev mode where the
	// zero address is used.
	AcrossSpokePool *common.Address
}

// Preset returns the address book entries the plan expects before it runs.
func (o *PlanOptions) Preset(mode rollup.Mode) map[string]common.Address {
	preset := make(map[string]common.Address)
	if o.AcrossSpokePool != nil {
		preset[acrossSpokePoolKey] = *o.AcrossSpokePool
	} else if mode == rollup.Dev {
		preset[acrossSpokePoolKey] = common.Address{}
	}
	return preset
}

func onHardhat(env *Env) (bool, string) {
	if env.Mode != rollup.Dev || env.ChainID != dexeth.HardhatChainID {
		return false, "prover funding is only for dev runs on hardhat"
	}
	return true, ""
}

// RollupPlan is the full deployment of the rollup and its verifiers, through
// every version of the rollup contract.
func RollupPlan(mode rollup.Mode, opts *PlanOptions, log rollup.Logger) *VersionChain {
	aggregateBin := "AggregateVerifier.bin"
	if opts.NoopVerifier {
		aggregateBin = "NoopVerifier.bin"
	}
	stages := []Stage{
		&DeployStage{Key: AggregateBinKey, Artifact: aggregateBin},
		&DeployStage{Key: AggregateVerifierKey, Artifact: "AggregateVerifierV1", Args: []Arg{Ref(AggregateBinKey)}},
		&DeployStage{Key: MintBinKey, Artifact: "MintVerifier.bin"},
		&DeployStage{Key: MintVerifierKey, Artifact: "MintVerifierV1", Args: []Arg{Ref(MintBinKey)}},
		&DeployStage{Key: BurnBinKey, Artifact: "BurnVerifier.bin"},
		&DeployStage{Key: BurnVerifierKey, Artifact: "BurnVerifierV1", Args: []Arg{Ref(BurnBinKey)}},
		&ProxyStage{
			Implementation: "RollupV1",
			Proxy:          "TransparentUpgradeableProxy",
			ImplKey:        RollupV1Key,
			ProxyKey:       RollupKey,
			AdminKey:       ProxyAdminKey,
			Initializer:    "initialize",
			Args: []Arg{
				OwnerArg,
				Ref(USDCKey),
				Ref(AggregateVerifierKey),
				Ref(MintVerifierKey),
				Ref(BurnVerifierKey),
				ProverArg,
				ValidatorsArg,
				GenesisRootArg,
			},
		},
		&VersionStep{Version: 2, Artifact: "RollupV2", AddressKey: RollupV2Key, Initializer: "initializeV2"},
		&VersionStep{Version: 3, Artifact: "RollupV3", AddressKey: RollupV3Key, Initializer: "initializeV3"},
		&VersionStep{Version: 4, Artifact: "RollupV4", AddressKey: RollupV4Key, Initializer: "initializeV4"},
		&DeployStage{Key: BurnV2BinKey, Artifact: "BurnVerifierV2.bin"},
		&DeployStage{Key: BurnVerifierV2Key, Artifact: "BurnVerifierV2", Args: []Arg{Ref(BurnV2BinKey)}},
		&CallStage{
			Description: "fund prover",
			Target:      ProverArg,
			Value:       dexeth.DevProverFunding,
			When:        onHardhat,
		},
		&CallStage{
			Description: "approve rollup to spend USDC",
			Target:      Ref(USDCKey),
			ABI:         dexeth.FiatTokenABI,
			Method:      "approve",
			Args:        []Arg{Ref(RollupKey), Lit(dexeth.MaxUint256)},
		},
		&VersionStep{Version: 5, Artifact: "RollupV5", AddressKey: RollupV5Key, Initializer: "initializeV5",
			Args: []Arg{Ref(BurnVerifierV2Key)}},
		&DeployStage{Key: RouterKey, Artifact: "BurnToAddressRouter"},
		&OwnerCallStage{
			Description: "register burn to address router",
			Target:      RollupKey,
			Artifact:    "RollupV5",
			Method:      "addRouter",
			Args:        []Arg{Ref(RouterKey)},
		},
		&VersionStep{Version: 6, Artifact: "RollupV6", AddressKey: RollupV6Key, Initializer: "initializeV6"},
	}
	if _, found := opts.Preset(mode)[acrossSpokePoolKey]; found {
		stages = append(stages, &DeployStage{Key: AcrossKey, Artifact: "AcrossWithAuthorization",
			Args: []Arg{Ref(acrossSpokePoolKey)}})
	} else {
		log.Warnf("ACROSS_SPOKE_POOL is not set, AcrossWithAuthorization will not be deployed")
	}
	return NewVersionChain(log, stages...)
}
