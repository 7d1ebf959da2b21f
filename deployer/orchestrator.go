// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/davecgh/go-spew/spew"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the validated-at-startup configuration of a run.
type Config struct {
	Mode rollup.Mode
	// ExpectedChainID, if non-zero, must match the chain the backend is on.
	ExpectedChainID int64
	NoopVerifier    bool
	Identities      IdentityInput
	// AcrossSpokePool and USDC are optional addresses. Empty is unset.
	AcrossSpokePool string
	USDC            string
	GenesisRoot     common.Hash
}

// Loggers are the subsystem loggers of a run.
type Loggers struct {
	Main     rollup.Logger
	Chain    rollup.Logger
	Resolver rollup.Logger
}

// Orchestrator runs a full rollup deployment.
type Orchestrator struct {
	cfg     *Config
	be      Backend
	src     ArtifactSource
	rep     *Reporter
	loggers Loggers
}

// NewOrchestrator is the constructor for an Orchestrator.
func NewOrchestrator(cfg *Config, be Backend, src ArtifactSource, rep *Reporter, loggers Loggers) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		be:      be,
		src:     src,
		rep:     rep,
		loggers: loggers,
	}
}

// prepared is everything validated before the first transaction.
type prepared struct {
	chainID    int64
	ids        *Identities
	usdc       *common.Address
	planOpts   *PlanOptions
	chain      *VersionChain
	presetKeys []string
}

// prepare checks the configuration against the chain. Nothing is sent.
func (o *Orchestrator) prepare() (*prepared, error) {
	cfg, log := o.cfg, o.loggers.Main
	chainID := o.be.ChainID().Int64()
	if cfg.ExpectedChainID != 0 && cfg.ExpectedChainID != chainID {
		return nil, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("configured chain ID %d, node is on %d", cfg.ExpectedChainID, chainID))
	}
	if cfg.NoopVerifier && cfg.Mode != rollup.Dev {
		return nil, rollup.NewError(rollup.ErrConfig, "DEV_USE_NOOP_VERIFIER can only be used in dev mode")
	}

	p := &prepared{chainID: chainID, planOpts: &PlanOptions{NoopVerifier: cfg.NoopVerifier}}
	if cfg.AcrossSpokePool != "" {
		addr, err := ParseAddress("ACROSS_SPOKE_POOL", cfg.AcrossSpokePool)
		if err != nil {
			return nil, err
		}
		p.planOpts.AcrossSpokePool = &addr
	}
	if cfg.USDC != "" {
		addr, err := ParseAddress("USDC_ADDRESS", cfg.USDC)
		if err != nil {
			return nil, err
		}
		p.usdc = &addr
	}
	if err := CheckNetwork(cfg.Mode, chainID, p.usdc); err != nil {
		return nil, err
	}

	ids, err := ResolveIdentities(cfg.Mode, o.be.Address(), cfg.Identities)
	if err != nil {
		return nil, err
	}
	p.ids = ids
	log.Debugf("Resolved identities: %s", spew.Sdump(ids))

	p.chain = RollupPlan(cfg.Mode, p.planOpts, o.loggers.Chain)
	p.presetKeys = []string{USDCKey}
	for k := range p.planOpts.Preset(cfg.Mode) {
		p.presetKeys = append(p.presetKeys, k)
	}
	sort.Strings(p.presetKeys)
	if err := p.chain.Validate(p.presetKeys); err != nil {
		return nil, err
	}
	for i, s := range p.chain.Stages() {
		log.Debugf("Stage %d: %s", i+1, s.Name())
	}
	return p, nil
}

// Run validates the configuration, resolves the stable asset and runs every
// stage of the rollup plan. Deferred actions are not errors.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	log := o.loggers.Main
	p, err := o.prepare()
	if err != nil {
		return nil, err
	}
	log.Infof("Deploying in %s mode on chain %d from %s", o.cfg.Mode, p.chainID, p.ids.Deployer)

	auth := NewAuthority(p.ids)
	if !auth.CallerIsOwner() {
		log.Warnf("Deployer %s is not the owner %s, owner calls will be printed for the owner to make",
			p.ids.Deployer, p.ids.Owner)
	}

	book := NewAddressBook(o.rep)
	for k, addr := range p.planOpts.Preset(o.cfg.Mode) {
		book.Preset(k, addr)
	}
	artifacts := NewArtifactDeployer(o.src, o.be, o.loggers.Chain)
	env := &Env{
		Mode:        o.cfg.Mode,
		ChainID:     p.chainID,
		Backend:     o.be,
		Deployer:    artifacts,
		Bootstrap:   NewProxyBootstrap(artifacts, o.be, auth, o.loggers.Chain),
		Upgrades:    NewUpgradeExecutor(o.be, auth, o.rep, o.loggers.Chain),
		OwnerCalls:  NewOwnerActionExecutor(o.be, auth, o.rep, o.loggers.Chain),
		Book:        book,
		Identities:  p.ids,
		GenesisRoot: o.cfg.GenesisRoot,
		Log:         o.loggers.Chain,
	}

	resolver := NewAddressResolver(o.cfg.Mode, p.chainID, p.usdc, o.loggers.Resolver)
	if _, err := resolver.Resolve(ctx, env); err != nil {
		return nil, fmt.Errorf("error resolving USDC: %w", err)
	}

	sum, err := p.chain.Run(ctx, env)
	if err != nil {
		return sum, err
	}

	log.Infof("All contracts deployed")
	if len(sum.Deferred) > 0 {
		log.Warnf("%d actions need to be completed by the proxy admin or owner: %s",
			len(sum.Deferred), strings.Join(sum.Deferred, ", "))
	}
	o.rep.Note("summary", fmt.Sprintf("%d completed, %d submitted, %d deferred, %d skipped",
		sum.Completed, sum.Submitted, len(sum.Deferred), len(sum.Skipped)))
	return sum, nil
}
