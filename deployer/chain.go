// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Env is the state shared by the stages of a run.
type Env struct {
	Mode       rollup.Mode
	ChainID    int64
	Backend    Backend
	Deployer   *ArtifactDeployer
	Bootstrap  *ProxyBootstrap
	Upgrades   *UpgradeExecutor
	OwnerCalls *OwnerActionExecutor
	Book       *AddressBook
	Identities *Identities
	// GenesisRoot is the empty merkle tree root the rollup starts from.
	GenesisRoot common.Hash
	// Proxy is nil until the proxy stage has run.
	Proxy *ProxyState
	Log   rollup.Logger
}

// Arg is a value resolved when its stage runs.
type Arg interface {
	resolve(env *Env) (any, error)
	// ref is the address book key the arg reads, or "".
	ref() string
}

type litArg struct{ v any }

func (a litArg) resolve(*Env) (any, error) { return a.v, nil }
func (litArg) ref() string                 { return "" }

// Lit is a literal argument.
func Lit(v any) Arg { return litArg{v} }

type refArg string

func (a refArg) resolve(env *Env) (any, error) {
	addr, found := env.Book.Get(string(a))
	if !found {
		return nil, fmt.Errorf("address %s has not been produced", string(a))
	}
	return addr, nil
}

func (a refArg) ref() string { return string(a) }

// Ref is the address stored under key by an earlier stage.
func Ref(key string) Arg { return refArg(key) }

type identityArg uint8

const (
	ownerArg identityArg = iota
	proverArg
	validatorsArg
	deployerArg
	genesisRootArg
)

func (a identityArg) resolve(env *Env) (any, error) {
	ids := env.Identities
	switch a {
	case ownerArg:
		return ids.Owner, nil
	case proverArg:
		return ids.Prover, nil
	case validatorsArg:
		return append([]common.Address(nil), ids.Validators...), nil
	case deployerArg:
		return ids.Deployer, nil
	case genesisRootArg:
		return [32]byte(env.GenesisRoot), nil
	}
	return nil, fmt.Errorf("unknown identity argument %d", a)
}

func (identityArg) ref() string { return "" }

// Identity arguments.
var (
	OwnerArg       Arg = ownerArg
	ProverArg      Arg = proverArg
	ValidatorsArg  Arg = validatorsArg
	DeployerArg    Arg = deployerArg
	GenesisRootArg Arg = genesisRootArg
)

func resolveArgs(env *Env, args []Arg) ([]any, error) {
	vals := make([]any, 0, len(args))
	for i, a := range args {
		v, err := a.resolve(env)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func argRefs(args []Arg) []string {
	var refs []string
	for _, a := range args {
		if r := a.ref(); r != "" {
			refs = append(refs, r)
		}
	}
	return refs
}

// Stage is one step of a deployment plan.
type Stage interface {
	Name() string
	// Requires lists the address book keys the stage reads.
	Requires() []string
	// Produces lists the address book keys the stage writes.
	Produces() []string
	Apply(ctx context.Context, env *Env) (Outcome, error)
}

// Condition gates a stage. A nil Condition always applies.
type Condition func(env *Env) (apply bool, reason string)

func checkCondition(c Condition, env *Env, name string) bool {
	if c == nil {
		return true
	}
	apply, reason := c(env)
	if !apply {
		env.Log.Infof("Skipping %s: %s", name, reason)
	}
	return apply
}

// DeployStage creates one contract and records its address.
type DeployStage struct {
	Key      string
	Artifact string
	Args     []Arg
	When     Condition
}

func (s *DeployStage) Name() string       { return "deploy " + s.Artifact }
func (s *DeployStage) Requires() []string { return argRefs(s.Args) }
func (s *DeployStage) Produces() []string { return []string{s.Key} }
func (s *DeployStage) conditional() bool  { return s.When != nil }

func (s *DeployStage) Apply(ctx context.Context, env *Env) (Outcome, error) {
	if !checkCondition(s.When, env, s.Name()) {
		return Skipped, nil
	}
	args, err := resolveArgs(env, s.Args)
	if err != nil {
		return 0, err
	}
	addr, _, err := env.Deployer.Deploy(ctx, DeploymentTarget{Artifact: s.Artifact, Args: args})
	if err != nil {
		return 0, err
	}
	env.Book.Set(s.Key, addr)
	return Completed, nil
}

// ProxyStage deploys the first implementation and the proxy that wraps it,
// and resolves upgrade authority.
type ProxyStage struct {
	Implementation string
	Proxy          string
	ImplKey        string
	ProxyKey       string
	AdminKey       string
	Initializer    string
	Args           []Arg
}

func (s *ProxyStage) Name() string       { return "bootstrap " + s.Proxy }
func (s *ProxyStage) Requires() []string { return argRefs(s.Args) }
func (s *ProxyStage) Produces() []string { return []string{s.ImplKey, s.ProxyKey, s.AdminKey} }

func (s *ProxyStage) Apply(ctx context.Context, env *Env) (Outcome, error) {
	if env.Proxy != nil {
		return 0, fmt.Errorf("proxy already deployed at %s", env.Proxy.Proxy)
	}
	args, err := resolveArgs(env, s.Args)
	if err != nil {
		return 0, err
	}
	state, err := env.Bootstrap.Bootstrap(ctx, &BootstrapRequest{
		Implementation:   s.Implementation,
		Proxy:            s.Proxy,
		InitialOwner:     env.Identities.Owner,
		Initializer:      s.Initializer,
		InitArgs:         args,
		OnImplementation: func(addr common.Address) { env.Book.Set(s.ImplKey, addr) },
		OnProxy:          func(addr common.Address) { env.Book.Set(s.ProxyKey, addr) },
	})
	if err != nil {
		return 0, err
	}
	env.Proxy = state
	env.Book.Set(s.AdminKey, state.Admin)
	return Completed, nil
}

// VersionStep deploys a new implementation and upgrades the proxy to it,
// running Initializer in the same transaction.
type VersionStep struct {
	Version     uint32
	Artifact    string
	AddressKey  string
	Initializer string
	Args        []Arg
	// ConstructorArgs are passed to the implementation's constructor.
	ConstructorArgs []Arg
}

func (s *VersionStep) Name() string { return fmt.Sprintf("upgrade V%d", s.Version) }

func (s *VersionStep) Requires() []string {
	return append(argRefs(s.ConstructorArgs), argRefs(s.Args)...)
}
func (s *VersionStep) Produces() []string { return []string{s.AddressKey} }

func (s *VersionStep) Apply(ctx context.Context, env *Env) (Outcome, error) {
	if env.Proxy == nil {
		return 0, errUnresolved
	}
	ctorArgs, err := resolveArgs(env, s.ConstructorArgs)
	if err != nil {
		return 0, err
	}
	args, err := resolveArgs(env, s.Args)
	if err != nil {
		return 0, err
	}
	impl, artifact, err := env.Deployer.Deploy(ctx, DeploymentTarget{Artifact: s.Artifact, Args: ctorArgs})
	if err != nil {
		return 0, err
	}
	env.Book.Set(s.AddressKey, impl)
	initData, err := artifact.Pack(s.Initializer, args...)
	if err != nil {
		return 0, fmt.Errorf("error encoding %s.%s: %w", s.Artifact, s.Initializer, err)
	}
	return env.Upgrades.Upgrade(ctx, env.Proxy, impl, initData)
}

// OwnerCallStage calls an owner-only method of the contract at Target, using
// the ABI of Artifact.
type OwnerCallStage struct {
	Description string
	Target      string
	Artifact    string
	Method      string
	Args        []Arg
}

func (s *OwnerCallStage) Name() string { return s.Description }

func (s *OwnerCallStage) Requires() []string {
	return append([]string{s.Target}, argRefs(s.Args)...)
}

func (s *OwnerCallStage) Produces() []string { return nil }

func (s *OwnerCallStage) Apply(ctx context.Context, env *Env) (Outcome, error) {
	call, err := packCall(env, s.Target, s.Artifact, s.Method, s.Args)
	if err != nil {
		return 0, err
	}
	return env.OwnerCalls.Call(ctx, OwnerCall{To: call.to, Calldata: call.data, Description: s.Description})
}

// CallStage is a call the deployer makes on its own behalf, such as a token
// approval. Method "" with a Value is a plain transfer.
type CallStage struct {
	Description string
	Target      Arg
	ABI         *abi.ABI
	Method      string
	Args        []Arg
	Value       *big.Int
	When        Condition
}

func (s *CallStage) Name() string { return s.Description }

func (s *CallStage) Requires() []string {
	return append(argRefs([]Arg{s.Target}), argRefs(s.Args)...)
}

func (s *CallStage) Produces() []string { return nil }

func (s *CallStage) Apply(ctx context.Context, env *Env) (Outcome, error) {
	if !checkCondition(s.When, env, s.Name()) {
		return Skipped, nil
	}
	to, err := s.Target.resolve(env)
	if err != nil {
		return 0, err
	}
	toAddr, ok := to.(common.Address)
	if !ok {
		return 0, fmt.Errorf("call target is %T, not an address", to)
	}
	var data []byte
	if s.Method != "" {
		args, err := resolveArgs(env, s.Args)
		if err != nil {
			return 0, err
		}
		if s.ABI == nil {
			return 0, fmt.Errorf("no ABI for %s", s.Method)
		}
		if data, err = s.ABI.Pack(s.Method, args...); err != nil {
			return 0, fmt.Errorf("error encoding %s: %w", s.Method, err)
		}
	}
	if _, err := submit(ctx, env.Backend, toAddr, data, s.Value); err != nil {
		return 0, err
	}
	return Completed, nil
}

type packedCall struct {
	to   common.Address
	data []byte
}

func packCall(env *Env, target, artifact, method string, args []Arg) (*packedCall, error) {
	to, found := env.Book.Get(target)
	if !found {
		return nil, fmt.Errorf("address %s has not been produced", target)
	}
	vals, err := resolveArgs(env, args)
	if err != nil {
		return nil, err
	}
	data, err := packMethod(env, artifact, method, vals)
	if err != nil {
		return nil, err
	}
	return &packedCall{to: to, data: data}, nil
}

func packMethod(env *Env, artifact, method string, args []any) ([]byte, error) {
	a, err := env.Deployer.src.Artifact(artifact)
	if err != nil {
		return nil, err
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s.%s: %w", artifact, method, err)
	}
	return data, nil
}

// VersionChain is an ordered deployment plan.
type VersionChain struct {
	stages []Stage
	log    rollup.Logger
}

// NewVersionChain creates a chain running stages in the given order.
func NewVersionChain(log rollup.Logger, stages ...Stage) *VersionChain {
	return &VersionChain{stages: stages, log: log}
}

// Stages returns the stages in execution order.
func (c *VersionChain) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// conditionalStage is a stage that may skip itself at run time. Its keys
// cannot be referenced by later stages.
type conditionalStage interface {
	conditional() bool
}

// Validate checks the plan before anything is deployed. Every reference must
// be to a preset key or a key unconditionally produced by an earlier stage and
// no key may be produced twice. Upgrades must follow the proxy stage with
// increasing versions.
func (c *VersionChain) Validate(preset []string) error {
	known := make(map[string]string, len(preset))
	for _, k := range preset {
		known[k] = "preset"
	}
	maybe := make(map[string]bool)
	var lastVersion uint32
	var haveProxy bool
	for i, s := range c.stages {
		for _, r := range s.Requires() {
			if _, found := known[r]; !found {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) references %s before it is produced", i, s.Name(), r))
			}
			if maybe[r] {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) references %s, which is only produced conditionally", i, s.Name(), r))
			}
		}
		switch st := s.(type) {
		case *ProxyStage:
			if haveProxy {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) is a second proxy stage", i, s.Name()))
			}
			haveProxy = true
		case *VersionStep:
			if !haveProxy {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) comes before the proxy stage", i, s.Name()))
			}
			if st.Version <= lastVersion {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) does not increase the version from %d", i, s.Name(), lastVersion))
			}
			lastVersion = st.Version
		}
		for _, p := range s.Produces() {
			if prev, found := known[p]; found {
				return rollup.NewError(rollup.ErrConfig, fmt.Sprintf("stage %d (%s) produces %s, already produced by %s", i, s.Name(), p, prev))
			}
			known[p] = s.Name()
			if cs, ok := s.(conditionalStage); ok && cs.conditional() {
				maybe[p] = true
			}
		}
	}
	return nil
}

// Summary counts stage outcomes.
type Summary struct {
	Completed int
	Submitted int
	Deferred  []string
	Skipped   []string
}

// Run executes the stages strictly in order. The first error aborts the run.
// A deferred stage does not stop later stages.
func (c *VersionChain) Run(ctx context.Context, env *Env) (*Summary, error) {
	sum := new(Summary)
	for i, s := range c.stages {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		c.log.Debugf("Stage %d/%d: %s", i+1, len(c.stages), s.Name())
		outcome, err := s.Apply(ctx, env)
		if err != nil {
			return sum, fmt.Errorf("%s: %w", s.Name(), err)
		}
		switch outcome {
		case Completed:
			sum.Completed++
		case Submitted:
			sum.Submitted++
		case Deferred:
			sum.Deferred = append(sum.Deferred, s.Name())
		case Skipped:
			sum.Skipped = append(sum.Skipped, s.Name())
		}
	}
	return sum, nil
}
