// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ProxyState is the rollup proxy as this run knows it. Implementation only
// tracks upgrades the run itself submitted.
type ProxyState struct {
	Proxy          common.Address
	Implementation common.Address
	Admin          common.Address
	AdminContract  bool
	// Controller is the account that can upgrade through the admin.
	Controller common.Address
}

var ownableABI = func() *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"owner","stateMutability":"view",
		"inputs":[],"outputs":[{"name":"","type":"address"}]}]`))
	if err != nil {
		panic(err)
	}
	return &parsed
}()

// ProxyBootstrap deploys the first implementation behind a transparent proxy
// and resolves who controls upgrades.
type ProxyBootstrap struct {
	deployer *ArtifactDeployer
	be       Backend
	auth     *Authority
	log      rollup.Logger
}

// NewProxyBootstrap is the constructor for a ProxyBootstrap.
func NewProxyBootstrap(d *ArtifactDeployer, be Backend, auth *Authority, log rollup.Logger) *ProxyBootstrap {
	return &ProxyBootstrap{deployer: d, be: be, auth: auth, log: log}
}

// BootstrapRequest describes the initial deployment.
type BootstrapRequest struct {
	Implementation string
	Proxy          string
	// InitialOwner is given to the proxy constructor. The proxy's admin is
	// derived from it.
	InitialOwner common.Address
	Initializer  string
	InitArgs     []any
	// OnImplementation is called with the implementation address before the
	// proxy is deployed.
	OnImplementation func(common.Address)
	// OnProxy is called with the proxy address before the admin is read.
	OnProxy func(common.Address)
}

// Bootstrap deploys the implementation and the proxy, then reads the admin.
// Any failure leaves the deployed contracts in place.
func (pb *ProxyBootstrap) Bootstrap(ctx context.Context, req *BootstrapRequest) (*ProxyState, error) {
	impl, implArtifact, err := pb.deployer.Deploy(ctx, DeploymentTarget{Artifact: req.Implementation})
	if err != nil {
		return nil, err
	}
	if req.OnImplementation != nil {
		req.OnImplementation(impl)
	}
	initData, err := implArtifact.Pack(req.Initializer, req.InitArgs...)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s.%s: %w", implArtifact.Name, req.Initializer, err)
	}
	proxy, _, err := pb.deployer.Deploy(ctx, DeploymentTarget{
		Artifact: req.Proxy,
		Args:     []any{impl, req.InitialOwner, initData},
	})
	if err != nil {
		return nil, err
	}
	if req.OnProxy != nil {
		req.OnProxy(proxy)
	}

	state := &ProxyState{Proxy: proxy, Implementation: impl}
	if err := pb.resolveAdmin(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// resolveAdmin reads the admin slot once and records the result in the
// Authority. An admin with code is asked for its owner. If it does not answer
// as an Ownable, the admin itself is the controller.
func (pb *ProxyBootstrap) resolveAdmin(ctx context.Context, state *ProxyState) error {
	word, err := pb.be.StorageAt(ctx, state.Proxy, dexeth.AdminSlot)
	if err != nil {
		return fmt.Errorf("error reading admin slot of %s: %w", state.Proxy, err)
	}
	admin, err := dexeth.AddressFromSlot(word)
	if err != nil {
		return fmt.Errorf("error decoding admin slot of %s: %w", state.Proxy, err)
	}
	if admin == (common.Address{}) {
		return fmt.Errorf("proxy %s has no admin", state.Proxy)
	}
	state.Admin = admin
	state.Controller = admin

	code, err := pb.be.CodeAt(ctx, admin)
	if err != nil {
		return fmt.Errorf("error reading code of admin %s: %w", admin, err)
	}
	if len(code) > 0 {
		state.AdminContract = true
		owner, err := pb.adminOwner(ctx, admin)
		if err != nil {
			pb.log.Warnf("Proxy admin %s is a contract without a usable owner(), upgrades must be made by the admin itself: %v", admin, err)
		} else {
			state.Controller = owner
			pb.log.Debugf("Proxy admin %s is a contract owned by %s", admin, state.Controller)
		}
	}
	if err := pb.auth.SetAdmin(state.Admin, state.Controller, state.AdminContract); err != nil {
		return err
	}
	isAdmin, _ := pb.auth.CallerIsAdmin()
	pb.log.Infof("Proxy %s admin %s, deployer can upgrade = %t", state.Proxy, admin, isAdmin)
	return nil
}

func (pb *ProxyBootstrap) adminOwner(ctx context.Context, admin common.Address) (common.Address, error) {
	data, err := ownableABI.Pack("owner")
	if err != nil {
		return common.Address{}, err
	}
	res, err := pb.be.Call(ctx, admin, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("error calling owner() on admin %s: %w", admin, err)
	}
	out, err := ownableABI.Unpack("owner", res)
	if err != nil || len(out) != 1 {
		return common.Address{}, fmt.Errorf("error decoding owner() result %x from admin %s: %v", res, admin, err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("owner() of admin %s returned %T", admin, out[0])
	}
	return owner, nil
}

// errUnresolved is returned by stages that need the proxy before it exists.
var errUnresolved = rollup.NewError(rollup.ErrAuthorityUnresolved, "the proxy has not been deployed")
