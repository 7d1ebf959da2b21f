// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"context"
	"fmt"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Outcome is the successful result of a stage.
type Outcome uint8

const (
	// Completed means the stage did its work without an authority check.
	Completed Outcome = iota
	// Submitted means an authority-gated transaction was mined.
	Submitted
	// Deferred means instructions were printed for an operator instead.
	Deferred
	// Skipped means the stage did not apply to this run.
	Skipped
)

// String returns the string representation of an Outcome.
func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Submitted:
		return "submitted"
	case Deferred:
		return "deferred"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// UpgradeInstruction is one proxy upgrade.
type UpgradeInstruction struct {
	Proxy          common.Address
	Implementation common.Address
	Calldata       []byte
}

// UpgradeExecutor performs proxy upgrades, or prints them for the proxy admin
// when the deployer does not control the proxy.
type UpgradeExecutor struct {
	be   Backend
	auth *Authority
	rep  *Reporter
	log  rollup.Logger
}

// NewUpgradeExecutor is the constructor for an UpgradeExecutor.
func NewUpgradeExecutor(be Backend, auth *Authority, rep *Reporter, log rollup.Logger) *UpgradeExecutor {
	return &UpgradeExecutor{be: be, auth: auth, rep: rep, log: log}
}

// Upgrade points the proxy at impl and runs initData in the same
// transaction. On submission the state's implementation is updated.
func (u *UpgradeExecutor) Upgrade(ctx context.Context, state *ProxyState, impl common.Address, initData []byte) (Outcome, error) {
	isAdmin, err := u.auth.CallerIsAdmin()
	if err != nil {
		return 0, err
	}
	admin, adminContract, err := u.auth.Admin()
	if err != nil {
		return 0, err
	}
	in := UpgradeInstruction{
		Proxy:          state.Proxy,
		Implementation: impl,
		Calldata:       initData,
	}

	if !isAdmin {
		u.log.Warnf("Deployer is not the proxy admin, deferring upgrade of %s to %s", in.Proxy, in.Implementation)
		u.rep.Instruction("upgrade "+impl.Hex(), []string{
			"Deployer is not the proxy admin, skipping upgrade of rollup contract",
			"Please call the proxy admin upgradeAndCall function with the following arguments:",
		}, []Field{
			{"Proxy admin", admin.Hex()},
			{"Proxy", in.Proxy.Hex()},
			{"Implementation", in.Implementation.Hex()},
			{"Calldata", hexutil.Encode(in.Calldata)},
		})
		return Deferred, nil
	}

	to, data, err := upgradeCall(in, admin, adminContract)
	if err != nil {
		return 0, err
	}
	receipt, err := submit(ctx, u.be, to, data, nil)
	if err != nil {
		return 0, err
	}
	if err := u.verifyImplementation(ctx, in.Proxy, impl); err != nil {
		return 0, err
	}
	state.Implementation = impl
	u.log.Infof("Proxy %s upgraded to %s in tx %s", in.Proxy, impl, receipt.TxHash)
	return Submitted, nil
}

// verifyImplementation checks the proxy's implementation slot after a mined
// upgrade. A slot that cannot be read is only logged.
func (u *UpgradeExecutor) verifyImplementation(ctx context.Context, proxy, impl common.Address) error {
	word, err := u.be.StorageAt(ctx, proxy, dexeth.ImplementationSlot)
	if err != nil {
		u.log.Warnf("Unable to read the implementation slot of %s after upgrade: %v", proxy, err)
		return nil
	}
	got, err := dexeth.AddressFromSlot(word)
	if err != nil {
		u.log.Warnf("Unable to decode the implementation slot of %s after upgrade: %v", proxy, err)
		return nil
	}
	if got != impl {
		return rollup.NewError(rollup.ErrTransaction, fmt.Sprintf("proxy %s implementation is %s after upgrade to %s", proxy, got, impl))
	}
	return nil
}

// upgradeCall picks the target and calldata of an upgrade. An admin contract
// is called through upgradeAndCall, an externally owned admin calls the
// proxy's own upgradeToAndCall.
func upgradeCall(in UpgradeInstruction, admin common.Address, adminContract bool) (common.Address, []byte, error) {
	if adminContract {
		data, err := dexeth.PackAdminUpgradeAndCall(in.Proxy, in.Implementation, in.Calldata)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("error packing upgradeAndCall: %w", err)
		}
		return admin, data, nil
	}
	data, err := dexeth.PackUpgradeToAndCall(in.Implementation, in.Calldata)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("error packing upgradeToAndCall: %w", err)
	}
	return in.Proxy, data, nil
}

// OwnerCall is a call that the rollup only accepts from its owner.
type OwnerCall struct {
	To          common.Address
	Calldata    []byte
	Description string
}

// OwnerActionExecutor sends owner-only calls, or prints them for the owner
// when the deployer is someone else.
type OwnerActionExecutor struct {
	be   Backend
	auth *Authority
	rep  *Reporter
	log  rollup.Logger
}

// NewOwnerActionExecutor is the constructor for an OwnerActionExecutor.
func NewOwnerActionExecutor(be Backend, auth *Authority, rep *Reporter, log rollup.Logger) *OwnerActionExecutor {
	return &OwnerActionExecutor{be: be, auth: auth, rep: rep, log: log}
}

// Call sends or prints the call.
func (o *OwnerActionExecutor) Call(ctx context.Context, call OwnerCall) (Outcome, error) {
	if !o.auth.CallerIsOwner() {
		o.log.Warnf("Deployer is not the owner, deferring %s", call.Description)
		o.rep.Instruction(call.Description, []string{
			"Deployer is not the owner, skipping call",
			"Please make a call with the following arguments:",
		}, []Field{
			{"To", call.To.Hex()},
			{"Calldata", hexutil.Encode(call.Calldata)},
		})
		return Deferred, nil
	}
	receipt, err := submit(ctx, o.be, call.To, call.Calldata, nil)
	if err != nil {
		return 0, err
	}
	o.log.Infof("Owner call %s mined in tx %s", call.Description, receipt.TxHash)
	return Submitted, nil
}
