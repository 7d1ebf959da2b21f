// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	tProxy     = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	tImpl      = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	tImpl2     = common.HexToAddress("0xDc64a140Aa3E981100a9becA4E685f962f0cF6C9")
	tAdminCtrt = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
)

func TestUpgradeExecutor(t *testing.T) {
	initData := []byte{0xde, 0xad, 0xbe, 0xef}

	// Unresolved authority is an error, not a deferral.
	be := newTBackend(dexeth.HardhatChainID)
	env, auth, buf := newTEnv(be, devIdentities())
	state := &ProxyState{Proxy: tProxy, Implementation: tImpl}
	if _, err := env.Upgrades.Upgrade(tCtx, state, tImpl2, initData); !errors.Is(err, rollup.ErrAuthorityUnresolved) {
		t.Fatalf("expected ErrAuthorityUnresolved, got %v", err)
	}
	if len(be.txs) != 0 {
		t.Fatalf("transaction sent before authority resolved")
	}

	// Externally owned admin calls the proxy directly.
	auth.SetAdmin(tDeployer, tDeployer, false)
	outcome, err := env.Upgrades.Upgrade(tCtx, state, tImpl2, initData)
	if err != nil {
		t.Fatalf("Upgrade error: %v", err)
	}
	if outcome != Submitted {
		t.Fatalf("wanted Submitted, got %s", outcome)
	}
	if len(be.txs) != 1 || be.txs[0].to != tProxy {
		t.Fatalf("expected one transaction to the proxy, got %d", len(be.txs))
	}
	impl, data, err := dexeth.ParseUpgradeToAndCall(be.txs[0].data)
	if err != nil {
		t.Fatalf("ParseUpgradeToAndCall error: %v", err)
	}
	if impl != tImpl2 || !bytes.Equal(data, initData) {
		t.Fatalf("wrong upgrade arguments")
	}
	if state.Implementation != tImpl2 {
		t.Fatalf("implementation not updated")
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}

	// Admin contract owned by the deployer is called with upgradeAndCall.
	be = newTBackend(dexeth.HardhatChainID)
	env, auth, _ = newTEnv(be, devIdentities())
	auth.SetAdmin(tAdminCtrt, tDeployer, true)
	state = &ProxyState{Proxy: tProxy, Implementation: tImpl}
	if _, err := env.Upgrades.Upgrade(tCtx, state, tImpl2, initData); err != nil {
		t.Fatalf("Upgrade error: %v", err)
	}
	want, _ := dexeth.PackAdminUpgradeAndCall(tProxy, tImpl2, initData)
	if len(be.txs) != 1 || be.txs[0].to != tAdminCtrt || !bytes.Equal(be.txs[0].data, want) {
		t.Fatalf("expected upgradeAndCall on the admin contract")
	}

	// A mined upgrade that leaves the implementation slot unchanged fails.
	be = newTBackend(dexeth.HardhatChainID)
	be.staleUpgrades = true
	env, auth, _ = newTEnv(be, devIdentities())
	auth.SetAdmin(tDeployer, tDeployer, false)
	state = &ProxyState{Proxy: tProxy, Implementation: tImpl}
	_, err = env.Upgrades.Upgrade(tCtx, state, tImpl2, initData)
	mustErrorIs(t, err, rollup.ErrTransaction)
	if !strings.Contains(err.Error(), tImpl2.Hex()) || state.Implementation != tImpl {
		t.Fatalf("wrong stale upgrade handling: %v", err)
	}

	// An unreadable implementation slot does not fail a mined upgrade.
	be = newTBackend(dexeth.HardhatChainID)
	be.storageErr = errors.New("rpc down")
	env, auth, _ = newTEnv(be, devIdentities())
	auth.SetAdmin(tDeployer, tDeployer, false)
	state = &ProxyState{Proxy: tProxy, Implementation: tImpl}
	if outcome, err := env.Upgrades.Upgrade(tCtx, state, tImpl2, initData); err != nil || outcome != Submitted {
		t.Fatalf("wanted Submitted with an unreadable slot, got %s, %v", outcome, err)
	}

	// Not the admin prints all three arguments and sends nothing.
	be = newTBackend(dexeth.HardhatChainID)
	env, auth, buf = newTEnv(be, devIdentities())
	auth.SetAdmin(tOther, tOther, false)
	state = &ProxyState{Proxy: tProxy, Implementation: tImpl}
	outcome, err = env.Upgrades.Upgrade(tCtx, state, tImpl2, initData)
	if err != nil {
		t.Fatalf("deferral returned an error: %v", err)
	}
	if outcome != Deferred {
		t.Fatalf("wanted Deferred, got %s", outcome)
	}
	if len(be.txs) != 0 {
		t.Fatalf("transaction sent without authority")
	}
	out := buf.String()
	for _, s := range []string{"Deployer is not the proxy admin", tProxy.Hex(), tImpl2.Hex(), hexutil.Encode(initData), tOther.Hex()} {
		if !strings.Contains(out, s) {
			t.Fatalf("instructions missing %q: %s", s, out)
		}
	}
	if state.Implementation != tImpl {
		t.Fatalf("deferred upgrade changed the implementation")
	}

	// A reverted upgrade is fatal and leaves the state alone.
	be = newTBackend(dexeth.HardhatChainID)
	be.revert = func(common.Address, []byte) bool { return true }
	env, auth, _ = newTEnv(be, devIdentities())
	auth.SetAdmin(tDeployer, tDeployer, false)
	state = &ProxyState{Proxy: tProxy, Implementation: tImpl}
	_, err = env.Upgrades.Upgrade(tCtx, state, tImpl2, initData)
	mustErrorIs(t, err, rollup.ErrReverted)
	if !strings.Contains(err.Error(), tProxy.Hex()) {
		t.Fatalf("revert error does not name the target: %v", err)
	}
	if state.Implementation != tImpl {
		t.Fatalf("reverted upgrade changed the implementation")
	}

	// A rejected submission is a transaction error.
	be = newTBackend(dexeth.HardhatChainID)
	be.txErr = func(common.Address, []byte) error { return errors.New("execution reverted") }
	env, auth, _ = newTEnv(be, devIdentities())
	auth.SetAdmin(tDeployer, tDeployer, false)
	_, err = env.Upgrades.Upgrade(tCtx, &ProxyState{Proxy: tProxy}, tImpl2, initData)
	mustErrorIs(t, err, rollup.ErrTransaction)
}

func TestOwnerActionExecutor(t *testing.T) {
	call := OwnerCall{To: tProxy, Calldata: []byte{1, 2, 3, 4, 5}, Description: "register router"}

	be := newTBackend(dexeth.HardhatChainID)
	env, _, buf := newTEnv(be, devIdentities())
	outcome, err := env.OwnerCalls.Call(tCtx, call)
	if err != nil || outcome != Submitted {
		t.Fatalf("expected submission, got %s, %v", outcome, err)
	}
	if len(be.txs) != 1 || be.txs[0].to != tProxy || !bytes.Equal(be.txs[0].data, call.Calldata) {
		t.Fatalf("wrong owner transaction")
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}

	// The owner gate does not depend on the admin.
	ids := devIdentities()
	ids.Owner = tOther
	be = newTBackend(dexeth.HardhatChainID)
	env, auth, buf := newTEnv(be, ids)
	auth.SetAdmin(tDeployer, tDeployer, false)
	outcome, err = env.OwnerCalls.Call(tCtx, call)
	if err != nil || outcome != Deferred {
		t.Fatalf("expected deferral, got %s, %v", outcome, err)
	}
	if len(be.txs) != 0 {
		t.Fatalf("owner call sent by a non-owner")
	}
	out := buf.String()
	for _, s := range []string{"Deployer is not the owner", "\tTo: " + tProxy.Hex(), "\tCalldata: 0x0102030405"} {
		if !strings.Contains(out, s) {
			t.Fatalf("instructions missing %q: %s", s, out)
		}
	}

	be = newTBackend(dexeth.HardhatChainID)
	be.revert = func(common.Address, []byte) bool { return true }
	env, _, _ = newTEnv(be, devIdentities())
	_, err = env.OwnerCalls.Call(tCtx, call)
	mustErrorIs(t, err, rollup.ErrReverted)
}

func TestProxyBootstrap(t *testing.T) {
	initArgs := func() []any {
		return []any{tDeployer, tOther, tOther, tOther, tOther, tDeployer, []common.Address{tDeployer}, [32]byte(tRoot)}
	}
	req := func() *BootstrapRequest {
		return &BootstrapRequest{
			Implementation: "RollupV1",
			Proxy:          "TransparentUpgradeableProxy",
			InitialOwner:   tDeployer,
			Initializer:    "initialize",
			InitArgs:       initArgs(),
		}
	}

	be := newTBackend(dexeth.HardhatChainID)
	env, auth, _ := newTEnv(be, devIdentities())
	var implSeen common.Address
	r := req()
	r.OnImplementation = func(a common.Address) { implSeen = a }
	state, err := env.Bootstrap.Bootstrap(tCtx, r)
	if err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	if names := be.deployedNames(); len(names) != 2 || names[0] != "RollupV1" || names[1] != "TransparentUpgradeableProxy" {
		t.Fatalf("wrong deployments %v", names)
	}
	if state.Implementation != be.deployments[0].addr || implSeen != state.Implementation {
		t.Fatalf("wrong implementation %s", state.Implementation)
	}
	if state.Proxy != be.deployments[1].addr || state.Admin != tDeployer || state.AdminContract {
		t.Fatalf("wrong proxy state %+v", state)
	}
	// The constructor arguments carry the initializer calldata.
	rollupV1, _ := rollupArtifacts().Artifact("RollupV1")
	initData, _ := rollupV1.Pack("initialize", initArgs()...)
	if !bytes.Contains(be.deployments[1].code, initData[:4]) {
		t.Fatalf("proxy constructor arguments missing the initializer")
	}
	if isAdmin, err := auth.CallerIsAdmin(); err != nil || !isAdmin {
		t.Fatalf("expected deployer to be admin, got %t, %v", isAdmin, err)
	}

	// Admin contract owned by someone else.
	be = newTBackend(dexeth.HardhatChainID)
	be.proxyAdmin = tAdminCtrt
	be.adminOwner = &tOther
	env, auth, _ = newTEnv(be, devIdentities())
	state, err = env.Bootstrap.Bootstrap(tCtx, req())
	if err != nil {
		t.Fatalf("Bootstrap error: %v", err)
	}
	if state.Admin != tAdminCtrt || !state.AdminContract || state.Controller != tOther {
		t.Fatalf("wrong admin contract state %+v", state)
	}
	if isAdmin, _ := auth.CallerIsAdmin(); isAdmin {
		t.Fatalf("deployer should not control the admin contract")
	}

	// An admin contract that is not Ownable controls upgrades itself.
	for _, res := range []func(b *tBackend){
		func(*tBackend) {},
		func(b *tBackend) { b.callResult = []byte{0x01} },
	} {
		be = newTBackend(dexeth.HardhatChainID)
		be.proxyAdmin = tAdminCtrt
		be.code[tAdminCtrt] = []byte{0x60, 0x80}
		res(be)
		env, auth, _ = newTEnv(be, devIdentities())
		state, err = env.Bootstrap.Bootstrap(tCtx, req())
		if err != nil {
			t.Fatalf("Bootstrap error for a non-Ownable admin: %v", err)
		}
		if !state.AdminContract || state.Controller != tAdminCtrt {
			t.Fatalf("wrong non-Ownable admin state %+v", state)
		}
		if isAdmin, err := auth.CallerIsAdmin(); err != nil || isAdmin {
			t.Fatalf("deployer should not be admin through a non-Ownable admin, got %t, %v", isAdmin, err)
		}
	}

	// Slot read failures are fatal, but the proxy is reported first.
	be = newTBackend(dexeth.HardhatChainID)
	be.storageErr = errors.New("rpc down")
	env, auth, _ = newTEnv(be, devIdentities())
	var proxySeen common.Address
	r = req()
	r.OnProxy = func(a common.Address) { proxySeen = a }
	if _, err := env.Bootstrap.Bootstrap(tCtx, r); err == nil {
		t.Fatalf("no error for failed slot read")
	}
	if proxySeen == (common.Address{}) || proxySeen != be.deployed("TransparentUpgradeableProxy")[0] {
		t.Fatalf("proxy address not reported before the failed read")
	}
	if _, err := auth.CallerIsAdmin(); !errors.Is(err, rollup.ErrAuthorityUnresolved) {
		t.Fatalf("authority resolved after a failed read")
	}

	be = newTBackend(dexeth.HardhatChainID)
	be.slotWord = make([]byte, 20)
	env, _, _ = newTEnv(be, devIdentities())
	if _, err := env.Bootstrap.Bootstrap(tCtx, req()); err == nil {
		t.Fatalf("no error for a short slot word")
	}

	be = newTBackend(dexeth.HardhatChainID)
	be.deployErr["TransparentUpgradeableProxy"] = errors.New("out of gas")
	env, _, _ = newTEnv(be, devIdentities())
	_, err = env.Bootstrap.Bootstrap(tCtx, req())
	mustErrorIs(t, err, rollup.ErrDeployment)
	if len(be.deployments) != 1 {
		t.Fatalf("the implementation should remain deployed")
	}
}
