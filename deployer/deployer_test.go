// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/MuhtasimTanmoy/payy/rollup"
	dexeth "github.com/MuhtasimTanmoy/payy/rollup/networks/eth"
	"github.com/MuhtasimTanmoy/payy/rollup/record"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	tCtx      = context.Background()
	tDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	tOther    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	tProver   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	tRoot     = common.HexToHash("0x2a3b6a18e2d4fcb45d9e3a0f9fd7c2a71e27e4a1d2bfd5fdc79e4f4a29e1b4c1")
)

type tDeployment struct {
	artifact string
	addr     common.Address
	code     []byte
}

type tTx struct {
	to    common.Address
	data  []byte
	value *big.Int
}

// tBackend is a Backend that creates addresses the way the chain would and
// keeps a log of everything it was asked to do.
type tBackend struct {
	addr    common.Address
	chainID int64
	nonce   uint64

	deployments []*tDeployment
	txs         []*tTx
	storageErr  error
	slotWord    []byte // overrides the admin slot word if set

	// proxyAdmin is written to the admin slot of any proxy deployment.
	// With adminOwner set, the admin is a contract owned by adminOwner.
	proxyAdmin common.Address
	adminOwner *common.Address

	// staleUpgrades leaves the implementation slot alone on upgrades.
	staleUpgrades bool

	// callResult, if set, answers every call that is not an admin owner()
	// lookup.
	callResult []byte

	deployErr map[string]error
	revert    func(to common.Address, data []byte) bool
	txErr     func(to common.Address, data []byte) error

	storage map[common.Address]map[common.Hash][]byte
	code    map[common.Address][]byte
}

var _ Backend = (*tBackend)(nil)

func newTBackend(chainID int64) *tBackend {
	return &tBackend{
		addr:       tDeployer,
		chainID:    chainID,
		proxyAdmin: tDeployer,
		deployErr:  make(map[string]error),
		storage:    make(map[common.Address]map[common.Hash][]byte),
		code:       make(map[common.Address][]byte),
	}
}

func (b *tBackend) Address() common.Address { return b.addr }
func (b *tBackend) ChainID() *big.Int       { return big.NewInt(b.chainID) }

// artifactName recovers the artifact name the test bytecode starts with.
func artifactName(code []byte) string {
	if i := bytes.IndexByte(code, 0); i > 0 {
		return string(code[:i])
	}
	return ""
}

func (b *tBackend) Deploy(_ context.Context, code []byte) (common.Address, error) {
	name := artifactName(code)
	if err := b.deployErr[name]; err != nil {
		return common.Address{}, err
	}
	addr := crypto.CreateAddress(b.addr, b.nonce)
	b.nonce++
	b.deployments = append(b.deployments, &tDeployment{artifact: name, addr: addr, code: code})
	b.code[addr] = code
	if name == "TransparentUpgradeableProxy" {
		b.storage[addr] = map[common.Hash][]byte{
			dexeth.AdminSlot: common.LeftPadBytes(b.proxyAdmin.Bytes(), 32),
		}
		if b.adminOwner != nil {
			b.code[b.proxyAdmin] = []byte{0x60, 0x80}
		}
	}
	return addr, nil
}

func (b *tBackend) Transact(_ context.Context, to common.Address, data []byte, value *big.Int) (*types.Receipt, error) {
	if b.txErr != nil {
		if err := b.txErr(to, data); err != nil {
			return nil, err
		}
	}
	b.txs = append(b.txs, &tTx{to: to, data: data, value: value})
	b.nonce++
	status := types.ReceiptStatusSuccessful
	if b.revert != nil && b.revert(to, data) {
		status = types.ReceiptStatusFailed
	} else if !b.staleUpgrades {
		b.applyUpgrade(to, data)
	}
	return &types.Receipt{
		Status: status,
		TxHash: common.BigToHash(new(big.Int).SetUint64(b.nonce)),
	}, nil
}

// applyUpgrade writes the implementation slot for a mined upgradeToAndCall
// on a proxy or upgradeAndCall on an admin contract.
func (b *tBackend) applyUpgrade(to common.Address, data []byte) {
	proxy := to
	impl, _, err := dexeth.ParseUpgradeToAndCall(data)
	if err != nil {
		if len(data) < 4 {
			return
		}
		m, err := dexeth.ProxyAdminABI.MethodById(data[:4])
		if err != nil || m.Name != "upgradeAndCall" {
			return
		}
		args, err := m.Inputs.Unpack(data[4:])
		if err != nil {
			return
		}
		proxy, impl = args[0].(common.Address), args[1].(common.Address)
	}
	if b.storage[proxy] == nil {
		b.storage[proxy] = make(map[common.Hash][]byte)
	}
	b.storage[proxy][dexeth.ImplementationSlot] = common.LeftPadBytes(impl.Bytes(), 32)
}

func (b *tBackend) StorageAt(_ context.Context, contract common.Address, slot common.Hash) ([]byte, error) {
	if b.storageErr != nil {
		return nil, b.storageErr
	}
	if b.slotWord != nil {
		return b.slotWord, nil
	}
	if word, found := b.storage[contract][slot]; found {
		return word, nil
	}
	return make([]byte, 32), nil
}

func (b *tBackend) CodeAt(_ context.Context, account common.Address) ([]byte, error) {
	return b.code[account], nil
}

func (b *tBackend) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	if to == b.proxyAdmin && b.adminOwner != nil && bytes.Equal(data, ownableABI.Methods["owner"].ID) {
		return common.LeftPadBytes(b.adminOwner.Bytes(), 32), nil
	}
	if b.callResult != nil {
		return b.callResult, nil
	}
	return nil, fmt.Errorf("unexpected call to %s", to)
}

func (b *tBackend) deployed(name string) []common.Address {
	var addrs []common.Address
	for _, d := range b.deployments {
		if d.artifact == name {
			addrs = append(addrs, d.addr)
		}
	}
	return addrs
}

func (b *tBackend) deployedNames() []string {
	names := make([]string, 0, len(b.deployments))
	for _, d := range b.deployments {
		names = append(names, d.artifact)
	}
	return names
}

// txsCalling returns the transactions whose calldata starts with the selector
// of method in a.
func (b *tBackend) txsCalling(a *abi.ABI, method string) []*tTx {
	id := a.Methods[method].ID
	var txs []*tTx
	for _, tx := range b.txs {
		if len(tx.data) >= 4 && bytes.Equal(tx.data[:4], id) {
			txs = append(txs, tx)
		}
	}
	return txs
}

const (
	verifierABI = `[{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"bin","type":"address"}]}]`
	proxyABI    = `[{"type":"constructor","stateMutability":"payable","inputs":[
		{"name":"_logic","type":"address"},{"name":"initialOwner","type":"address"},{"name":"_data","type":"bytes"}]}]`
	rollupV1ABI = `[{"type":"function","name":"initialize","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"owner","type":"address"},{"name":"usdc","type":"address"},
		{"name":"aggregateVerifier","type":"address"},{"name":"mintVerifier","type":"address"},
		{"name":"burnVerifier","type":"address"},{"name":"prover","type":"address"},
		{"name":"validators","type":"address[]"},{"name":"root","type":"bytes32"}]}]`
	rollupV5ABI = `[
		{"type":"function","name":"initializeV5","stateMutability":"nonpayable","outputs":[],"inputs":[{"name":"burnVerifierV2","type":"address"}]},
		{"type":"function","name":"addRouter","stateMutability":"nonpayable","outputs":[],"inputs":[{"name":"router","type":"address"}]}]`
	acrossABI = `[{"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"spokePool","type":"address"}]}]`
)

func noArgInitializerABI(name string) string {
	return fmt.Sprintf(`[{"type":"function","name":"%s","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`, name)
}

// tArtifacts is an in-memory ArtifactSource. Every artifact's bytecode is its
// name followed by a zero byte.
type tArtifacts map[string]*Artifact

func (ta tArtifacts) Artifact(name string) (*Artifact, error) {
	a, found := ta[name]
	if !found {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return a, nil
}

func (ta tArtifacts) add(name, abiJSON string) {
	a := &Artifact{Name: name, Bytecode: append([]byte(name), 0)}
	if abiJSON != "" {
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			panic(fmt.Sprintf("%s: %v", name, err))
		}
		a.ABI = &parsed
	}
	ta[name] = a
}

func rollupArtifacts() tArtifacts {
	ta := make(tArtifacts)
	for _, bin := range []string{"AggregateVerifier.bin", "NoopVerifier.bin", "MintVerifier.bin",
		"BurnVerifier.bin", "BurnVerifierV2.bin", "USDC.bin"} {
		ta.add(bin, "")
	}
	for _, v := range []string{"AggregateVerifierV1", "MintVerifierV1", "BurnVerifierV1", "BurnVerifierV2"} {
		ta.add(v, verifierABI)
	}
	ta.add("TransparentUpgradeableProxy", proxyABI)
	ta.add("RollupV1", rollupV1ABI)
	ta.add("RollupV2", noArgInitializerABI("initializeV2"))
	ta.add("RollupV3", noArgInitializerABI("initializeV3"))
	ta.add("RollupV4", noArgInitializerABI("initializeV4"))
	ta.add("RollupV5", rollupV5ABI)
	ta.add("RollupV6", noArgInitializerABI("initializeV6"))
	ta.add("BurnToAddressRouter", "[]")
	ta.add("AcrossWithAuthorization", acrossABI)
	return ta
}

// tJournal collects journaled entries.
type tJournal struct {
	entries []record.Entry
}

func (j *tJournal) Record(kind record.Kind, key, value string) error {
	j.entries = append(j.entries, record.Entry{Kind: kind, Key: key, Value: value})
	return nil
}

func newTReporter() (*Reporter, *bytes.Buffer, *tJournal) {
	var buf bytes.Buffer
	j := new(tJournal)
	return NewReporter(&buf, j, true, rollup.Disabled), &buf, j
}

func tLoggers() Loggers {
	return Loggers{Main: rollup.Disabled, Chain: rollup.Disabled, Resolver: rollup.Disabled}
}

// newTEnv creates an Env with a deployed proxy at a fixed address, ready for
// upgrade and owner call tests.
func newTEnv(be *tBackend, ids *Identities) (*Env, *Authority, *bytes.Buffer) {
	rep, buf, _ := newTReporter()
	auth := NewAuthority(ids)
	artifacts := NewArtifactDeployer(rollupArtifacts(), be, rollup.Disabled)
	env := &Env{
		Mode:        rollup.Dev,
		ChainID:     be.chainID,
		Backend:     be,
		Deployer:    artifacts,
		Bootstrap:   NewProxyBootstrap(artifacts, be, auth, rollup.Disabled),
		Upgrades:    NewUpgradeExecutor(be, auth, rep, rollup.Disabled),
		OwnerCalls:  NewOwnerActionExecutor(be, auth, rep, rollup.Disabled),
		Book:        NewAddressBook(rep),
		Identities:  ids,
		GenesisRoot: tRoot,
		Log:         rollup.Disabled,
	}
	return env, auth, buf
}

func devIdentities() *Identities {
	return &Identities{
		Deployer:   tDeployer,
		Owner:      tDeployer,
		Prover:     tDeployer,
		Validators: []common.Address{tDeployer},
	}
}

func mustErrorIs(t *testing.T, err, kind error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v, got no error", kind)
	}
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
