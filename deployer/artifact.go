// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Artifact is compiled contract output. Raw bytecode artifacts, named with a
// .bin suffix, have no ABI and take no constructor arguments.
type Artifact struct {
	Name     string
	ABI      *abi.ABI
	Bytecode []byte
}

// Pack encodes a call to method with args.
func (a *Artifact) Pack(method string, args ...any) ([]byte, error) {
	if a.ABI == nil {
		return nil, fmt.Errorf("artifact %s has no ABI", a.Name)
	}
	if _, found := a.ABI.Methods[method]; !found {
		return nil, fmt.Errorf("artifact %s has no method %q", a.Name, method)
	}
	return a.ABI.Pack(method, args...)
}

// ArtifactSource looks up artifacts by name.
type ArtifactSource interface {
	Artifact(name string) (*Artifact, error)
}

// FileArtifacts is an ArtifactSource over a directory tree. JSON artifacts
// from hardhat or foundry are indexed by contract name. Raw bytecode files are
// indexed by file name, including the .bin suffix.
type FileArtifacts struct {
	dir   string
	index map[string]string

	mtx   sync.Mutex
	cache map[string]*Artifact
}

var _ ArtifactSource = (*FileArtifacts)(nil)

// NewFileArtifacts indexes the artifacts under dir. When the same name appears
// more than once, the first in lexical walk order wins.
func NewFileArtifacts(dir string) (*FileArtifacts, error) {
	index := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		var name string
		switch {
		case strings.HasSuffix(base, ".dbg.json"):
			return nil
		case strings.HasSuffix(base, ".json"):
			name = strings.TrimSuffix(base, ".json")
		case strings.HasSuffix(base, ".bin"):
			name = base
		default:
			return nil
		}
		if _, found := index[name]; !found {
			index[name] = path
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error indexing artifacts in %s: %w", dir, err)
	}
	return &FileArtifacts{
		dir:   dir,
		index: index,
		cache: make(map[string]*Artifact),
	}, nil
}

// Artifact loads the named artifact.
func (fa *FileArtifacts) Artifact(name string) (*Artifact, error) {
	fa.mtx.Lock()
	defer fa.mtx.Unlock()
	if a, found := fa.cache[name]; found {
		return a, nil
	}
	path, found := fa.index[name]
	if !found {
		return nil, fmt.Errorf("artifact %s not found in %s", name, fa.dir)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a *Artifact
	if strings.HasSuffix(name, ".bin") {
		a, err = parseBinArtifact(name, b)
	} else {
		a, err = ParseJSONArtifact(name, b)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	fa.cache[name] = a
	return a, nil
}

func parseBinArtifact(name string, b []byte) (*Artifact, error) {
	code := common.FromHex(string(bytes.TrimSpace(b)))
	if len(code) == 0 {
		return nil, fmt.Errorf("no bytecode")
	}
	return &Artifact{Name: name, Bytecode: code}, nil
}

// ParseJSONArtifact parses a hardhat artifact, where bytecode is a hex
// string, or a foundry artifact, where bytecode is an object with the hex in
// its object field.
func ParseJSONArtifact(name string, b []byte) (*Artifact, error) {
	var raw struct {
		ABI      json.RawMessage `json:"abi"`
		Bytecode json.RawMessage `json:"bytecode"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("no abi")
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("error parsing abi: %w", err)
	}
	var codeHex string
	if len(raw.Bytecode) > 0 && raw.Bytecode[0] == '"' {
		err = json.Unmarshal(raw.Bytecode, &codeHex)
	} else {
		var obj struct {
			Object string `json:"object"`
		}
		err = json.Unmarshal(raw.Bytecode, &obj)
		codeHex = obj.Object
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing bytecode: %w", err)
	}
	code := common.FromHex(codeHex)
	if len(code) == 0 {
		return nil, fmt.Errorf("no bytecode, is %s abstract?", name)
	}
	return &Artifact{Name: name, ABI: &parsed, Bytecode: code}, nil
}

// ReadRootHash reads a 32-byte hex value from a file. Surrounding whitespace
// is ignored.
func ReadRootHash(path string) (common.Hash, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return common.Hash{}, err
	}
	s := strings.TrimSpace(string(b))
	h := common.FromHex(s)
	if len(h) != common.HashLength {
		return common.Hash{}, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("%s holds %d bytes, expected a 32-byte hash", path, len(h)))
	}
	return common.BytesToHash(h), nil
}

// DeploymentTarget is one contract creation.
type DeploymentTarget struct {
	Artifact string
	Args     []any
}

// ArtifactDeployer creates contracts from artifacts.
type ArtifactDeployer struct {
	src ArtifactSource
	be  Backend
	log rollup.Logger
}

// NewArtifactDeployer is the constructor for an ArtifactDeployer.
func NewArtifactDeployer(src ArtifactSource, be Backend, log rollup.Logger) *ArtifactDeployer {
	return &ArtifactDeployer{src: src, be: be, log: log}
}

// Deploy creates the target contract and returns its address and artifact.
func (d *ArtifactDeployer) Deploy(ctx context.Context, target DeploymentTarget) (common.Address, *Artifact, error) {
	a, err := d.src.Artifact(target.Artifact)
	if err != nil {
		return common.Address{}, nil, err
	}
	code := a.Bytecode
	if len(target.Args) > 0 {
		if a.ABI == nil {
			return common.Address{}, nil, fmt.Errorf("constructor arguments given for raw bytecode %s", a.Name)
		}
		argData, err := a.ABI.Pack("", target.Args...)
		if err != nil {
			return common.Address{}, nil, fmt.Errorf("error packing %s constructor arguments: %w", a.Name, err)
		}
		code = append(append(make([]byte, 0, len(code)+len(argData)), code...), argData...)
	}
	addr, err := d.be.Deploy(ctx, code)
	if err != nil {
		return common.Address{}, nil, rollup.NewError(rollup.ErrDeployment, fmt.Sprintf("%s: %v", a.Name, err))
	}
	d.log.Infof("👍 Contract %s deployed at %s", a.Name, addr)
	return addr, a, nil
}
