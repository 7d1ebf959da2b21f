// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"fmt"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/ethereum/go-ethereum/common"
)

// IdentityInput is the raw identity configuration. Empty strings are unset.
type IdentityInput struct {
	Prover     string
	Validators string // comma-separated
	Owner      string
}

// Identities are the accounts the rollup is initialized with.
type Identities struct {
	Deployer   common.Address
	Owner      common.Address
	Prover     common.Address
	Validators []common.Address
}

// ParseAddress parses a 0x-prefixed hex address. The field name is used in
// the error.
func ParseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("%s %q must start with 0x", field, s))
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("%s %q is not a valid address", field, s))
	}
	return common.HexToAddress(s), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ResolveIdentities fills in the run's identities. In dev mode an unset
// identity defaults to the deployer. In production mode each must be given.
func ResolveIdentities(mode rollup.Mode, deployer common.Address, in IdentityInput) (*Identities, error) {
	ids := &Identities{Deployer: deployer}
	var missing []string

	resolve := func(field, raw string) (common.Address, error) {
		if strings.TrimSpace(raw) == "" {
			if mode == rollup.Dev {
				return deployer, nil
			}
			missing = append(missing, field)
			return common.Address{}, nil
		}
		return ParseAddress(field, raw)
	}

	var err error
	if ids.Prover, err = resolve("PROVER_ADDRESS", in.Prover); err != nil {
		return nil, err
	}
	if ids.Owner, err = resolve("OWNER", in.Owner); err != nil {
		return nil, err
	}
	validators := splitCSV(in.Validators)
	if len(validators) == 0 {
		if mode == rollup.Dev {
			ids.Validators = []common.Address{deployer}
		} else {
			missing = append(missing, "VALIDATORS")
		}
	}
	for i, v := range validators {
		addr, err := ParseAddress(fmt.Sprintf("VALIDATORS[%d]", i), v)
		if err != nil {
			return nil, err
		}
		ids.Validators = append(ids.Validators, addr)
	}
	if len(missing) > 0 {
		return nil, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("%s required outside dev mode", strings.Join(missing, ", ")))
	}
	return ids, nil
}

// Authority tracks what the deployer is allowed to do. The owner bit is known
// at startup. The admin bit is known only once the proxy exists and its admin
// slot has been read, and is set exactly once.
type Authority struct {
	deployer common.Address
	owner    common.Address

	resolved bool
	admin    common.Address
	// controller signs upgrades. It is the admin itself when the admin is an
	// externally owned account, or the owner of the admin contract.
	controller    common.Address
	adminContract bool
}

// NewAuthority creates an Authority from resolved identities.
func NewAuthority(ids *Identities) *Authority {
	return &Authority{
		deployer: ids.Deployer,
		owner:    ids.Owner,
	}
}

// CallerIsOwner is true if the deployer is the rollup owner.
func (a *Authority) CallerIsOwner() bool {
	return a.owner == a.deployer
}

// SetAdmin records the proxy admin read from chain. controller is the
// account whose signature the admin honors, equal to admin for an externally
// owned admin.
func (a *Authority) SetAdmin(admin, controller common.Address, adminContract bool) error {
	if a.resolved {
		return fmt.Errorf("proxy admin already set to %s", a.admin)
	}
	a.admin = admin
	a.controller = controller
	a.adminContract = adminContract
	a.resolved = true
	return nil
}

// CallerIsAdmin is true if upgrades submitted by the deployer will be
// honored by the proxy.
func (a *Authority) CallerIsAdmin() (bool, error) {
	if !a.resolved {
		return false, rollup.ErrAuthorityUnresolved
	}
	return a.controller == a.deployer, nil
}

// Admin returns the proxy admin and whether it is a contract.
func (a *Authority) Admin() (admin common.Address, adminContract bool, err error) {
	if !a.resolved {
		return common.Address{}, false, rollup.ErrAuthorityUnresolved
	}
	return a.admin, a.adminContract, nil
}
