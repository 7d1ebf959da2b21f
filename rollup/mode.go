// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package rollup

import (
	"fmt"
	"strings"
)

// Mode selects between a production deployment against real infrastructure
// and a dev deployment that stands in local replacements for missing pieces.
type Mode uint8

const (
	Production Mode = iota
	Dev
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Production:
		return "production"
	case Dev:
		return "dev"
	}
	return ""
}

// ModeFromString returns the Mode for the given name.
func ModeFromString(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "production", "prod", "mainnet":
		return Production, nil
	case "dev", "development", "local":
		return Dev, nil
	}
	return 255, fmt.Errorf("unknown mode %s", s)
}
