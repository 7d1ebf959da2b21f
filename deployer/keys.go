// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package deployer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MuhtasimTanmoy/payy/rollup"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// ParsePrivateKey parses a hex private key, with or without the 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, rollup.NewError(rollup.ErrConfig, "empty private key")
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, rollup.NewError(rollup.ErrConfig, fmt.Sprintf("invalid private key: %v", err))
	}
	return key, nil
}

// DecryptKeystore decrypts a geth-style encrypted key file.
func DecryptKeystore(path string, pass []byte) (*ecdsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading keystore file: %w", err)
	}
	k, err := keystore.DecryptKey(b, string(pass))
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, rollup.NewError(rollup.ErrConfig, "wrong keystore password")
		}
		return nil, fmt.Errorf("error decrypting keystore: %w", err)
	}
	return k.PrivateKey, nil
}
