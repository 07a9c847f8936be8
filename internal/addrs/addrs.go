// Package addrs derives receiving addresses from a gateway's public key
// material. Each keychain index maps to one address, so every order gets a
// distinct destination.
package addrs

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// Deriver produces the receiving address for a keychain index.
type Deriver interface {
	AddressForKeychainID(keychainID uint64) (string, error)
}

// BIP32 derives P2PKH addresses by non-hardened child derivation from an
// extended public key. Private extended keys are rejected: this process never
// holds spending material.
type BIP32 struct {
	key    *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

// NewBIP32 parses the gateway's xpub. params may be nil for mainnet.
func NewBIP32(xpub string, params *chaincfg.Params) (*BIP32, error) {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("parsing extended public key: %w", err)
	}
	if key.IsPrivate() {
		return nil, errors.New("refusing private extended key: gateway pubkey must be an xpub")
	}
	return &BIP32{key: key, params: params}, nil
}

func (d *BIP32) AddressForKeychainID(keychainID uint64) (string, error) {
	if keychainID > hdkeychain.HardenedKeyStart-1 {
		return "", fmt.Errorf("keychain id %d exceeds the non-hardened derivation range", keychainID)
	}
	child, err := d.key.Derive(uint32(keychainID))
	if err != nil {
		return "", fmt.Errorf("deriving child %d: %w", keychainID, err)
	}
	addr, err := child.Address(d.params)
	if err != nil {
		return "", fmt.Errorf("building address for child %d: %w", keychainID, err)
	}
	return addr.EncodeAddress(), nil
}
