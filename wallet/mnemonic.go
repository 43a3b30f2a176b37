package wallet

import (
	"errors"
	"strings"

	"github.com/tolelom/tolmarket/crypto"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic is returned for phrases that fail the BIP-39 checksum.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// NewMnemonic returns a fresh 24-word BIP-39 phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// KeyFromMnemonic derives the ed25519 key for phrase: the first 32 bytes of
// the BIP-39 seed (empty passphrase) are used as the ed25519 seed.
func KeyFromMnemonic(phrase string) (crypto.PrivateKey, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if !bip39.IsMnemonicValid(phrase) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(phrase, "")
	return crypto.KeyFromSeed(seed[:32])
}

// FromMnemonic restores a Wallet from a BIP-39 phrase.
func FromMnemonic(phrase, chainID string) (*Wallet, error) {
	priv, err := KeyFromMnemonic(phrase)
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}
