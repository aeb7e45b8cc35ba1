// ABOUTME: BIP39 recovery phrases for the local store key.
// ABOUTME: The phrase is shown once at init; losing it makes the sealed cache unreadable.
package offline

import (
	"errors"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// NewRecoveryPhrase generates a 24-word BIP39 mnemonic and its 64-byte seed.
func NewRecoveryPhrase() (phrase string, seed []byte, err error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	phrase, err = bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	return phrase, bip39.NewSeed(phrase, ""), nil
}

// ParseRecoveryPhrase validates a mnemonic and returns the derived seed.
func ParseRecoveryPhrase(phrase string) ([]byte, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if phrase == "" {
		return nil, errors.New("recovery phrase required")
	}
	if !bip39.IsMnemonicValid(phrase) {
		return nil, errors.New("invalid recovery phrase")
	}
	return bip39.NewSeed(phrase, ""), nil
}
