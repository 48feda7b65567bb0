package vault

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// GenerateRecoveryPhrase produces a 12-word mnemonic encoding 128 bits
// of fresh entropy with an embedded checksum. The phrase is generated
// once at setup and never changes afterwards; a password change leaves
// it intact.
func GenerateRecoveryPhrase() (string, error) {
	entropy, err := crypto.RandomBytes(misc.PhraseEntropyBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate phrase entropy: %w", err)
	}
	defer crypto.SecureZero(entropy)

	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to encode recovery phrase: %w", err)
	}
	return phrase, nil
}

// ValidatePhrase reports whether the phrase has exactly 12 words and a
// valid checksum. Any other word count fails closed.
func ValidatePhrase(phrase string) bool {
	words := strings.Fields(phrase)
	if len(words) != misc.PhraseWordCount {
		return false
	}
	return bip39.IsMnemonicValid(strings.Join(words, " "))
}

// DeriveMasterKey deterministically derives the 32-byte master key from
// a password and the recovery phrase. The phrase acts as salt material:
// its words, joined by single spaces, are hashed to produce the Argon2id
// salt. Identical inputs always yield an identical key, which is what
// makes recovery and password verification possible without ever
// storing the password.
func DeriveMasterKey(password, phrase string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", ErrInvalidCredential)
	}
	if !ValidatePhrase(phrase) {
		return nil, fmt.Errorf("%w: malformed recovery phrase", ErrInvalidCredential)
	}

	normalized := strings.Join(strings.Fields(phrase), " ")
	salt := sha256.Sum256([]byte(normalized))

	return crypto.DeriveKey([]byte(password), salt[:]), nil
}
