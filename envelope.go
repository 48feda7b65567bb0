package vault

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// WrapKey AEAD-encrypts a file encryption key under the master key with
// a fresh random 96-bit nonce. Reusing a nonce under the same key is a
// correctness violation, so the nonce is always generated here and
// returned alongside the 48-byte ciphertext (32-byte key + 16-byte tag).
func WrapKey(fek, masterKey []byte) (iv, wrapped []byte, err error) {
	if len(fek) != misc.KeySize {
		return nil, nil, fmt.Errorf("file key must be %d bytes, got %d", misc.KeySize, len(fek))
	}
	if len(masterKey) != misc.KeySize {
		return nil, nil, fmt.Errorf("master key must be %d bytes, got %d", misc.KeySize, len(masterKey))
	}

	iv, wrapped, err = crypto.Seal(fek, masterKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to wrap file key: %w", err)
	}
	return iv, wrapped, nil
}

// UnwrapKey recovers a file encryption key from its wrapped form.
// Returns ErrAuthenticationFailed when the tag does not verify; that
// failure is the canonical "is this the right key for this file" probe.
func UnwrapKey(wrapped, iv, masterKey []byte) ([]byte, error) {
	if len(wrapped) != misc.WrappedKeySize {
		return nil, fmt.Errorf("wrapped key must be %d bytes, got %d", misc.WrappedKeySize, len(wrapped))
	}
	return crypto.Open(wrapped, iv, masterKey)
}

// DeriveDatabaseKey derives the 32-byte database key from a master key
// via HKDF-SHA256 with a zero salt and a fixed context string.
// Deterministic given the master key.
func DeriveDatabaseKey(masterKey []byte) ([]byte, error) {
	if len(masterKey) != misc.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", misc.KeySize, len(masterKey))
	}

	salt := make([]byte, sha256.Size)
	reader := hkdf.New(sha256.New, masterKey, salt, []byte(misc.DatabaseKeyContext))

	key := make([]byte, misc.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive database key: %w", err)
	}
	return key, nil
}
