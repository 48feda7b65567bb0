package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// ErrAuthentication is returned when an AEAD tag does not verify. Wrong key,
// corruption and tampering are indistinguishable by design.
var ErrAuthentication = errors.New("authentication failed")

// DeriveKey runs Argon2id over the password with the given salt and returns
// a 32-byte key. Deterministic: identical inputs always yield the same key.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(
		password,
		salt,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)
}

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}

// Seal AEAD-encrypts value under key with a fresh random nonce and returns
// the nonce and the ciphertext (which includes the 16-byte tag) separately.
// A fresh nonce on every call is a correctness requirement, not a style one.
func Seal(value, key []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce, err = RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, value, nil)
	return nonce, ciphertext, nil
}

// SealWithNonce AEAD-encrypts value under key with a caller-supplied
// nonce. Only for re-wrapping under a key that has never seen this
// nonce; every other caller must use Seal.
func SealWithNonce(value, key, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	return aead.Seal(nil, nonce, value, nil), nil
}

// Open AEAD-decrypts ciphertext under key with the given nonce. Returns
// ErrAuthentication when the tag does not verify.
func Open(ciphertext, nonce, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("invalid nonce size")
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, errors.New("encrypted data too short")
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	return plaintext, nil
}

// EncryptValue encrypts value under key and returns nonce||ciphertext as a
// single blob, the storage format used for credentials and the wrapped
// database key.
func EncryptValue(value, key []byte) ([]byte, error) {
	nonce, ciphertext, err := Seal(value, key)
	if err != nil {
		return nil, err
	}

	encrypted := make([]byte, len(nonce)+len(ciphertext))
	copy(encrypted[:len(nonce)], nonce)
	copy(encrypted[len(nonce):], ciphertext)
	return encrypted, nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(encryptedData, key []byte) ([]byte, error) {
	if len(encryptedData) < misc.NonceSize+misc.TagSize {
		return nil, errors.New("encrypted data too short")
	}
	return Open(encryptedData[misc.NonceSize:], encryptedData[:misc.NonceSize], key)
}

// SecureZero overwrites a byte slice to keep key material from persisting in
// memory after use. The constant-time copy prevents the compiler from
// optimizing the wipe away; Go's GC means this is best-effort, not a
// guarantee.
func SecureZero(b []byte) {
	if len(b) == 0 {
		return
	}
	zeros := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zeros)
}

// IsWeakKey performs a basic sanity check on freshly generated key material.
func IsWeakKey(key []byte) bool {
	if len(key) < misc.KeySize {
		return true
	}

	firstByte := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Count unique byte values as a crude entropy floor.
	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}
	return len(uniqueBytes) < 16
}
