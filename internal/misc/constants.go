package misc

import "os"

const (
	// ContainerVersion is the current encrypted-file container format version.
	ContainerVersion byte = 1

	// ArgonTime Key derivation parameters (Argon2id)
	ArgonTime    uint32 = 3
	ArgonMemory  uint32 = 64 * 1024 // KiB, 64 MiB working memory
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// PhraseWordCount is the fixed recovery phrase length.
	PhraseWordCount = 12
	// PhraseEntropyBytes is the entropy encoded by the recovery phrase.
	PhraseEntropyBytes = 16

	// KeySize is the size of the master key and of every file encryption key.
	KeySize = 32
	// NonceSize is the AEAD nonce size (ChaCha20-Poly1305).
	NonceSize = 12
	// TagSize is the AEAD authentication tag size.
	TagSize = 16
	// WrappedKeySize is KeySize + TagSize, the wrapped FEK blob in the header.
	WrappedKeySize = KeySize + TagSize
	// CounterBlockSize is the CTR counter block: the wrap IV zero-extended.
	CounterBlockSize = 16

	// ChunkSize bounds memory use while streaming file bodies.
	ChunkSize = 8 * 1024

	// DatabaseKeyContext is the fixed HKDF info string for the database key.
	DatabaseKeyContext = "mysecurefolder.database.key.v1"

	// SecureErasePasses is the default overwrite pass count for plaintext erase.
	SecureErasePasses = 3

	FilePermissions os.FileMode = 0600 // user read + write
	DirPermissions  os.FileMode = 0700
)
