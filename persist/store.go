package persist

import "fmt"

// StoreType identifies a storage backend.
type StoreType string

const (
	StoreTypeFileSystem StoreType = "filesystem"
	StoreTypeS3         StoreType = "s3"
)

// Credential identifiers used by the session controller.
const (
	CredentialRecoveryPhrase = "recovery_phrase"
	CredentialBiometric      = "biometric_master_key"
	CredentialDecoy          = "decoy_password"
)

// ErrNotFound is returned when a requested item does not exist in the
// store.
var ErrNotFound = fmt.Errorf("item not found")

// Store persists the vault's key-management state: the password
// verifier, the wrapped database key, the rotation journal, and opaque
// credential blobs. Credential payloads are written exactly as given;
// any sealing is the caller's concern. CredentialBiometric in
// particular carries a master key copy and must be backed by the
// platform keystore (Keychain, Android Keystore) in production rather
// than a plain file or bucket. File payloads themselves do not pass
// through a Store; they live wherever the caller keeps them.
//
// Journal writes must be durable before they return: a crash
// immediately after SaveJournal must find the journal intact on
// restart.
type Store interface {
	// SaveVerifier persists the password verifier record.
	SaveVerifier(data []byte) error
	// LoadVerifier returns ErrNotFound when no vault has been set up.
	LoadVerifier() ([]byte, error)

	// SaveDatabaseKey persists the wrapped database key blob.
	SaveDatabaseKey(data []byte) error
	LoadDatabaseKey() ([]byte, error)

	// SaveJournal durably persists the rotation journal before
	// returning.
	SaveJournal(data []byte) error
	// LoadJournal returns ErrNotFound when no journal exists.
	LoadJournal() ([]byte, error)
	ClearJournal() error

	// SaveCredential stores an encrypted credential blob under id.
	SaveCredential(id string, data []byte) error
	LoadCredential(id string) ([]byte, error)
	DeleteCredential(id string) error
	CredentialExists(id string) (bool, error)

	// Ping verifies the backend is reachable and writable.
	Ping() error
	Close() error
	GetType() StoreType
}
