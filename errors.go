package vault

import (
	"errors"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
)

var (
	// ErrInvalidCredential indicates a malformed password or recovery
	// phrase, as opposed to a well-formed but wrong one.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrAuthenticationFailed indicates an AEAD tag mismatch. Wrong key,
	// corruption and tampering are indistinguishable by design.
	ErrAuthenticationFailed = crypto.ErrAuthentication

	// ErrVaultLocked indicates an operation that needs an active master
	// key was attempted while the session is locked.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrRotationInProgress rejects a second concurrent password change,
	// and blocks unlock paths while an interrupted rotation awaits
	// recovery.
	ErrRotationInProgress = errors.New("password rotation in progress")

	// ErrRotationFailed indicates the rotation journal is marked Failed
	// and manual recovery is required.
	ErrRotationFailed = errors.New("password rotation failed")

	// ErrRecoveryDataMissing indicates no stored recovery phrase or
	// verifier is available for the requested recovery.
	ErrRecoveryDataMissing = errors.New("recovery data missing")

	// ErrAlreadySetup indicates Setup was called on a provisioned vault.
	ErrAlreadySetup = errors.New("vault already set up")

	// ErrNotSetup indicates the vault has never been provisioned.
	ErrNotSetup = errors.New("vault not set up")
)
