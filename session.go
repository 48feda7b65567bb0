package vault

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/kcpdme/MySecureFolder-sub002/audit"
	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/mem"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

// Vault is the session controller: it owns the master key for the
// lifetime of an unlocked session and orchestrates key derivation, the
// file codec and the rotation protocol.
//
// The master key lives in a memguard enclave held by the session. Every
// operation opens its own locked buffer from the enclave it observed at
// start, so a concurrent Lock() can never invalidate memory underneath
// an in-flight stream.
type Vault struct {
	options   Options
	store     persist.Store
	logger    audit.Logger
	biometric BiometricAuthenticator

	mu           sync.Mutex
	enclave      *memguard.Enclave
	keyID        string
	unlockedAt   time.Time
	backgroundAt time.Time
	inBackground bool

	rotationMu sync.Mutex
	dbHook     func() error

	clock      func() time.Time
	terminate  func(code int)
	protection mem.ProtectionLevel
}

// New builds a locked session over the given state store. A nil logger
// disables auditing; a nil authenticator disables biometric unlock
// prompts (enrollment data is still honored).
func New(options Options, store persist.Store, logger audit.Logger, biometric BiometricAuthenticator) (*Vault, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if err := options.ensureFilesPath(); err != nil {
		return nil, fmt.Errorf("failed to create files directory: %w", err)
	}
	if logger == nil {
		logger = audit.NewNoOpLogger()
	}

	protection := mem.ProtectionNone
	if options.EnableMemoryLock {
		if level, err := mem.Lock(); err == nil {
			protection = level
		}
	}

	return &Vault{
		options:    options,
		store:      store,
		logger:     logger,
		biometric:  biometric,
		clock:      time.Now,
		terminate:  func(code int) { memguard.SafeExit(code) },
		protection: protection,
	}, nil
}

// Setup provisions a brand new vault: generates the recovery phrase,
// derives the first master key, issues the password verifier and the
// wrapped database key, and unlocks the session. Returns the phrase,
// which is shown to the user exactly once and never changes afterwards.
func (v *Vault) Setup(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: empty password", ErrInvalidCredential)
	}
	if _, err := loadVerifierRecord(v.store); err == nil {
		return "", ErrAlreadySetup
	} else if !errors.Is(err, ErrNotSetup) {
		return "", err
	}

	phrase, err := GenerateRecoveryPhrase()
	if err != nil {
		return "", err
	}

	masterKey, err := DeriveMasterKey(password, phrase)
	if err != nil {
		return "", err
	}

	verifier, err := newVerifierRecord(masterKey)
	if err != nil {
		crypto.SecureZero(masterKey)
		return "", err
	}
	if err := verifier.save(v.store); err != nil {
		crypto.SecureZero(masterKey)
		return "", err
	}

	if err := v.mintDatabaseKey(masterKey); err != nil {
		crypto.SecureZero(masterKey)
		return "", err
	}

	if err := v.store.SaveCredential(persist.CredentialRecoveryPhrase, []byte(phrase)); err != nil {
		crypto.SecureZero(masterKey)
		return "", fmt.Errorf("failed to store recovery phrase: %w", err)
	}

	v.activate(masterKey, verifier.KeyID)
	v.audit(audit.ActionSetup, true, map[string]interface{}{"key_id": verifier.KeyID})
	return phrase, nil
}

// mintDatabaseKey derives the database key from the initial master key
// and persists it wrapped. From then on it is an independent key that
// rotation re-wraps in O(1) instead of re-deriving, so the database
// never needs re-encryption on password change.
func (v *Vault) mintDatabaseKey(masterKey []byte) error {
	dbKey, err := DeriveDatabaseKey(masterKey)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(dbKey)

	wrapped, err := crypto.EncryptValue(dbKey, masterKey)
	if err != nil {
		return fmt.Errorf("failed to wrap database key: %w", err)
	}
	if err := v.store.SaveDatabaseKey(wrapped); err != nil {
		return fmt.Errorf("failed to persist database key: %w", err)
	}
	return nil
}

// Unlock derives a candidate master key from the password and the
// stored recovery phrase and activates the session when the verifier
// matches. A configured decoy password is checked first and, on match,
// wipes the vault and terminates the process instead of unlocking.
func (v *Vault) Unlock(password string) error {
	if password == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidCredential)
	}

	if v.options.DecoyPassword != "" && password == v.options.DecoyPassword {
		return v.triggerDecoy()
	}

	if err := v.requireIdleJournal(); err != nil {
		v.audit(audit.ActionUnlock, false, map[string]interface{}{"error": err.Error()})
		return err
	}

	verifier, err := loadVerifierRecord(v.store)
	if err != nil {
		return err
	}

	phrase, err := v.loadPhrase()
	if err != nil {
		return err
	}

	masterKey, err := DeriveMasterKey(password, phrase)
	if err != nil {
		return err
	}

	ok, err := verifier.matches(masterKey)
	if err != nil {
		crypto.SecureZero(masterKey)
		return err
	}
	if !ok {
		crypto.SecureZero(masterKey)
		v.audit(audit.ActionUnlock, false, nil)
		return ErrAuthenticationFailed
	}

	v.activate(masterKey, verifier.KeyID)
	v.audit(audit.ActionUnlock, true, map[string]interface{}{"key_id": verifier.KeyID})
	return nil
}

// UnlockWithBiometric activates the session from the enrolled master
// key copy in the credential store, bypassing password derivation. It
// is refused outright while a rotation journal is pending: biometric
// unlock skips password verification, so it must never resurrect a key
// whose generation is mid-migration.
func (v *Vault) UnlockWithBiometric() error {
	if err := v.requireIdleJournal(); err != nil {
		v.audit(audit.ActionUnlockBio, false, map[string]interface{}{"error": err.Error()})
		return err
	}

	enrolled, err := v.BiometricEnrolled()
	if err != nil {
		return err
	}
	if !enrolled {
		return fmt.Errorf("%w: biometric unlock not enrolled", ErrRecoveryDataMissing)
	}

	if v.biometric != nil {
		if avail := v.biometric.CheckAvailability(); avail != BiometricAvailable {
			return fmt.Errorf("biometric authentication unavailable (%d)", avail)
		}
		result := v.biometric.Authenticate(BiometricPrompt{Title: "Unlock vault"})
		switch result.Outcome {
		case BiometricSuccess:
		case BiometricCancelled:
			v.audit(audit.ActionUnlockBio, false, map[string]interface{}{"error": "cancelled"})
			return fmt.Errorf("biometric authentication cancelled")
		default:
			v.audit(audit.ActionUnlockBio, false, map[string]interface{}{"error": result.Message})
			return fmt.Errorf("biometric authentication failed: %s", result.Message)
		}
	}

	keyBytes, err := v.store.LoadCredential(persist.CredentialBiometric)
	if err != nil {
		return fmt.Errorf("failed to load biometric key: %w", err)
	}
	if len(keyBytes) != misc.KeySize {
		crypto.SecureZero(keyBytes)
		return fmt.Errorf("stored biometric key is malformed")
	}

	verifier, err := loadVerifierRecord(v.store)
	if err != nil {
		crypto.SecureZero(keyBytes)
		return err
	}
	ok, err := verifier.matches(keyBytes)
	if err != nil {
		crypto.SecureZero(keyBytes)
		return err
	}
	if !ok {
		// Stale enrollment from before a password change.
		crypto.SecureZero(keyBytes)
		v.audit(audit.ActionUnlockBio, false, nil)
		return ErrAuthenticationFailed
	}

	v.activate(keyBytes, verifier.KeyID)
	v.audit(audit.ActionUnlockBio, true, map[string]interface{}{"key_id": verifier.KeyID})
	return nil
}

// VerifyPassword checks a password against the stored verifier without
// changing session state.
func (v *Vault) VerifyPassword(password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	verifier, err := loadVerifierRecord(v.store)
	if err != nil {
		return false, err
	}
	phrase, err := v.loadPhrase()
	if err != nil {
		return false, err
	}

	masterKey, err := DeriveMasterKey(password, phrase)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			return false, nil
		}
		return false, err
	}
	defer crypto.SecureZero(masterKey)

	return verifier.matches(masterKey)
}

// Recover reactivates a vault on a device that lost its local phrase
// credential: the user supplies both the password and the written-down
// recovery phrase, and on a verifier match the phrase is stored again
// and the session unlocks.
func (v *Vault) Recover(password, phrase string) error {
	if password == "" || !ValidatePhrase(phrase) {
		return fmt.Errorf("%w: password and 12-word phrase required", ErrInvalidCredential)
	}
	if err := v.requireIdleJournal(); err != nil {
		return err
	}

	verifier, err := loadVerifierRecord(v.store)
	if err != nil {
		if errors.Is(err, ErrNotSetup) {
			return fmt.Errorf("%w: no verifier on this device", ErrRecoveryDataMissing)
		}
		return err
	}

	masterKey, err := DeriveMasterKey(password, phrase)
	if err != nil {
		return err
	}

	ok, err := verifier.matches(masterKey)
	if err != nil {
		crypto.SecureZero(masterKey)
		return err
	}
	if !ok {
		crypto.SecureZero(masterKey)
		v.audit(audit.ActionRecover, false, nil)
		return ErrAuthenticationFailed
	}

	if err := v.store.SaveCredential(persist.CredentialRecoveryPhrase, []byte(phrase)); err != nil {
		crypto.SecureZero(masterKey)
		return fmt.Errorf("failed to store recovery phrase: %w", err)
	}

	v.activate(masterKey, verifier.KeyID)
	v.audit(audit.ActionRecover, true, map[string]interface{}{"key_id": verifier.KeyID})
	return nil
}

// Lock discards the session's master key. References handed out before
// Lock are enclave-backed copies and stay valid for in-flight streams;
// no new operation can obtain the key afterwards.
func (v *Vault) Lock() {
	v.mu.Lock()
	wasUnlocked := v.enclave != nil
	v.enclave = nil
	v.unlockedAt = time.Time{}
	v.inBackground = false
	v.mu.Unlock()

	if wasUnlocked {
		v.audit(audit.ActionLock, true, nil)
	}
}

// IsUnlocked reports whether the session holds an active master key.
func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enclave != nil
}

// activate seals the master key into a fresh enclave and marks the
// session unlocked. memguard wipes the source slice.
func (v *Vault) activate(masterKey []byte, keyID string) {
	enclave := memguard.NewEnclave(masterKey)

	v.mu.Lock()
	v.enclave = enclave
	v.keyID = keyID
	v.unlockedAt = v.clock()
	v.inBackground = false
	v.mu.Unlock()
}

// withSessionKey runs fn with the master key of the session as observed
// at call time. The key bytes are only valid during fn.
func (v *Vault) withSessionKey(fn func(key []byte) error) error {
	v.mu.Lock()
	enclave := v.enclave
	v.mu.Unlock()

	if enclave == nil {
		return ErrVaultLocked
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// RequireUnlocked runs action only while the session is unlocked and
// returns ErrVaultLocked otherwise.
func (v *Vault) RequireUnlocked(action func() error) error {
	if !v.IsUnlocked() {
		return ErrVaultLocked
	}
	return action()
}

// IfUnlocked runs action while the session is unlocked and reports
// whether it ran.
func (v *Vault) IfUnlocked(action func()) bool {
	if !v.IsUnlocked() {
		return false
	}
	action()
	return true
}

// OnBackground records the moment the host application left the
// foreground. Auto-lock is cooperative: nothing happens until the next
// OnForeground.
func (v *Vault) OnBackground() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.enclave == nil || v.inBackground {
		return
	}
	v.inBackground = true
	v.backgroundAt = v.clock()
}

// OnForeground re-locks the session when the configured background
// timeout has elapsed. 0 locks immediately, -1 never locks.
func (v *Vault) OnForeground() {
	v.mu.Lock()
	if v.enclave == nil || !v.inBackground {
		v.mu.Unlock()
		return
	}
	v.inBackground = false

	if v.options.AutoLockTimeoutMs == AutoLockNever {
		v.mu.Unlock()
		return
	}

	elapsed := v.clock().Sub(v.backgroundAt)
	timeout := time.Duration(v.options.AutoLockTimeoutMs) * time.Millisecond
	v.mu.Unlock()

	if elapsed >= timeout {
		v.Lock()
	}
}

// EncryptFile streams src into an encrypted container at destPath.
func (v *Vault) EncryptFile(src io.Reader, destPath string, meta FileMetadata) error {
	err := v.withSessionKey(func(key []byte) error {
		return encryptStream(src, destPath, key, meta)
	})
	v.audit(audit.ActionEncryptFile, err == nil, map[string]interface{}{"path": filepath.Base(destPath)})
	return err
}

// ImportFile encrypts the plaintext file at srcPath into the vault's
// files directory, atomically (temp file then rename), and securely
// erases the plaintext source afterwards. Returns the container path.
func (v *Vault) ImportFile(srcPath string) (string, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("cannot import a directory: %s", srcPath)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to open source: %w", err)
	}

	id, err := generateKeyID()
	if err != nil {
		src.Close()
		return "", err
	}
	destPath := filepath.Join(v.options.FilesPath, id+".vlt")
	tmpPath := filepath.Join(v.options.FilesPath, "."+id+".tmp")

	meta := FileMetadata{
		OriginalName: filepath.Base(srcPath),
		MimeType:     mime.TypeByExtension(filepath.Ext(srcPath)),
		Timestamp:    info.ModTime().UTC(),
	}

	err = v.withSessionKey(func(key []byte) error {
		return encryptStream(src, tmpPath, key, meta)
	})
	src.Close()
	if err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize container: %w", err)
	}

	if err := SecureErase(srcPath, v.options.erasePasses()); err != nil {
		return destPath, fmt.Errorf("imported but failed to erase source: %w", err)
	}

	v.audit(audit.ActionEncryptFile, true, map[string]interface{}{"path": filepath.Base(destPath)})
	return destPath, nil
}

// OpenFile returns a lazy plaintext stream over the container at path
// together with its metadata. The stream stays valid across a
// concurrent Lock; callers must Close it to release the file key.
func (v *Vault) OpenFile(path string) (io.ReadCloser, FileMetadata, error) {
	var reader io.ReadCloser
	var meta FileMetadata

	err := v.withSessionKey(func(key []byte) error {
		var innerErr error
		reader, meta, innerErr = openStream(path, key)
		return innerErr
	})
	if err != nil {
		v.audit(audit.ActionDecryptFile, false, map[string]interface{}{"path": filepath.Base(path)})
		return nil, meta, err
	}

	v.audit(audit.ActionDecryptFile, true, map[string]interface{}{"path": filepath.Base(path)})
	return reader, meta, nil
}

// ExportFile decrypts the container at path into w.
func (v *Vault) ExportFile(path string, w io.Writer) (FileMetadata, error) {
	reader, meta, err := v.OpenFile(path)
	if err != nil {
		return meta, err
	}
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		return meta, fmt.Errorf("failed to decrypt container body: %w", err)
	}
	return meta, nil
}

// DatabaseKey unwraps the persisted database key under the active
// master key. The result is handed to the encrypted-database engine and
// never cached to disk; the caller wipes it after use.
func (v *Vault) DatabaseKey() ([]byte, error) {
	wrapped, err := v.store.LoadDatabaseKey()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, ErrNotSetup
		}
		return nil, fmt.Errorf("failed to load database key: %w", err)
	}

	var dbKey []byte
	err = v.withSessionKey(func(key []byte) error {
		var innerErr error
		dbKey, innerErr = crypto.DecryptValue(wrapped, key)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return dbKey, nil
}

// EnrollBiometric stores a copy of the active master key in the
// credential store so UnlockWithBiometric can restore the session
// without password derivation. The copy is only as safe as the backing
// store; production deployments must point CredentialBiometric at the
// platform keystore.
func (v *Vault) EnrollBiometric() error {
	err := v.withSessionKey(func(key []byte) error {
		keyCopy := append([]byte(nil), key...)
		defer crypto.SecureZero(keyCopy)
		return v.store.SaveCredential(persist.CredentialBiometric, keyCopy)
	})
	v.audit(audit.ActionEnrollBio, err == nil, nil)
	if err != nil {
		return fmt.Errorf("failed to enroll biometric unlock: %w", err)
	}
	return nil
}

// DisableBiometric removes the enrolled master key copy.
func (v *Vault) DisableBiometric() error {
	err := v.store.DeleteCredential(persist.CredentialBiometric)
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		return fmt.Errorf("failed to disable biometric unlock: %w", err)
	}
	v.audit(audit.ActionDisableBio, true, nil)
	return nil
}

// BiometricEnrolled reports whether a biometric key copy is stored.
func (v *Vault) BiometricEnrolled() (bool, error) {
	return v.store.CredentialExists(persist.CredentialBiometric)
}

// RecoveryPhrase returns the stored phrase for re-display to an
// authenticated user. Requires an unlocked session.
func (v *Vault) RecoveryPhrase() (string, error) {
	if !v.IsUnlocked() {
		return "", ErrVaultLocked
	}
	phrase, err := v.loadPhrase()
	if err != nil {
		return "", err
	}
	return phrase, nil
}

func (v *Vault) loadPhrase() (string, error) {
	data, err := v.store.LoadCredential(persist.CredentialRecoveryPhrase)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return "", fmt.Errorf("%w: recovery phrase not stored", ErrRecoveryDataMissing)
		}
		return "", fmt.Errorf("failed to load recovery phrase: %w", err)
	}
	return string(data), nil
}

// requireIdleJournal refuses operation while a rotation is pending or
// failed. A pending journal at startup means the previous rotation died
// mid-flight; only recovery may proceed.
func (v *Vault) requireIdleJournal() error {
	journal, err := loadJournal(v.store)
	if err != nil {
		return err
	}
	switch journal.State {
	case RotationIdle:
		return nil
	case RotationFailed:
		return ErrRotationFailed
	default:
		return ErrRotationInProgress
	}
}

// RotationState returns the persisted rotation journal state.
func (v *Vault) RotationState() (RotationState, error) {
	journal, err := loadJournal(v.store)
	if err != nil {
		return "", err
	}
	return journal.State, nil
}

// Status summarizes the vault for status displays.
type Status struct {
	SetUp             bool          `json:"set_up"`
	Unlocked          bool          `json:"unlocked"`
	Rotation          RotationState `json:"rotation"`
	FileCount         int           `json:"file_count"`
	BiometricEnrolled bool          `json:"biometric_enrolled"`
	MemoryProtection  string        `json:"memory_protection"`
}

func (v *Vault) Status() (Status, error) {
	status := Status{Unlocked: v.IsUnlocked(), MemoryProtection: v.protection.String()}

	if _, err := loadVerifierRecord(v.store); err == nil {
		status.SetUp = true
	} else if !errors.Is(err, ErrNotSetup) {
		return status, err
	}

	journal, err := loadJournal(v.store)
	if err != nil {
		return status, err
	}
	status.Rotation = journal.State

	containers, err := v.listContainers()
	if err != nil {
		return status, err
	}
	status.FileCount = len(containers)

	status.BiometricEnrolled, err = v.BiometricEnrolled()
	if err != nil {
		return status, err
	}
	return status, nil
}

// listContainers walks the files directory recursively and returns
// every encrypted container path. Dotfiles and leftover temp files are
// skipped.
func (v *Vault) listContainers() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(v.options.FilesPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != v.options.FilesPath {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		ok, err := isContainer(path)
		if err != nil {
			return err
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan files directory: %w", err)
	}
	return paths, nil
}

// EraseVault irreversibly destroys all vault data: every container is
// securely erased and all persisted key-management state is destroyed
// or overwritten. Best effort; it keeps going past individual failures
// so a single locked file cannot preserve the rest of the vault.
func (v *Vault) EraseVault() error {
	var firstErr error

	containers, err := v.listContainers()
	if err != nil {
		firstErr = err
	}
	for _, path := range containers {
		if err := SecureErase(path, v.options.erasePasses()); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Overwriting the verifier and wrapped database key renders any
	// surviving container bytes undecryptable even with the password.
	if junk, err := crypto.RandomBytes(64); err == nil {
		v.store.SaveVerifier(junk)
	}
	if junk, err := crypto.RandomBytes(64); err == nil {
		v.store.SaveDatabaseKey(junk)
	}
	v.store.ClearJournal()
	for _, id := range []string{persist.CredentialRecoveryPhrase, persist.CredentialBiometric, persist.CredentialDecoy} {
		if err := v.store.DeleteCredential(id); err != nil && !errors.Is(err, persist.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}

	v.Lock()
	v.audit(audit.ActionSecureErase, firstErr == nil, nil)
	return firstErr
}

// triggerDecoy handles a decoy password entry: wipe everything, then
// terminate the process. The terminator is injectable for tests; the
// default exits via memguard so locked buffers are scrubbed first.
func (v *Vault) triggerDecoy() error {
	v.audit(audit.ActionDecoyTriggered, true, nil)
	v.EraseVault()
	v.terminate(1)
	// Only reached with an injected terminator.
	return ErrAuthenticationFailed
}

func (v *Vault) audit(action string, success bool, metadata map[string]interface{}) {
	// Audit failures never veto the operation they describe.
	_ = v.logger.Log(action, success, metadata)
}

// Close locks the session and releases the store and audit logger.
func (v *Vault) Close() error {
	v.Lock()

	var firstErr error
	if err := v.logger.Close(); err != nil {
		firstErr = err
	}
	if err := v.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if v.options.EnableMemoryLock {
		mem.Unlock()
	}
	return firstErr
}
