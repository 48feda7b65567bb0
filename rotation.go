package vault

import (
	"errors"
	"fmt"

	"github.com/kcpdme/MySecureFolder-sub002/audit"
	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

// SetDatabaseKeyHook registers a callback invoked during the Finalize
// rotation step, before the new verifier is committed. The encrypted
// database engine uses it to drop any cached key material and close its
// handle.
func (v *Vault) SetDatabaseKeyHook(fn func() error) {
	v.mu.Lock()
	v.dbHook = fn
	v.mu.Unlock()
}

// ChangePassword rotates the master key from oldPassword to newPassword
// without re-encrypting file bodies or the database. The recovery
// phrase is unchanged, so derivation stays deterministic and the whole
// protocol can be safely re-run after a crash.
//
// Sequence, journaled write-ahead at every step:
//
//  1. verify oldPassword against the stored verifier
//  2. durably journal InProgress/RewrapFiles before any mutation
//  3. derive the new master key, journal its key id
//  4. re-wrap every container header; one failure fails the whole
//     rotation and marks the journal Failed
//  5. re-wrap the persisted database key, O(1), old blob journaled as
//     backup
//  6. Finalize: flush cached database key material via the hook
//  7. commit: re-issue the verifier under the new key, refresh the
//     biometric enrollment, swap the session key
//  8. clear the journal
//
// Before step 7 the old password still unlocks the vault; after it only
// the new one does. Recovery from a crash at any point is re-running
// this method with the same passwords: container and database-key
// re-wraps probe the new key first and skip work already done.
func (v *Vault) ChangePassword(oldPassword, newPassword string) error {
	if !v.rotationMu.TryLock() {
		return ErrRotationInProgress
	}
	defer v.rotationMu.Unlock()

	if oldPassword == "" || newPassword == "" {
		return fmt.Errorf("%w: empty password", ErrInvalidCredential)
	}
	if oldPassword == newPassword {
		return fmt.Errorf("%w: new password must differ", ErrInvalidCredential)
	}

	phrase, err := v.loadPhrase()
	if err != nil {
		return err
	}
	verifier, err := loadVerifierRecord(v.store)
	if err != nil {
		return err
	}

	oldKey, err := DeriveMasterKey(oldPassword, phrase)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(oldKey)

	newKey, err := DeriveMasterKey(newPassword, phrase)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(newKey)

	// After a crash past the commit point the verifier already holds
	// the new key; the remaining steps are pure cleanup then.
	oldMatches, err := verifier.matches(oldKey)
	if err != nil {
		return err
	}
	if !oldMatches {
		committed, err := verifier.matches(newKey)
		if err != nil {
			return err
		}
		if !committed {
			v.audit(audit.ActionChangePassword, false, nil)
			return ErrAuthenticationFailed
		}
	}

	journal, err := loadJournal(v.store)
	if err != nil {
		return err
	}

	// Step 2: the write-ahead record. Must be durable before any
	// container is touched. A re-run keeps the journaled new key id.
	newKeyID := journal.NewKeyID
	if journal.State == RotationIdle || newKeyID == "" {
		newKeyID, err = generateKeyID()
		if err != nil {
			return err
		}
	}
	// On a post-commit re-run the verifier already carries the new
	// generation, so only a fresh journal records its id as the old one.
	if journal.State == RotationIdle || journal.OldKeyID == "" {
		journal.OldKeyID = verifier.KeyID
	}
	journal.State = RotationInProgress
	journal.Step = StepRewrapFiles
	if err := journal.save(v.store); err != nil {
		return err
	}

	// Step 3: journal the new key generation.
	journal.NewKeyID = newKeyID
	if err := journal.save(v.store); err != nil {
		return err
	}

	v.audit(audit.ActionChangePassword, true, map[string]interface{}{
		"phase": "started", "key_id": newKeyID,
	})

	// Step 4: migrate every container. A single failure fails the
	// rotation; reporting success while files remain on the old key
	// would be a silent consistency hole.
	containers, err := v.listContainers()
	if err != nil {
		return v.failRotation(journal, err)
	}
	for _, path := range containers {
		if err := rewrapFileHeader(path, oldKey, newKey, v.options.erasePasses()); err != nil {
			return v.failRotation(journal, err)
		}
	}

	// Step 5: O(1) database key re-wrap, old blob kept as backup.
	journal.Step = StepRewrapDatabaseKey
	if err := journal.save(v.store); err != nil {
		return err
	}
	if err := v.rewrapDatabaseKey(journal, oldKey, newKey); err != nil {
		return v.failRotation(journal, err)
	}

	// Step 6: let the database engine drop old key material.
	journal.Step = StepFinalize
	if err := journal.save(v.store); err != nil {
		return err
	}
	v.mu.Lock()
	hook := v.dbHook
	v.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return v.failRotation(journal, fmt.Errorf("database finalize hook: %w", err))
		}
	}

	// Step 7: the commit point, the single irreversible action.
	newVerifier, err := commitVerifier(v.store, newKey, newKeyID)
	if err != nil {
		return v.failRotation(journal, err)
	}

	if enrolled, err := v.BiometricEnrolled(); err == nil && enrolled {
		keyCopy := append([]byte(nil), newKey...)
		err := v.store.SaveCredential(persist.CredentialBiometric, keyCopy)
		crypto.SecureZero(keyCopy)
		if err != nil {
			return v.failRotation(journal, fmt.Errorf("failed to refresh biometric enrollment: %w", err))
		}
	}

	if v.IsUnlocked() {
		keyCopy := append([]byte(nil), newKey...)
		v.activate(keyCopy, newVerifier.KeyID)
	}

	// Step 8: done.
	if err := clearJournal(v.store); err != nil {
		return err
	}

	v.audit(audit.ActionChangePassword, true, map[string]interface{}{
		"phase": "completed", "key_id": newKeyID,
	})
	return nil
}

// rewrapDatabaseKey unwraps the persisted database key under oldKey and
// re-wraps it under newKey. Probes newKey first so a re-run after a
// crash between steps 5 and 7 does not double-rotate.
func (v *Vault) rewrapDatabaseKey(journal *rotationJournal, oldKey, newKey []byte) error {
	wrapped, err := v.store.LoadDatabaseKey()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return fmt.Errorf("%w: database key missing", ErrRecoveryDataMissing)
		}
		return err
	}

	if dbKey, probeErr := crypto.DecryptValue(wrapped, newKey); probeErr == nil {
		crypto.SecureZero(dbKey)
		return nil
	}

	dbKey, err := crypto.DecryptValue(wrapped, oldKey)
	if err != nil {
		return fmt.Errorf("database key unwrap: %w", err)
	}
	defer crypto.SecureZero(dbKey)

	if len(journal.DBKeyBackup) == 0 {
		journal.DBKeyBackup = wrapped
		if err := journal.save(v.store); err != nil {
			return err
		}
	}

	rewrapped, err := crypto.EncryptValue(dbKey, newKey)
	if err != nil {
		return fmt.Errorf("failed to re-wrap database key: %w", err)
	}
	if err := v.store.SaveDatabaseKey(rewrapped); err != nil {
		return fmt.Errorf("failed to persist re-wrapped database key: %w", err)
	}
	return nil
}

func commitVerifier(store persist.Store, newKey []byte, keyID string) (*verifierRecord, error) {
	canary, err := crypto.EncryptValue(verifierCanary, newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal verifier: %w", err)
	}
	record := &verifierRecord{KeyID: keyID, Canary: canary}
	if err := record.save(store); err != nil {
		return nil, err
	}
	return record, nil
}

// failRotation marks the journal Failed and surfaces the cause. The
// journal stays on disk for recovery; the process keeps running.
func (v *Vault) failRotation(journal *rotationJournal, cause error) error {
	journal.State = RotationFailed
	if saveErr := journal.save(v.store); saveErr != nil {
		cause = fmt.Errorf("%v (journal update also failed: %v)", cause, saveErr)
	}
	v.audit(audit.ActionChangePassword, false, map[string]interface{}{"error": cause.Error()})
	return fmt.Errorf("%w: %v", ErrRotationFailed, cause)
}
