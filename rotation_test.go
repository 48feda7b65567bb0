package vault

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
)

// seedContainers encrypts n files through the session and returns their
// paths together with the plaintexts.
func seedContainers(t *testing.T, v *Vault, n int) ([]string, [][]byte) {
	t.Helper()

	paths := make([]string, 0, n)
	plains := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		data, err := crypto.RandomBytes(1024 + i*512)
		require.NoError(t, err)

		path := filepath.Join(v.options.FilesPath, fmt.Sprintf("file-%02d.vlt", i))
		meta := FileMetadata{OriginalName: fmt.Sprintf("file-%02d.bin", i)}
		require.NoError(t, v.EncryptFile(bytes.NewReader(data), path, meta))

		paths = append(paths, path)
		plains = append(plains, data)
	}
	return paths, plains
}

func requireReadable(t *testing.T, v *Vault, paths []string, plains [][]byte) {
	t.Helper()
	for i, path := range paths {
		var out bytes.Buffer
		_, err := v.ExportFile(path, &out)
		require.NoError(t, err, "container %s", path)
		require.True(t, bytes.Equal(out.Bytes(), plains[i]), "container %s bytes differ", path)
	}
}

func TestChangePassword(t *testing.T) {
	v := newTestVault(t)
	phrase, err := v.Setup("old-Secret1")
	require.NoError(t, err)

	paths, plains := seedContainers(t, v, 10)

	dbKeyBefore, err := v.DatabaseKey()
	require.NoError(t, err)

	require.NoError(t, v.ChangePassword("old-Secret1", "new-Secret2"))

	state, err := v.RotationState()
	require.NoError(t, err)
	require.Equal(t, RotationIdle, state)

	// Session stays unlocked on the new key generation.
	require.True(t, v.IsUnlocked())
	requireReadable(t, v, paths, plains)

	// The database key survives the rotation byte for byte.
	dbKeyAfter, err := v.DatabaseKey()
	require.NoError(t, err)
	require.Equal(t, dbKeyBefore, dbKeyAfter)

	// Only the new password unlocks now.
	v.Lock()
	require.ErrorIs(t, v.Unlock("old-Secret1"), ErrAuthenticationFailed)
	require.NoError(t, v.Unlock("new-Secret2"))
	requireReadable(t, v, paths, plains)

	// Containers are unreadable under the old key.
	oldKey, err := DeriveMasterKey("old-Secret1", phrase)
	require.NoError(t, err)
	_, _, err = openStream(paths[0], oldKey)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Setup("old-Secret1")
	require.NoError(t, err)
	seedContainers(t, v, 2)

	require.ErrorIs(t, v.ChangePassword("not-the-password", "new-Secret2"), ErrAuthenticationFailed)

	// Nothing mutated: journal idle, old password still works.
	state, err := v.RotationState()
	require.NoError(t, err)
	require.Equal(t, RotationIdle, state)
	v.Lock()
	require.NoError(t, v.Unlock("old-Secret1"))
}

func TestChangePasswordRejectsConcurrent(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Setup("old-Secret1")
	require.NoError(t, err)

	v.rotationMu.Lock()
	err = v.ChangePassword("old-Secret1", "new-Secret2")
	v.rotationMu.Unlock()
	require.ErrorIs(t, err, ErrRotationInProgress)
}

func TestRotationFailsOnPoisonedContainer(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Setup("old-Secret1")
	require.NoError(t, err)
	paths, _ := seedContainers(t, v, 5)

	// Corrupt one wrapped FEK; it will unwrap under neither key.
	raw, err := os.ReadFile(paths[2])
	require.NoError(t, err)
	raw[13] ^= 0xff
	require.NoError(t, os.WriteFile(paths[2], raw, 0600))

	err = v.ChangePassword("old-Secret1", "new-Secret2")
	require.ErrorIs(t, err, ErrRotationFailed)

	// The failure is recorded, not swallowed.
	state, err := v.RotationState()
	require.NoError(t, err)
	require.Equal(t, RotationFailed, state)

	// Unlock is refused until recovery.
	v.Lock()
	require.ErrorIs(t, v.Unlock("old-Secret1"), ErrRotationFailed)
}

func TestRotationCrashRecovery(t *testing.T) {
	v := newTestVault(t)
	phrase, err := v.Setup("old-Secret1")
	require.NoError(t, err)
	paths, plains := seedContainers(t, v, 6)
	v.Lock()

	oldKey, err := DeriveMasterKey("old-Secret1", phrase)
	require.NoError(t, err)
	newKey, err := DeriveMasterKey("new-Secret2", phrase)
	require.NoError(t, err)

	// Simulate a crash mid-RewrapFiles: half the containers migrated,
	// the journal still InProgress.
	for _, path := range paths[:3] {
		require.NoError(t, rewrapFileHeader(path, oldKey, newKey, 1))
	}
	journal := &rotationJournal{
		State:    RotationInProgress,
		Step:     StepRewrapFiles,
		OldKeyID: "old-gen",
		NewKeyID: "new-gen",
	}
	require.NoError(t, journal.save(v.store))

	// Normal unlock paths are blocked, biometric especially.
	require.ErrorIs(t, v.Unlock("old-Secret1"), ErrRotationInProgress)
	require.ErrorIs(t, v.UnlockWithBiometric(), ErrRotationInProgress)

	// Recovery is re-running the rotation with the same passwords.
	require.NoError(t, v.ChangePassword("old-Secret1", "new-Secret2"))

	state, err := v.RotationState()
	require.NoError(t, err)
	require.Equal(t, RotationIdle, state)

	require.NoError(t, v.Unlock("new-Secret2"))
	requireReadable(t, v, paths, plains)
}

func TestRecoveryRunKeepsJournaledOldKeyID(t *testing.T) {
	v := newTestVault(t)
	phrase, err := v.Setup("old-Secret1")
	require.NoError(t, err)
	seedContainers(t, v, 2)
	v.Lock()

	newKey, err := DeriveMasterKey("new-Secret2", phrase)
	require.NoError(t, err)

	// Simulate a crash just past the commit point: the verifier already
	// carries the new generation while the journal is still InProgress.
	_, err = commitVerifier(v.store, newKey, "new-gen")
	require.NoError(t, err)
	journal := &rotationJournal{
		State:    RotationInProgress,
		Step:     StepFinalize,
		OldKeyID: "old-gen",
		NewKeyID: "new-gen",
	}
	require.NoError(t, journal.save(v.store))

	// The finalize hook runs while the journal is still live, so it can
	// observe what the re-run recorded.
	var seenOldID string
	v.SetDatabaseKeyHook(func() error {
		j, err := loadJournal(v.store)
		if err != nil {
			return err
		}
		seenOldID = j.OldKeyID
		return nil
	})

	require.NoError(t, v.ChangePassword("old-Secret1", "new-Secret2"))

	// The re-run must not relabel the new generation as the old one.
	require.Equal(t, "old-gen", seenOldID)
	require.NoError(t, v.Unlock("new-Secret2"))
}

func TestRotationRefreshesBiometricEnrollment(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Setup("old-Secret1")
	require.NoError(t, err)
	require.NoError(t, v.EnrollBiometric())

	require.NoError(t, v.ChangePassword("old-Secret1", "new-Secret2"))

	// The enrolled key copy must track the new generation.
	v.Lock()
	require.NoError(t, v.UnlockWithBiometric())
	require.True(t, v.IsUnlocked())
}

func TestRotationFinalizeHook(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Setup("old-Secret1")
	require.NoError(t, err)

	called := false
	v.SetDatabaseKeyHook(func() error {
		called = true
		return nil
	})

	require.NoError(t, v.ChangePassword("old-Secret1", "new-Secret2"))
	require.True(t, called, "finalize hook was not invoked")
}
