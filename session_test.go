package vault

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

func newTestVault(t *testing.T, opts ...func(*Options)) *Vault {
	t.Helper()

	base := t.TempDir()
	store, err := persist.NewFileSystemStore(filepath.Join(base, "state"))
	if err != nil {
		t.Fatalf("NewFileSystemStore failed: %v", err)
	}

	options := DefaultOptions(filepath.Join(base, "files"))
	options.EnableMemoryLock = false
	options.SecureErasePasses = 1
	for _, opt := range opts {
		opt(&options)
	}

	v, err := New(options, store, nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestSetupAndVerify(t *testing.T) {
	v := newTestVault(t)

	phrase, err := v.Setup("Secret123!")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !ValidatePhrase(phrase) {
		t.Fatal("Setup returned an invalid phrase")
	}
	if !v.IsUnlocked() {
		t.Fatal("vault should be unlocked after setup")
	}

	ok, err := v.VerifyPassword("Secret123!")
	if err != nil || !ok {
		t.Fatalf("VerifyPassword(correct) = %v, %v", ok, err)
	}
	ok, err = v.VerifyPassword("wrong")
	if err != nil || ok {
		t.Fatalf("VerifyPassword(wrong) = %v, %v", ok, err)
	}

	if _, err := v.Setup("again"); !errors.Is(err, ErrAlreadySetup) {
		t.Fatalf("expected ErrAlreadySetup, got %v", err)
	}
}

func TestUnlockLockCycle(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("Secret123!"); err != nil {
		t.Fatal(err)
	}

	v.Lock()
	if v.IsUnlocked() {
		t.Fatal("vault still unlocked after Lock")
	}

	if err := v.Unlock("wrong"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if err := v.Unlock("Secret123!"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !v.IsUnlocked() {
		t.Fatal("vault should be unlocked")
	}
}

func TestRequireUnlocked(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	ran := false
	if err := v.RequireUnlocked(func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("RequireUnlocked while unlocked: ran=%v err=%v", ran, err)
	}

	v.Lock()
	if err := v.RequireUnlocked(func() error { return nil }); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked, got %v", err)
	}
	if v.IfUnlocked(func() {}) {
		t.Fatal("IfUnlocked ran while locked")
	}
}

func TestEncryptOpenThroughSession(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	data := []byte("session payload")
	dest := filepath.Join(v.options.FilesPath, "a.vlt")
	meta := FileMetadata{OriginalName: "a.txt", Timestamp: time.Now().UTC()}

	if err := v.EncryptFile(bytes.NewReader(data), dest, meta); err != nil {
		t.Fatalf("EncryptFile failed: %v", err)
	}

	reader, gotMeta, err := v.OpenFile(dest)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}

	// A stream opened before Lock stays readable through it: the FEK
	// was already unwrapped into the reader.
	v.Lock()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		t.Fatalf("reading after lock failed: %v", err)
	}
	reader.Close()

	if !bytes.Equal(buf.Bytes(), data) {
		t.Fatal("decrypted bytes differ")
	}
	if gotMeta.OriginalName != "a.txt" {
		t.Fatalf("unexpected metadata: %+v", gotMeta)
	}

	// But a fresh open must be refused.
	if _, _, err := v.OpenFile(dest); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked, got %v", err)
	}
}

func TestImportFileErasesSource(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	srcPath := filepath.Join(t.TempDir(), "photo.jpg")
	data := []byte("jpeg bytes here")
	if err := os.WriteFile(srcPath, data, 0600); err != nil {
		t.Fatal(err)
	}

	dest, err := v.ImportFile(srcPath)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}

	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Fatal("plaintext source still exists after import")
	}

	var out bytes.Buffer
	meta, err := v.ExportFile(dest, &out)
	if err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("imported bytes differ after decrypt")
	}
	if meta.OriginalName != "photo.jpg" {
		t.Fatalf("unexpected original name %q", meta.OriginalName)
	}
}

func TestAutoLock(t *testing.T) {
	v := newTestVault(t, func(o *Options) { o.AutoLockTimeoutMs = 60_000 })
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	now := time.Unix(1_000_000, 0)
	v.clock = func() time.Time { return now }

	v.OnBackground()
	now = now.Add(60_001 * time.Millisecond)
	v.OnForeground()
	if v.IsUnlocked() {
		t.Fatal("vault should auto-lock after the timeout")
	}

	if err := v.Unlock("pw-Secret1"); err != nil {
		t.Fatal(err)
	}
	v.OnBackground()
	now = now.Add(59_999 * time.Millisecond)
	v.OnForeground()
	if !v.IsUnlocked() {
		t.Fatal("vault locked before the timeout elapsed")
	}
}

func TestAutoLockImmediateAndNever(t *testing.T) {
	v := newTestVault(t, func(o *Options) { o.AutoLockTimeoutMs = AutoLockImmediate })
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}
	v.OnBackground()
	v.OnForeground()
	if v.IsUnlocked() {
		t.Fatal("timeout 0 must lock immediately on foreground")
	}

	v2 := newTestVault(t, func(o *Options) { o.AutoLockTimeoutMs = AutoLockNever })
	if _, err := v2.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_000_000, 0)
	v2.clock = func() time.Time { return now }
	v2.OnBackground()
	now = now.Add(24 * time.Hour)
	v2.OnForeground()
	if !v2.IsUnlocked() {
		t.Fatal("timeout -1 must never auto-lock")
	}
}

func TestDecoyPasswordWipesVault(t *testing.T) {
	v := newTestVault(t, func(o *Options) { o.DecoyPassword = "panic-now" })
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	srcPath := filepath.Join(t.TempDir(), "doc.pdf")
	os.WriteFile(srcPath, []byte("document"), 0600)
	if _, err := v.ImportFile(srcPath); err != nil {
		t.Fatal(err)
	}
	v.Lock()

	terminated := false
	v.terminate = func(code int) { terminated = true }

	if err := v.Unlock("panic-now"); err == nil {
		t.Fatal("decoy unlock must not succeed")
	}
	if !terminated {
		t.Fatal("decoy password did not terminate the process")
	}

	containers, err := v.listContainers()
	if err != nil {
		t.Fatal(err)
	}
	if len(containers) != 0 {
		t.Fatalf("%d containers survived the decoy wipe", len(containers))
	}
	if err := v.Unlock("pw-Secret1"); err == nil {
		t.Fatal("real password still unlocks after decoy wipe")
	}
}

func TestDatabaseKeyStableAndProtected(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	k1, err := v.DatabaseKey()
	if err != nil {
		t.Fatalf("DatabaseKey failed: %v", err)
	}
	k2, err := v.DatabaseKey()
	if err != nil {
		t.Fatalf("DatabaseKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("database key not stable across calls")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte database key, got %d", len(k1))
	}

	v.Lock()
	if _, err := v.DatabaseKey(); !errors.Is(err, ErrVaultLocked) {
		t.Fatalf("expected ErrVaultLocked, got %v", err)
	}
}

func TestBiometricEnrollUnlock(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Setup("pw-Secret1"); err != nil {
		t.Fatal(err)
	}

	if err := v.EnrollBiometric(); err != nil {
		t.Fatalf("EnrollBiometric failed: %v", err)
	}
	enrolled, err := v.BiometricEnrolled()
	if err != nil || !enrolled {
		t.Fatalf("BiometricEnrolled = %v, %v", enrolled, err)
	}

	v.Lock()
	if err := v.UnlockWithBiometric(); err != nil {
		t.Fatalf("UnlockWithBiometric failed: %v", err)
	}
	if !v.IsUnlocked() {
		t.Fatal("vault should be unlocked")
	}

	if err := v.DisableBiometric(); err != nil {
		t.Fatalf("DisableBiometric failed: %v", err)
	}
	v.Lock()
	if err := v.UnlockWithBiometric(); err == nil {
		t.Fatal("biometric unlock succeeded after disable")
	}
}

func TestRecoverRestoresPhraseCredential(t *testing.T) {
	v := newTestVault(t)
	phrase, err := v.Setup("pw-Secret1")
	if err != nil {
		t.Fatal(err)
	}
	v.Lock()

	// Simulate a device that lost the stored phrase.
	if err := v.store.DeleteCredential(persist.CredentialRecoveryPhrase); err != nil {
		t.Fatal(err)
	}
	if err := v.Unlock("pw-Secret1"); !errors.Is(err, ErrRecoveryDataMissing) {
		t.Fatalf("expected ErrRecoveryDataMissing, got %v", err)
	}

	if err := v.Recover("pw-Secret1", phrase); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !v.IsUnlocked() {
		t.Fatal("vault should be unlocked after recovery")
	}

	v.Lock()
	if err := v.Unlock("pw-Secret1"); err != nil {
		t.Fatalf("password unlock after recovery failed: %v", err)
	}
}
