package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	verifierFile    = "verifier.bin"
	databaseKeyFile = "dbkey.bin"
	journalFile     = "rotation.journal"
	credentialsDir  = "credentials"
)

// FileSystemStore keeps vault state under a single base directory with
// restrictive permissions. All writes go through a temp-file rename so
// a crash never leaves a half-written record behind.
type FileSystemStore struct {
	mu       sync.RWMutex
	basePath string
}

func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, credentialsDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}

	return &FileSystemStore{basePath: abs}, nil
}

func (s *FileSystemStore) SaveVerifier(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSecureFile(filepath.Join(s.basePath, verifierFile), data)
}

func (s *FileSystemStore) LoadVerifier() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(filepath.Join(s.basePath, verifierFile))
}

func (s *FileSystemStore) SaveDatabaseKey(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSecureFile(filepath.Join(s.basePath, databaseKeyFile), data)
}

func (s *FileSystemStore) LoadDatabaseKey() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(filepath.Join(s.basePath, databaseKeyFile))
}

func (s *FileSystemStore) SaveJournal(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.basePath, journalFile)
	if err := writeSecureFile(path, data); err != nil {
		return err
	}
	// The rename itself must also be on disk before mutation starts.
	return syncDir(s.basePath)
}

func (s *FileSystemStore) LoadJournal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(filepath.Join(s.basePath, journalFile))
}

func (s *FileSystemStore) ClearJournal() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.basePath, journalFile)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to clear journal: %w", err)
	}
	return syncDir(s.basePath)
}

func (s *FileSystemStore) SaveCredential(id string, data []byte) error {
	if err := validateCredentialID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeSecureFile(s.credentialPath(id), data)
}

func (s *FileSystemStore) LoadCredential(id string) ([]byte, error) {
	if err := validateCredentialID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(s.credentialPath(id))
}

func (s *FileSystemStore) DeleteCredential(id string) error {
	if err := validateCredentialID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.credentialPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete credential %s: %w", id, err)
	}
	return nil
}

func (s *FileSystemStore) CredentialExists(id string) (bool, error) {
	if err := validateCredentialID(id); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.credentialPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileSystemStore) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("store directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path is not a directory: %s", s.basePath)
	}

	probe := filepath.Join(s.basePath, ".ping")
	if err := os.WriteFile(probe, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("store directory not writable: %w", err)
	}
	return os.Remove(probe)
}

func (s *FileSystemStore) Close() error {
	return nil
}

func (s *FileSystemStore) GetType() StoreType {
	return StoreTypeFileSystem
}

// BasePath returns the resolved store directory.
func (s *FileSystemStore) BasePath() string {
	return s.basePath
}

func (s *FileSystemStore) credentialPath(id string) string {
	return filepath.Join(s.basePath, credentialsDir, id+".bin")
}

func validateCredentialID(id string) error {
	if id == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid credential id: %s", id)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// writeSecureFile writes data to a temp file in the target directory,
// syncs it, then renames it into place so readers never observe a
// partial write.
func writeSecureFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(0600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		// Some filesystems refuse directory fsync; the rename is still
		// atomic there.
		return nil
	}
	return nil
}
