package vault

import (
	"fmt"
	"os"

	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// AutoLockImmediate locks the session as soon as it returns to the
// foreground; AutoLockNever disables the background timeout entirely.
const (
	AutoLockImmediate int64 = 0
	AutoLockNever     int64 = -1
)

// Options configures a vault session.
//
// Secrets never serialize: the decoy password carries `json:"-"` and is
// expected to arrive through the environment or a secure prompt, not a
// config file.
type Options struct {
	// FilesPath is the directory holding encrypted file containers. The
	// rotation protocol walks it recursively.
	FilesPath string `json:"files_path" yaml:"files_path"`

	// AutoLockTimeoutMs is the background grace period in milliseconds.
	// 0 locks immediately on foreground return, -1 never auto-locks.
	AutoLockTimeoutMs int64 `json:"auto_lock_timeout_ms" yaml:"auto_lock_timeout_ms"`

	// SecureErasePasses is the overwrite pass count for secure erase.
	// Zero selects the default.
	SecureErasePasses int `json:"secure_erase_passes" yaml:"secure_erase_passes"`

	// DecoyPassword, when non-empty, wipes the vault and terminates the
	// process on entry instead of unlocking.
	DecoyPassword string `json:"-" yaml:"-"`

	// EnableMemoryLock requests best-effort locking of process memory to
	// keep key material out of swap.
	EnableMemoryLock bool `json:"enable_memory_lock" yaml:"enable_memory_lock"`
}

// DefaultOptions returns options suitable for a desktop vault rooted at
// the given directory.
func DefaultOptions(filesPath string) Options {
	return Options{
		FilesPath:         filesPath,
		AutoLockTimeoutMs: 60_000,
		SecureErasePasses: misc.SecureErasePasses,
		EnableMemoryLock:  true,
	}
}

func (o *Options) Validate() error {
	if o.FilesPath == "" {
		return fmt.Errorf("files path is required")
	}
	if o.AutoLockTimeoutMs < AutoLockNever {
		return fmt.Errorf("auto-lock timeout must be >= -1, got %d", o.AutoLockTimeoutMs)
	}
	if o.SecureErasePasses < 0 {
		return fmt.Errorf("secure erase passes must be >= 0, got %d", o.SecureErasePasses)
	}
	return nil
}

func (o *Options) erasePasses() int {
	if o.SecureErasePasses <= 0 {
		return misc.SecureErasePasses
	}
	return o.SecureErasePasses
}

func (o *Options) ensureFilesPath() error {
	return os.MkdirAll(o.FilesPath, misc.DirPermissions)
}
