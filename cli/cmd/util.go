package cmd

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	vault "github.com/kcpdme/MySecureFolder-sub002"
)

func fileMetadataFor(path string, info fs.FileInfo) vault.FileMetadata {
	return vault.FileMetadata{
		OriginalName: filepath.Base(path),
		MimeType:     mime.TypeByExtension(filepath.Ext(path)),
		Timestamp:    info.ModTime().UTC(),
	}
}

// passwordFromFlagOrEnv resolves a password from the given flag value,
// falling back to an environment variable so scripts can avoid putting
// secrets on the command line.
func passwordFromFlagOrEnv(flagValue, envVar string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("password required: use the flag or set %s", envVar)
}

func unlockSession(password string) error {
	pw, err := passwordFromFlagOrEnv(password, "SECUREFOLDER_PASSWORD")
	if err != nil {
		return err
	}
	return session.Unlock(pw)
}
