package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/awnumar/memguard"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// generateFileKey produces a fresh random FEK, retrying on the off
// chance the generator yields low-entropy output.
func generateFileKey() ([]byte, error) {
	for attempt := 0; attempt < 3; attempt++ {
		fek, err := crypto.RandomBytes(misc.KeySize)
		if err != nil {
			return nil, err
		}
		if !crypto.IsWeakKey(fek) {
			return fek, nil
		}
		memguard.WipeBytes(fek)
	}
	return nil, fmt.Errorf("random generator produced weak key material")
}

// bodyStream builds the counter-mode stream for a container body. The
// initial counter block is the wrap IV zero-extended to 16 bytes, so
// the header alone pins down the whole body keystream.
func bodyStream(fek, counterBlock []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(fek)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize body cipher: %w", err)
	}
	return cipher.NewCTR(block, counterBlock), nil
}

// encryptStream writes a complete container at destPath: header first,
// then the source bytes streamed through the body cipher in fixed-size
// chunks, so memory use stays O(chunk) regardless of file size. Any
// partial output is deleted on error. Atomic replacement of an existing
// file is the caller's concern.
func encryptStream(src io.Reader, destPath string, masterKey []byte, meta FileMetadata) (err error) {
	fek, err := generateFileKey()
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(fek)

	header, err := newFileHeader(fek, masterKey, meta)
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, misc.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		if err != nil {
			dest.Close()
			os.Remove(destPath)
		}
	}()

	if _, err = dest.Write(header.marshal()); err != nil {
		return fmt.Errorf("failed to write container header: %w", err)
	}

	stream, err := bodyStream(fek, header.counterBlock())
	if err != nil {
		return err
	}

	buf := make([]byte, misc.ChunkSize)
	defer crypto.SecureZero(buf)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			stream.XORKeyStream(buf[:n], buf[:n])
			if _, err = dest.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write container body: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			err = fmt.Errorf("failed to read source: %w", readErr)
			return err
		}
	}

	if err = dest.Sync(); err != nil {
		return fmt.Errorf("failed to sync container: %w", err)
	}
	if err = dest.Close(); err != nil {
		return fmt.Errorf("failed to close container: %w", err)
	}
	return nil
}

// plainReader streams decrypted body bytes lazily so consumers never
// hold the full plaintext in memory. Close wipes the FEK.
type plainReader struct {
	file   *os.File
	stream cipher.Stream
	fek    []byte
}

func (r *plainReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if n > 0 {
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

func (r *plainReader) Close() error {
	memguard.WipeBytes(r.fek)
	return r.file.Close()
}

// openStream reads the container header, unwraps the FEK under the
// given master key and returns a lazy decrypt stream plus the decrypted
// metadata.
func openStream(path string, masterKey []byte) (io.ReadCloser, FileMetadata, error) {
	var meta FileMetadata

	file, err := os.Open(path)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to open container: %w", err)
	}

	header, err := readFileHeader(file)
	if err != nil {
		file.Close()
		return nil, meta, err
	}

	fek, err := header.unwrapFEK(masterKey)
	if err != nil {
		file.Close()
		return nil, meta, err
	}

	meta, err = header.decryptMetadata(masterKey)
	if err != nil {
		memguard.WipeBytes(fek)
		file.Close()
		return nil, meta, err
	}

	stream, err := bodyStream(fek, header.counterBlock())
	if err != nil {
		memguard.WipeBytes(fek)
		file.Close()
		return nil, meta, err
	}

	return &plainReader{file: file, stream: stream, fek: fek}, meta, nil
}

// rewrapFileHeader migrates one container from oldKey to newKey without
// re-encrypting the body. The wrap IV doubles as the body counter block,
// so the new header keeps it verbatim and re-wraps the FEK under newKey
// with that same nonce. Each container's IV is independently random, so
// newKey never sees the nonce twice across the vault.
//
// Idempotent: a container already wrapped under newKey is left alone,
// which is what makes rotation retry safe after a crash.
func rewrapFileHeader(path string, oldKey, newKey []byte, erasePasses int) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open container: %w", err)
	}

	header, err := readFileHeader(file)
	if err != nil {
		file.Close()
		return err
	}
	oldHeaderLen := header.size()
	file.Close()

	if fek, probeErr := header.unwrapFEK(newKey); probeErr == nil {
		memguard.WipeBytes(fek)
		return nil
	}

	fek, err := header.unwrapFEK(oldKey)
	if err != nil {
		return fmt.Errorf("container %s: %w", filepath.Base(path), err)
	}
	defer memguard.WipeBytes(fek)

	meta, err := header.decryptMetadata(oldKey)
	if err != nil {
		return fmt.Errorf("container %s metadata: %w", filepath.Base(path), err)
	}

	newHeader, err := rewrappedHeader(header, fek, newKey, meta)
	if err != nil {
		return fmt.Errorf("container %s: %w", filepath.Base(path), err)
	}

	// In-place overwrite is only sound when the serialized lengths are
	// byte-for-byte equal. Verified, not assumed.
	if newHeader.size() == oldHeaderLen {
		return overwriteHeader(path, newHeader)
	}
	return swapContainer(path, newHeader, oldHeaderLen, erasePasses)
}

func overwriteHeader(path string, header *fileHeader) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open container for rewrap: %w", err)
	}

	if _, err := file.WriteAt(header.marshal(), 0); err != nil {
		file.Close()
		return fmt.Errorf("failed to overwrite container header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync rewrapped header: %w", err)
	}
	return file.Close()
}

// swapContainer writes the new header plus a verbatim copy of the body
// to a temp file, then renames it over the live name. The rename is
// atomic, so a crash leaves either the old or the new container at the
// path, never neither. The superseded bytes are scrubbed through a
// handle opened before the rename, which keeps the unlinked inode
// reachable.
func swapContainer(path string, header *fileHeader, oldHeaderLen int, erasePasses int) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen container: %w", err)
	}
	defer src.Close()

	if _, err := src.Seek(int64(oldHeaderLen), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek container body: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rewrap-*")
	if err != nil {
		return fmt.Errorf("failed to create temp container: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(misc.FilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to set container permissions: %w", err)
	}
	if _, err := tmp.Write(header.marshal()); err != nil {
		cleanup()
		return fmt.Errorf("failed to write new header: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		cleanup()
		return fmt.Errorf("failed to copy container body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync new container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close new container: %w", err)
	}
	src.Close()

	old, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to reopen superseded container: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		old.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace container: %w", err)
	}

	if err := eraseOpenFile(old, erasePasses); err != nil {
		old.Close()
		return fmt.Errorf("failed to erase superseded container: %w", err)
	}
	return old.Close()
}

// SecureErase overwrites the file with cryptographically random bytes
// for the given number of passes, flushing each pass to durable storage,
// then deletes it. Best effort on flash media, where wear leveling may
// preserve old blocks regardless.
func SecureErase(path string, passes int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat file for erase: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("secure erase targets files, not directories: %s", path)
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open file for erase: %w", err)
	}
	if err := eraseOpenFile(file, passes); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close erased file: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete erased file: %w", err)
	}
	return nil
}

// eraseOpenFile runs the overwrite passes against an already-open
// handle, so it also works on an inode whose last name is gone. The
// caller keeps ownership of the handle.
func eraseOpenFile(file *os.File, passes int) error {
	if passes <= 0 {
		passes = misc.SecureErasePasses
	}
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file for erase: %w", err)
	}
	size := info.Size()

	buf := make([]byte, misc.ChunkSize)
	for pass := 0; pass < passes; pass++ {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("erase pass %d seek failed: %w", pass+1, err)
		}
		remaining := size
		for remaining > 0 {
			n := int64(len(buf))
			if remaining < n {
				n = remaining
			}
			fill, err := crypto.RandomBytes(int(n))
			if err != nil {
				return fmt.Errorf("erase pass %d random fill failed: %w", pass+1, err)
			}
			copy(buf, fill)
			if _, err := file.Write(buf[:n]); err != nil {
				return fmt.Errorf("erase pass %d write failed: %w", pass+1, err)
			}
			remaining -= n
		}
		if err := file.Sync(); err != nil {
			return fmt.Errorf("erase pass %d sync failed: %w", pass+1, err)
		}
	}
	return nil
}

// isContainer reports whether the file at path starts with a supported
// container version byte. Used by the rotation walk to skip strays like
// editor droppings without weakening the per-container failure rule.
func isContainer(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	version := make([]byte, 1)
	if _, err := io.ReadFull(file, version); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, err
	}
	return version[0] == misc.ContainerVersion, nil
}
