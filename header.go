package vault

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

// maxMetadataLen bounds the encrypted metadata block so a corrupt
// length field cannot drive an unbounded allocation.
const maxMetadataLen = 64 * 1024

// FileMetadata travels AEAD-encrypted inside every container header.
type FileMetadata struct {
	OriginalName string    `json:"name"`
	MimeType     string    `json:"mime,omitempty"`
	Timestamp    time.Time `json:"ts"`
}

// fileHeader is the on-disk container header:
//
//	[1B version][12B wrap_iv][48B wrapped_fek][4B metadata_len BE]
//	[metadata_len bytes encrypted_metadata]
//
// encrypted_metadata is [12B iv][ciphertext][16B tag] under the master
// key, with a nonce independent of the wrap IV.
type fileHeader struct {
	version           byte
	wrapIV            []byte
	wrappedFEK        []byte
	encryptedMetadata []byte
}

func (h *fileHeader) marshal() []byte {
	buf := make([]byte, 0, h.size())
	buf = append(buf, h.version)
	buf = append(buf, h.wrapIV...)
	buf = append(buf, h.wrappedFEK...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.encryptedMetadata)))
	buf = append(buf, h.encryptedMetadata...)
	return buf
}

func (h *fileHeader) size() int {
	return 1 + misc.NonceSize + misc.WrappedKeySize + 4 + len(h.encryptedMetadata)
}

func newFileHeader(fek, masterKey []byte, meta FileMetadata) (*fileHeader, error) {
	iv, wrapped, err := WrapKey(fek, masterKey)
	if err != nil {
		return nil, err
	}

	plain, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	defer crypto.SecureZero(plain)

	encMeta, err := crypto.EncryptValue(plain, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt metadata: %w", err)
	}

	return &fileHeader{
		version:           misc.ContainerVersion,
		wrapIV:            iv,
		wrappedFEK:        wrapped,
		encryptedMetadata: encMeta,
	}, nil
}

// rewrappedHeader rebuilds a header under newKey while preserving the
// wrap IV, which the body counter block is derived from. The FEK wrap
// reuses that IV as its nonce; the metadata AEAD always gets a fresh,
// independent nonce.
func rewrappedHeader(old *fileHeader, fek, newKey []byte, meta FileMetadata) (*fileHeader, error) {
	wrapped, err := crypto.SealWithNonce(fek, newKey, old.wrapIV)
	if err != nil {
		return nil, fmt.Errorf("failed to re-wrap file key: %w", err)
	}

	plain, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	defer crypto.SecureZero(plain)

	encMeta, err := crypto.EncryptValue(plain, newKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt metadata: %w", err)
	}

	return &fileHeader{
		version:           old.version,
		wrapIV:            append([]byte(nil), old.wrapIV...),
		wrappedFEK:        wrapped,
		encryptedMetadata: encMeta,
	}, nil
}

func readFileHeader(r io.Reader) (*fileHeader, error) {
	fixed := make([]byte, 1+misc.NonceSize+misc.WrappedKeySize+4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("failed to read container header: %w", err)
	}

	version := fixed[0]
	if version != misc.ContainerVersion {
		return nil, fmt.Errorf("unsupported container version %d", version)
	}

	metaLen := binary.BigEndian.Uint32(fixed[1+misc.NonceSize+misc.WrappedKeySize:])
	if metaLen < misc.NonceSize+misc.TagSize || metaLen > maxMetadataLen {
		return nil, fmt.Errorf("invalid metadata length %d", metaLen)
	}

	encMeta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, encMeta); err != nil {
		return nil, fmt.Errorf("failed to read container metadata: %w", err)
	}

	h := &fileHeader{
		version:           version,
		wrapIV:            append([]byte(nil), fixed[1:1+misc.NonceSize]...),
		wrappedFEK:        append([]byte(nil), fixed[1+misc.NonceSize:1+misc.NonceSize+misc.WrappedKeySize]...),
		encryptedMetadata: encMeta,
	}
	return h, nil
}

// unwrapFEK probes the header against a candidate master key.
func (h *fileHeader) unwrapFEK(masterKey []byte) ([]byte, error) {
	return UnwrapKey(h.wrappedFEK, h.wrapIV, masterKey)
}

func (h *fileHeader) decryptMetadata(masterKey []byte) (FileMetadata, error) {
	var meta FileMetadata
	plain, err := crypto.DecryptValue(h.encryptedMetadata, masterKey)
	if err != nil {
		return meta, err
	}
	defer crypto.SecureZero(plain)

	if err := json.Unmarshal(plain, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

// counterBlock zero-extends the 96-bit wrap IV to the 128-bit initial
// CTR counter block.
func (h *fileHeader) counterBlock() []byte {
	block := make([]byte, misc.CounterBlockSize)
	copy(block, h.wrapIV)
	return block
}
