package vault

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/internal/misc"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.RandomBytes(misc.KeySize)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	return key
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	masterKey := randomKey(t)
	fek := randomKey(t)

	iv, wrapped, err := WrapKey(fek, masterKey)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if len(iv) != misc.NonceSize {
		t.Fatalf("expected %d-byte IV, got %d", misc.NonceSize, len(iv))
	}
	if len(wrapped) != misc.WrappedKeySize {
		t.Fatalf("expected %d-byte wrapped key, got %d", misc.WrappedKeySize, len(wrapped))
	}

	got, err := UnwrapKey(wrapped, iv, masterKey)
	if err != nil {
		t.Fatalf("UnwrapKey failed: %v", err)
	}
	if !bytes.Equal(got, fek) {
		t.Fatal("unwrapped key differs from original")
	}
}

func TestWrapGeneratesFreshIV(t *testing.T) {
	masterKey := randomKey(t)
	fek := randomKey(t)

	iv1, _, err := WrapKey(fek, masterKey)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	iv2, _, err := WrapKey(fek, masterKey)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}
	if bytes.Equal(iv1, iv2) {
		t.Fatal("two wraps produced the same IV")
	}
}

func TestUnwrapWrongKeyFails(t *testing.T) {
	mk1 := randomKey(t)
	mk2 := randomKey(t)
	fek := randomKey(t)

	iv, wrapped, err := WrapKey(fek, mk1)
	if err != nil {
		t.Fatalf("WrapKey failed: %v", err)
	}

	if _, err := UnwrapKey(wrapped, iv, mk2); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	// Tampering is indistinguishable from a wrong key.
	wrapped[0] ^= 0xff
	if _, err := UnwrapKey(wrapped, iv, mk1); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed for tampered ciphertext, got %v", err)
	}
}

func TestDeriveDatabaseKey(t *testing.T) {
	masterKey := randomKey(t)

	k1, err := DeriveDatabaseKey(masterKey)
	if err != nil {
		t.Fatalf("DeriveDatabaseKey failed: %v", err)
	}
	k2, err := DeriveDatabaseKey(masterKey)
	if err != nil {
		t.Fatalf("DeriveDatabaseKey failed: %v", err)
	}

	if len(k1) != misc.KeySize {
		t.Fatalf("expected %d-byte database key, got %d", misc.KeySize, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("database key derivation is not deterministic")
	}
	if bytes.Equal(k1, masterKey) {
		t.Fatal("database key must differ from the master key")
	}

	other, err := DeriveDatabaseKey(randomKey(t))
	if err != nil {
		t.Fatalf("DeriveDatabaseKey failed: %v", err)
	}
	if bytes.Equal(k1, other) {
		t.Fatal("different master keys produced the same database key")
	}
}
