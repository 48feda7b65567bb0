package vault

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kcpdme/MySecureFolder-sub002/internal/crypto"
	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

// generateKeyID returns a short random identifier for a derived master
// key generation, used in the rotation journal and audit trail. The ID
// carries no key material.
func generateKeyID() (string, error) {
	b, err := crypto.RandomBytes(8)
	if err != nil {
		return "", fmt.Errorf("failed to generate key id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// verifierCanary is the fixed plaintext sealed under each master key
// generation. Decrypting it successfully proves a candidate key is the
// current one without storing anything derived from the password.
var verifierCanary = []byte("mysecurefolder.verifier.v1")

// verifierRecord is the persisted password verifier.
type verifierRecord struct {
	KeyID  string `json:"key_id"`
	Canary []byte `json:"canary"`
}

func newVerifierRecord(masterKey []byte) (*verifierRecord, error) {
	keyID, err := generateKeyID()
	if err != nil {
		return nil, err
	}
	canary, err := crypto.EncryptValue(verifierCanary, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal verifier: %w", err)
	}
	return &verifierRecord{KeyID: keyID, Canary: canary}, nil
}

func loadVerifierRecord(store persist.Store) (*verifierRecord, error) {
	data, err := store.LoadVerifier()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, ErrNotSetup
		}
		return nil, fmt.Errorf("failed to load verifier: %w", err)
	}

	var record verifierRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode verifier: %w", err)
	}
	return &record, nil
}

func (v *verifierRecord) save(store persist.Store) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode verifier: %w", err)
	}
	if err := store.SaveVerifier(data); err != nil {
		return fmt.Errorf("failed to persist verifier: %w", err)
	}
	return nil
}

// matches reports whether the candidate key opens the canary. A tag
// mismatch means wrong key; any other failure is an IO or format error.
func (v *verifierRecord) matches(candidateKey []byte) (bool, error) {
	plain, err := crypto.DecryptValue(v.Canary, candidateKey)
	if err != nil {
		if errors.Is(err, crypto.ErrAuthentication) {
			return false, nil
		}
		return false, err
	}
	crypto.SecureZero(plain)
	return true, nil
}
