package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kcpdme/MySecureFolder-sub002/persist"
)

// RotationState tracks where a password rotation stands.
type RotationState string

const (
	RotationIdle       RotationState = "idle"
	RotationInProgress RotationState = "in_progress"
	RotationFailed     RotationState = "failed"
)

// RotationStep names the phase an in-progress rotation has reached.
type RotationStep string

const (
	StepRewrapFiles       RotationStep = "rewrap_files"
	StepRewrapDatabaseKey RotationStep = "rewrap_database_key"
	StepFinalize          RotationStep = "finalize"
)

// rotationJournal is the durable write-ahead record of a password
// rotation. It is persisted before any mutation begins and updated
// after each step; finding it InProgress at startup means the previous
// rotation died mid-flight and unlock must be refused until recovery.
type rotationJournal struct {
	State       RotationState `json:"state"`
	Step        RotationStep  `json:"step,omitempty"`
	OldKeyID    string        `json:"old_key_id,omitempty"`
	NewKeyID    string        `json:"new_key_id,omitempty"`
	DBKeyBackup []byte        `json:"db_key_backup,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// loadJournal reads the persisted journal, defaulting to Idle when none
// exists.
func loadJournal(store persist.Store) (*rotationJournal, error) {
	data, err := store.LoadJournal()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return &rotationJournal{State: RotationIdle}, nil
		}
		return nil, fmt.Errorf("failed to load rotation journal: %w", err)
	}

	var journal rotationJournal
	if err := json.Unmarshal(data, &journal); err != nil {
		return nil, fmt.Errorf("failed to decode rotation journal: %w", err)
	}
	return &journal, nil
}

// save durably persists the journal. The store contract guarantees the
// write is flushed before save returns; rotation correctness depends on
// that ordering.
func (j *rotationJournal) save(store persist.Store) error {
	j.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to encode rotation journal: %w", err)
	}
	if err := store.SaveJournal(data); err != nil {
		return fmt.Errorf("failed to persist rotation journal: %w", err)
	}
	return nil
}

func clearJournal(store persist.Store) error {
	if err := store.ClearJournal(); err != nil {
		return fmt.Errorf("failed to clear rotation journal: %w", err)
	}
	return nil
}
