// Package state persists the last-synced baseline between runs. The sync
// engine never reads this itself; the CLI loads it and passes the commit
// into planning calls explicitly.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the persisted sync baseline.
type State struct {
	// LastSyncCommit is the commit the managed root was last synced to.
	// Empty means no sync has completed yet.
	LastSyncCommit string    `json:"last_sync_commit"`
	LastSyncTime   time.Time `json:"last_sync_time"`
}

// Load reads the state file. A missing file yields a zero state, not an
// error, so a fresh install behaves like "never synced".
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

// Save writes the state file, creating the parent directory if needed.
func Save(path string, st *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
