package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFile(t *testing.T) {
	st, err := Load(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}
	if st.LastSyncCommit != "" {
		t.Errorf("expected zero state, got commit %q", st.LastSyncCommit)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := Save(path, &State{LastSyncCommit: "abc123", LastSyncTime: now}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	st, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.LastSyncCommit != "abc123" {
		t.Errorf("expected commit abc123, got %q", st.LastSyncCommit)
	}
	if !st.LastSyncTime.Equal(now) {
		t.Errorf("expected time %v, got %v", now, st.LastSyncTime)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for corrupt state file")
	}
}
