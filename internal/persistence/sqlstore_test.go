package persistence

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "apex-test.db")
	s, err := Open(DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRejectsUnsupportedDriver(t *testing.T) {
	if _, err := Open(Driver("postgres"), "anything"); err == nil {
		t.Fatal("expected an unsupported driver to be rejected")
	}
}

func TestLatestBanditSnapshotMissingReturnsNotOK(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.LatestBanditSnapshot("episode-none")
	if err != nil {
		t.Fatalf("LatestBanditSnapshot: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false when no snapshot has been saved")
	}
}

func TestSaveAndLoadLatestBanditSnapshot(t *testing.T) {
	s := openTestStore(t)

	payload1, _ := json.Marshal(map[string]any{"epoch": 1})
	payload2, _ := json.Marshal(map[string]any{"epoch": 2})

	if err := s.SaveBanditSnapshot("ep-1", payload1); err != nil {
		t.Fatalf("save snapshot 1: %v", err)
	}
	if err := s.SaveBanditSnapshot("ep-1", payload2); err != nil {
		t.Fatalf("save snapshot 2: %v", err)
	}

	got, ok, err := s.LatestBanditSnapshot("ep-1")
	if err != nil {
		t.Fatalf("LatestBanditSnapshot: %v", err)
	}
	if !ok {
		t.Fatal("expected a snapshot to be found")
	}
	if string(got.Payload) != string(payload2) {
		t.Fatalf("expected the most recently saved snapshot, got %s", got.Payload)
	}
	if got.EpisodeID != "ep-1" {
		t.Fatalf("expected episode id ep-1, got %s", got.EpisodeID)
	}
}

func TestRecordEpisodeOutcome(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordEpisodeOutcome(EpisodeOutcome{
		EpisodeID:   "ep-2",
		FinishedAt:  time.Now(),
		Success:     true,
		TotalReward: 4.5,
		SwitchCount: 3,
	})
	if err != nil {
		t.Fatalf("RecordEpisodeOutcome: %v", err)
	}
}
