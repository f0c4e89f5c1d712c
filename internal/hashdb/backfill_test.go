package hashdb

import (
	"testing"
	"time"

	"github.com/soulmesh/swarmcore/internal/types"
)

func TestBackfillCandidatesExcludesFingerprintDBPeers(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPeer(&types.Peer{ID: "meshed", Capabilities: types.Capabilities(0).Set(types.HasFingerprintDB)}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := s.UpsertPeer(&types.Peer{ID: "plain"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := s.UpsertInventory(&types.InventoryEntry{FileID: "f1", PeerID: "meshed", Status: types.InventoryNone}); err != nil {
		t.Fatalf("UpsertInventory: %v", err)
	}
	if err := s.UpsertInventory(&types.InventoryEntry{FileID: "f2", PeerID: "plain", Status: types.InventoryNone}); err != nil {
		t.Fatalf("UpsertInventory: %v", err)
	}

	out, err := s.BackfillCandidates(0, 10, "2026-01-01")
	if err != nil {
		t.Fatalf("BackfillCandidates: %v", err)
	}
	if len(out) != 1 || out[0].FileID != "f2" {
		t.Fatalf("expected only f2 to be a candidate, got %+v", out)
	}
}

func TestBackfillCandidatesRespectsDailyCapAndFailedRetry(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPeer(&types.Peer{ID: "capped", BackfillResetDay: "2026-01-01", BackfillToday: 5}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := s.UpsertInventory(&types.InventoryEntry{FileID: "f1", PeerID: "capped", Status: types.InventoryNone}); err != nil {
		t.Fatalf("UpsertInventory: %v", err)
	}

	out, err := s.BackfillCandidates(0, 5, "2026-01-01")
	if err != nil {
		t.Fatalf("BackfillCandidates: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected peer at daily cap to be excluded, got %+v", out)
	}

	// A failed row retried on the same UTC day as LastAttemptAt is excluded;
	// once LastAttemptAt falls on a prior day it becomes eligible again.
	if err := s.UpsertPeer(&types.Peer{ID: "retryable"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	failedToday := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := s.UpsertInventory(&types.InventoryEntry{
		FileID: "f2", PeerID: "retryable", Status: types.InventoryFailed, LastAttemptAt: failedToday,
	}); err != nil {
		t.Fatalf("UpsertInventory: %v", err)
	}

	out, err = s.BackfillCandidates(0, 5, "2026-01-01")
	if err != nil {
		t.Fatalf("BackfillCandidates: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected same-day failed retry to be excluded, got %+v", out)
	}

	// On a new day the capped peer's counter no longer applies either, so
	// f1 returns alongside the failed f2.
	out, err = s.BackfillCandidates(0, 5, "2026-01-02")
	if err != nil {
		t.Fatalf("BackfillCandidates: %v", err)
	}
	if len(out) != 2 || out[0].FileID != "f1" || out[1].FileID != "f2" {
		t.Fatalf("expected f1 and f2 eligible on a new day, got %+v", out)
	}
}
