package hashdb

import (
	"testing"
	"time"

	"github.com/soulmesh/swarmcore/internal/types"
)

func TestUpsertAndGetPeer(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &types.Peer{ID: "peerA", ClientVersion: "1.0", LastSeen: now}
	if err := s.UpsertPeer(p); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	got, ok, err := s.GetPeer("peerA")
	if err != nil || !ok {
		t.Fatalf("GetPeer: ok=%v err=%v", ok, err)
	}
	if got.ClientVersion != "1.0" {
		t.Fatalf("unexpected peer: %+v", got)
	}
}

func TestIncrementBackfillCountResetsOnNewDay(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPeer(&types.Peer{ID: "peerA"}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.IncrementBackfillCount("peerA", "2026-01-01"); err != nil {
			t.Fatalf("IncrementBackfillCount: %v", err)
		}
	}
	p, _, _ := s.GetPeer("peerA")
	if p.BackfillToday != 3 {
		t.Fatalf("expected count 3, got %d", p.BackfillToday)
	}

	if err := s.IncrementBackfillCount("peerA", "2026-01-02"); err != nil {
		t.Fatalf("IncrementBackfillCount: %v", err)
	}
	p, _, _ = s.GetPeer("peerA")
	if p.BackfillToday != 1 {
		t.Fatalf("expected count reset to 1 on new day, got %d", p.BackfillToday)
	}
	if p.BackfillResetDay != "2026-01-02" {
		t.Fatalf("expected reset day advanced, got %s", p.BackfillResetDay)
	}
}

func TestPruneStalePeers(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertPeer(&types.Peer{ID: "fresh", LastSeen: now}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := s.UpsertPeer(&types.Peer{ID: "stale", LastSeen: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	pruned, err := s.PruneStalePeers(now, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneStalePeers: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if _, ok, _ := s.GetPeer("stale"); ok {
		t.Fatal("stale peer should have been removed")
	}
	if _, ok, _ := s.GetPeer("fresh"); !ok {
		t.Fatal("fresh peer should remain")
	}
}
