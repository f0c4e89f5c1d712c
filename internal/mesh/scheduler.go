package mesh

import (
	"context"
	"time"

	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/types"
)

// SchedulerConfig governs how aggressively the Scheduler gossips, mirroring
// the rate limits spec §4.5 assigns MeshSync.
type SchedulerConfig struct {
	SyncInterval   time.Duration // MESH_SYNC_INTERVAL_MIN, per-neighbor cooldown
	MaxPeersPerCycle int         // MESH_MAX_PEERS_PER_CYCLE
	MaxEntriesPerSync int        // MAX_ENTRIES_PER_SYNC
	MaxPairBatches    int        // MAX_PAIR_BATCHES
}

// DefaultSchedulerConfig returns spec's stated defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		SyncInterval:      30 * time.Minute,
		MaxPeersPerCycle:  5,
		MaxEntriesPerSync: 500,
		MaxPairBatches:    10,
	}
}

// CycleResult summarizes one RunCycle invocation, reported to the host for
// logging/metrics.
type CycleResult struct {
	Attempted int
	Merged    int
	Conflicts int
	Failures  []CycleFailure
}

// CycleFailure names a neighbor a sync cycle failed against.
type CycleFailure struct {
	PeerID string
	Err    error
}

// Scheduler drives periodic MeshSync cycles against a candidate neighbor
// list the host supplies (its own view of which peers are currently
// reachable and advertise SupportsMesh). It does not discover peers itself,
// the same separation dupedog's verifier.go leaves candidate discovery to
// its caller and only owns the worker-pool mechanics.
type Scheduler struct {
	store   *hashdb.Store
	session *Session
	dialer  Dialer
	cfg     SchedulerConfig
}

// NewScheduler builds a Scheduler.
func NewScheduler(store *hashdb.Store, dialer Dialer, clientID string, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:   store,
		session: NewSession(store, clientID, cfg.MaxEntriesPerSync, cfg.MaxPairBatches),
		dialer:  dialer,
		cfg:     cfg,
	}
}

// RunCycle picks up to MaxPeersPerCycle neighbors from candidates that
// haven't been synced within SyncInterval, dials each in turn, and pulls
// their delta. Peers are visited in the order given; the host is expected to
// pass a shuffled or priority-ordered slice if it wants fairness across
// cycles, the same way callers of dupedog's scanner own traversal order.
func (s *Scheduler) RunCycle(ctx context.Context, candidates []string, now time.Time) CycleResult {
	var result CycleResult
	for _, peerID := range candidates {
		if result.Attempted >= s.cfg.MaxPeersPerCycle {
			break
		}
		due, err := s.isDue(peerID, now)
		if err != nil || !due {
			continue
		}

		result.Attempted++
		merged, conflicts, err := s.syncOne(ctx, peerID, now)
		result.Merged += merged
		result.Conflicts += conflicts
		if err != nil {
			result.Failures = append(result.Failures, CycleFailure{PeerID: peerID, Err: err})
		}
	}
	return result
}

func (s *Scheduler) isDue(peerID string, now time.Time) (bool, error) {
	st, ok, err := s.store.GetMeshPeerState(peerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(st.LastSyncAt) >= s.cfg.SyncInterval, nil
}

func (s *Scheduler) syncOne(ctx context.Context, peerID string, now time.Time) (merged, conflicts int, err error) {
	conn, err := s.dialer.Dial(ctx, peerID)
	if err != nil {
		return 0, 0, types.WrapError(types.ErrTransportError, "dial mesh peer", err)
	}
	defer conn.Close()

	merged, conflicts, err = s.session.PullFrom(ctx, conn, peerID, now)
	// Every attempt counts toward SyncInterval's cooldown, including a failed
	// one and one that found the neighbor already up to date; otherwise such
	// a neighbor gets redialed every cycle instead of backing off like one
	// that merged entries. The existing watermark is preserved; only
	// LastSyncAt advances.
	watermark, wErr := s.store.PeerLastSeqSeen(peerID)
	if wErr == nil {
		_ = s.store.SetPeerLastSeqSeen(peerID, watermark, now)
	}
	return merged, conflicts, err
}
