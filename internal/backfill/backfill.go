// Package backfill implements Backfill: an opportunistic, rate-limited
// sweep that probes inventory rows with no known fingerprint, the same
// worker-pool shape dupedog's verifier.go uses for its own catch-up passes,
// narrowed to run only while the host reports the machine idle.
package backfill

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/soulmesh/swarmcore/internal/fingerprint"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/internal/verification"
)

// maxCandidatesPerCycle bounds how many inventory rows one RunCycle selects
// (spec §4.6: "selecting up to 3 inventory candidates"). This is distinct
// from Config.MaxConcurrent, which bounds how many of those candidates are
// probed at once.
const maxCandidatesPerCycle = 3

// IdleChecker reports whether the host considers the machine currently idle
// (no foreground transfers, user not actively interacting with the client).
// Backfill never guesses this itself; it is handed the answer the same way
// verification.Verifier is handed a transferclient.Client instead of owning
// a socket.
type IdleChecker interface {
	IdleSeconds() time.Duration
}

// Config governs one Backfill cycle, spec §4.6's rate limits.
type Config struct {
	Interval         time.Duration // backfill.interval_seconds
	MaxConcurrent    int           // backfill.max_concurrent_backfills: global concurrent-probe cap
	MaxPerPeerPerDay int           // backfill.max_per_peer_per_day
	MinIdle          time.Duration // backfill.min_idle_seconds
	ProbeTimeout     time.Duration
}

// DefaultConfig returns conservative defaults for an opportunistic sweep.
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Minute,
		MaxConcurrent:    2,
		MaxPerPeerPerDay: 10,
		MinIdle:          5 * time.Minute,
		ProbeTimeout:     verification.DefaultProbeTimeout,
	}
}

// CycleResult summarizes one RunCycle invocation.
type CycleResult struct {
	Skipped    bool // host was not idle long enough
	Attempted  int
	Verified   int
	Failed     int
}

// Scheduler drives periodic Backfill cycles against one hashdb.Store.
type Scheduler struct {
	store    *hashdb.Store
	verifier *verification.Verifier
	idle     IdleChecker
	cfg      Config
}

// NewScheduler builds a Scheduler.
func NewScheduler(store *hashdb.Store, verifier *verification.Verifier, idle IdleChecker, cfg Config) *Scheduler {
	return &Scheduler{store: store, verifier: verifier, idle: idle, cfg: cfg}
}

// RunCycle selects up to maxCandidatesPerCycle eligible inventory rows via
// hashdb.BackfillCandidates and probes them concurrently, bounded by
// cfg.MaxConcurrent simultaneous probes (spec §4.6's separate "selecting up
// to 3 candidates" and "MAX_CONCURRENT_BACKFILLS" limits). A cycle is
// skipped entirely if the host hasn't been idle for at least cfg.MinIdle.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time) CycleResult {
	if s.idle.IdleSeconds() < s.cfg.MinIdle {
		return CycleResult{Skipped: true}
	}

	today := now.UTC().Format("2006-01-02")
	candidates, err := s.store.BackfillCandidates(maxCandidatesPerCycle, s.cfg.MaxPerPeerPerDay, today)
	if err != nil {
		return CycleResult{}
	}

	limit := s.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var result CycleResult
	for _, inv := range candidates {
		inv := inv
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			ok := s.probeOne(ctx, inv, today, now)

			mu.Lock()
			result.Attempted++
			if ok {
				result.Verified++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return result
}

// probeOne runs a single-peer ContentVerification round against one
// inventory row's owning peer and records the outcome.
func (s *Scheduler) probeOne(ctx context.Context, inv *types.InventoryEntry, today string, now time.Time) bool {
	res, err := s.verifier.Verify(ctx, verification.Request{
		Filename:   inv.Path,
		Size:       inv.Size,
		Candidates: []string{inv.PeerID},
		Timeout:    s.cfg.ProbeTimeout,
	})
	if err != nil || res == nil {
		s.markFailed(inv, now)
		return false
	}

	fpHex, sources, ok := res.BestGroup()
	if !ok || len(sources) == 0 {
		s.markFailed(inv, now)
		return false
	}

	kind, fp, err := splitGroupKey(fpHex)
	if err != nil {
		s.markFailed(inv, now)
		return false
	}

	key := fingerprint.Key(path.Base(inv.Path), inv.Size)
	if _, err := s.store.StoreFingerprint(key, kind, fp, inv.Size, 0, types.SourceBackfillProbe, now); err != nil {
		s.markFailed(inv, now)
		return false
	}

	inv.Status = types.InventoryKnown
	inv.Fingerprint = fp
	inv.Source = types.SourceBackfillProbe
	inv.LastAttemptAt = now
	if err := s.store.UpsertInventory(inv); err != nil {
		return false
	}
	_ = s.store.IncrementBackfillCount(inv.PeerID, today)
	return true
}

func (s *Scheduler) markFailed(inv *types.InventoryEntry, now time.Time) {
	inv.Status = types.InventoryFailed
	inv.LastAttemptAt = now
	_ = s.store.UpsertInventory(inv)
}

// splitGroupKey reverses the "kind:hexfingerprint" key verification.Result
// groups sources under.
func splitGroupKey(groupKey string) (types.FingerprintKind, []byte, error) {
	idx := strings.LastIndex(groupKey, ":")
	if idx < 0 {
		return "", nil, fmt.Errorf("backfill: malformed group key %q", groupKey)
	}
	fp, err := hex.DecodeString(groupKey[idx+1:])
	if err != nil {
		return "", nil, err
	}
	return types.FingerprintKind(groupKey[:idx]), fp, nil
}
