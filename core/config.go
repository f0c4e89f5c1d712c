// Package core assembles ContentVerification, SwarmDownload, HashDB,
// MeshSync, and Backfill behind one façade, the way cmd/dupedog's
// runDedupe wires scanner, screener, verifier, and deduper together behind
// a single call — except here the wiring is an importable API, not just a
// CLI command body, so any host application can embed it.
package core

import (
	"time"

	"github.com/soulmesh/swarmcore/internal/backfill"
	"github.com/soulmesh/swarmcore/internal/mesh"
	"github.com/soulmesh/swarmcore/internal/swarm"
	"github.com/soulmesh/swarmcore/internal/verification"
)

// Config holds every tunable spec §6 names, as plain Go fields with the
// spec's stated defaults — the typed-config-struct idiom teacher's
// dedupeOptions uses, generalized from CLI flags to a library config.
type Config struct {
	SwarmDefaultChunkSize       int64
	SwarmMinWorkerBps           int64
	SwarmSlowWindowSeconds      time.Duration
	SwarmMaxConsecutiveFailures int
	SwarmMaxRetryRounds         int
	SwarmRetrySemaphore         int

	MeshSyncInterval      time.Duration
	MeshMaxEntriesPerSync int
	MeshMaxPeersPerCycle  int
	MeshMaxPairBatches    int

	BackfillInterval        time.Duration
	BackfillMaxConcurrent   int
	BackfillMaxPerPeerPerDay int
	BackfillMinIdle         time.Duration

	VerificationProbeTimeout      time.Duration
	VerificationNonFlacPrefixBytes int64
}

// DefaultConfig returns spec §6's stated defaults.
func DefaultConfig() Config {
	swarmCfg := swarm.DefaultConfig()
	meshCfg := mesh.DefaultSchedulerConfig()
	backfillCfg := backfill.DefaultConfig()

	return Config{
		SwarmDefaultChunkSize:       swarmCfg.DefaultChunkSize,
		SwarmMinWorkerBps:           swarmCfg.MinWorkerBps,
		SwarmSlowWindowSeconds:      swarmCfg.SlowWindow,
		SwarmMaxConsecutiveFailures: swarmCfg.MaxConsecutiveFailures,
		SwarmMaxRetryRounds:         swarmCfg.MaxRetryRounds,
		SwarmRetrySemaphore:         swarmCfg.RetrySemaphore,

		MeshSyncInterval:      meshCfg.SyncInterval,
		MeshMaxEntriesPerSync: meshCfg.MaxEntriesPerSync,
		MeshMaxPeersPerCycle:  meshCfg.MaxPeersPerCycle,
		MeshMaxPairBatches:    meshCfg.MaxPairBatches,

		BackfillInterval:         backfillCfg.Interval,
		BackfillMaxConcurrent:    backfillCfg.MaxConcurrent,
		BackfillMaxPerPeerPerDay: backfillCfg.MaxPerPeerPerDay,
		BackfillMinIdle:          backfillCfg.MinIdle,

		VerificationProbeTimeout:       verification.DefaultProbeTimeout,
		VerificationNonFlacPrefixBytes: 0, // not read by any subsystem: the non-FLAC prefix is always fingerprint's fixed 32 KiB
	}
}

func (c Config) swarmConfig() swarm.Config {
	return swarm.Config{
		DefaultChunkSize:       c.SwarmDefaultChunkSize,
		MinWorkerBps:           c.SwarmMinWorkerBps,
		SlowWindow:             c.SwarmSlowWindowSeconds,
		MaxConsecutiveFailures: c.SwarmMaxConsecutiveFailures,
		MaxRetryRounds:         c.SwarmMaxRetryRounds,
		RetrySemaphore:         c.SwarmRetrySemaphore,
	}
}

func (c Config) meshSchedulerConfig() mesh.SchedulerConfig {
	return mesh.SchedulerConfig{
		SyncInterval:      c.MeshSyncInterval,
		MaxPeersPerCycle:  c.MeshMaxPeersPerCycle,
		MaxEntriesPerSync: c.MeshMaxEntriesPerSync,
		MaxPairBatches:    c.MeshMaxPairBatches,
	}
}

func (c Config) backfillConfig() backfill.Config {
	return backfill.Config{
		Interval:         c.BackfillInterval,
		MaxConcurrent:    c.BackfillMaxConcurrent,
		MaxPerPeerPerDay: c.BackfillMaxPerPeerPerDay,
		MinIdle:          c.BackfillMinIdle,
		ProbeTimeout:     c.VerificationProbeTimeout,
	}
}
