package core

import (
	"context"
	"time"

	"github.com/soulmesh/swarmcore/internal/backfill"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/mesh"
	"github.com/soulmesh/swarmcore/internal/swarm"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/internal/verification"
	"github.com/soulmesh/swarmcore/transferclient"
)

// Core wires ContentVerification, SwarmDownload, HashDB, MeshSync, and
// Backfill behind a single handle. It owns the HashDB store's lifecycle;
// everything else (transport, mesh dialing, idle detection) is supplied by
// the host at construction time, following spec §1's "the core consumes
// host-supplied collaborators, it never dials a socket itself" boundary.
type Core struct {
	store      *hashdb.Store
	client     transferclient.Client
	verifier   *verification.Verifier
	downloader *swarm.Downloader
	mesh       *mesh.Scheduler
	session    *mesh.Session
	backfill   *backfill.Scheduler
	cfg        Config
}

// Deps bundles the host-supplied collaborators Core can't construct itself.
type Deps struct {
	Client     transferclient.Client
	MeshDialer mesh.Dialer
	Idle       backfill.IdleChecker
	Events     chan<- types.Event
	ClientID   string // this node's identity advertised in MeshSync HELLO
	ScratchDir string // SwarmDownload's working directory for in-flight chunks
}

// Open creates (or opens an existing) HashDB at dbPath and wires every
// subsystem around it. The caller must call Close when done.
func Open(dbPath string, deps Deps, cfg Config) (*Core, error) {
	store, err := hashdb.Open(dbPath)
	if err != nil {
		return nil, err
	}

	verifier := verification.New(deps.Client, store, deps.Events)
	downloader := swarm.New(deps.Client, store, deps.Events, cfg.swarmConfig(), deps.ScratchDir)
	session := mesh.NewSession(store, deps.ClientID, cfg.MeshMaxEntriesPerSync, cfg.MeshMaxPairBatches)

	var meshScheduler *mesh.Scheduler
	if deps.MeshDialer != nil {
		meshScheduler = mesh.NewScheduler(store, deps.MeshDialer, deps.ClientID, cfg.meshSchedulerConfig())
	}

	var backfillScheduler *backfill.Scheduler
	if deps.Idle != nil {
		backfillScheduler = backfill.NewScheduler(store, verifier, deps.Idle, cfg.backfillConfig())
	}

	return &Core{
		store:      store,
		client:     deps.Client,
		verifier:   verifier,
		downloader: downloader,
		mesh:       meshScheduler,
		session:    session,
		backfill:   backfillScheduler,
		cfg:        cfg,
	}, nil
}

// Close releases the HashDB handle.
func (c *Core) Close() error {
	return c.store.Close()
}

// FindVerifiedSources runs ContentVerification against candidates and
// returns the full result: every fingerprint group plus per-candidate
// failures. Its BestGroup method yields the sources to feed into StartSwarm.
func (c *Core) FindVerifiedSources(ctx context.Context, filename string, size int64, candidates []string) (*verification.Result, error) {
	return c.verifier.Verify(ctx, verification.Request{
		Filename:   filename,
		Size:       size,
		Candidates: candidates,
		Timeout:    c.cfg.VerificationProbeTimeout,
	})
}

// StartSwarm launches a SwarmDownload job and returns immediately with a
// handle the caller polls via JobStatus.
func (c *Core) StartSwarm(ctx context.Context, jobID string, req swarm.Request) (*swarm.Job, error) {
	return c.downloader.Start(ctx, jobID, req)
}

// JobStatus reports a running or finished swarm job's current state.
func (c *Core) JobStatus(job *swarm.Job) (state swarm.JobState, snapshot swarm.ProgressSnapshot, err error) {
	return job.State(), job.Progress.Snapshot(), job.Err()
}

// LookupFingerprint answers a local HashDB point lookup by content-addressed
// key, the same query REQ_KEY serves over the wire for a remote neighbor.
func (c *Core) LookupFingerprint(key string) (*types.FingerprintEntry, bool, error) {
	return c.store.LookupFingerprint(key)
}

// TriggerMeshSync runs one MeshSync cycle against the given neighbor
// candidates. Returns an error if no Dialer was supplied at Open time.
func (c *Core) TriggerMeshSync(ctx context.Context, candidates []string, now time.Time) (mesh.CycleResult, error) {
	if c.mesh == nil {
		return mesh.CycleResult{}, types.NewError(types.ErrStoreError, "mesh sync not configured: no Dialer supplied")
	}
	return c.mesh.RunCycle(ctx, candidates, now), nil
}

// ServeMeshConnection answers one inbound MeshSync connection. The host
// calls this from its own accept loop; Core never listens on a socket.
func (c *Core) ServeMeshConnection(ctx context.Context, conn mesh.Conn, now time.Time) error {
	return c.session.ServeOne(ctx, conn, now)
}

// MeshPeerStat is one neighbor's persisted gossip-sync bookkeeping.
type MeshPeerStat struct {
	PeerID      string
	LastSyncAt  time.Time
	LastSeqSeen uint64
}

// MeshStats is CoreAPI's mesh_stats() result: every neighbor HashDB has ever
// synced with, regardless of whether that sync succeeded.
type MeshStats struct {
	Peers []MeshPeerStat
}

// MeshStats reports persisted MeshSync bookkeeping for every known
// neighbor. Unlike TriggerMeshSync, this never requires a MeshDialer: it
// only reads state a past sync (via this node or a prior process) already
// wrote to HashDB.
func (c *Core) MeshStats() (MeshStats, error) {
	states, err := c.store.AllMeshPeerStates()
	if err != nil {
		return MeshStats{}, err
	}
	stats := MeshStats{Peers: make([]MeshPeerStat, 0, len(states))}
	for _, st := range states {
		stats.Peers = append(stats.Peers, MeshPeerStat{
			PeerID:      st.PeerID,
			LastSyncAt:  st.LastSyncAt,
			LastSeqSeen: st.LastSeqSeen,
		})
	}
	return stats, nil
}

// BackfillPeerStat is one peer's daily Backfill probe counter.
type BackfillPeerStat struct {
	PeerID           string
	BackfillToday    int
	BackfillResetDay string
}

// BackfillStats is CoreAPI's backfill_stats() result: every known peer's
// daily Backfill probe counter, used to explain why a peer is or isn't an
// eligible candidate on a given day.
type BackfillStats struct {
	Peers []BackfillPeerStat
}

// BackfillStats reports persisted Backfill counters for every known peer.
// Like MeshStats, it never requires an IdleChecker: it only reads state a
// past cycle already wrote to HashDB.
func (c *Core) BackfillStats() (BackfillStats, error) {
	peers, err := c.store.AllPeers()
	if err != nil {
		return BackfillStats{}, err
	}
	stats := BackfillStats{Peers: make([]BackfillPeerStat, 0, len(peers))}
	for _, p := range peers {
		stats.Peers = append(stats.Peers, BackfillPeerStat{
			PeerID:           p.ID,
			BackfillToday:    p.BackfillToday,
			BackfillResetDay: p.BackfillResetDay,
		})
	}
	return stats, nil
}

// TriggerBackfillCycle runs one Backfill cycle immediately, bypassing the
// interval the host would normally drive it on. Intended for tests and
// manual/CLI invocation; returns an error if no IdleChecker was supplied.
func (c *Core) TriggerBackfillCycle(ctx context.Context, now time.Time) (backfill.CycleResult, error) {
	if c.backfill == nil {
		return backfill.CycleResult{}, types.NewError(types.ErrStoreError, "backfill not configured: no IdleChecker supplied")
	}
	return c.backfill.RunCycle(ctx, now), nil
}

// Store exposes the underlying HashDB for host code that needs lower-level
// access (peer bookkeeping, inventory upserts from its own scan phase).
func (c *Core) Store() *hashdb.Store {
	return c.store
}
