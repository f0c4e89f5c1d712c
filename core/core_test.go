package core

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soulmesh/swarmcore/internal/backfill"
	"github.com/soulmesh/swarmcore/internal/mesh"
	"github.com/soulmesh/swarmcore/internal/swarm"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/transferclient"
)

type fakeClient struct {
	mu    sync.Mutex
	blobs map[string]map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{blobs: map[string]map[string][]byte{}}
}

func (f *fakeClient) set(peerID, path string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blobs[peerID] == nil {
		f.blobs[peerID] = map[string][]byte{}
	}
	f.blobs[peerID][path] = content
}

func (f *fakeClient) Search(ctx context.Context, query string, handler transferclient.SearchHandler, opts transferclient.SearchOptions) error {
	return nil
}

func (f *fakeClient) Download(ctx context.Context, peerID, remotePath string, sink io.Writer, declaredSize, startOffset int64, opts transferclient.DownloadOptions) (int64, error) {
	f.mu.Lock()
	content := f.blobs[peerID][remotePath]
	f.mu.Unlock()
	if startOffset >= int64(len(content)) {
		return 0, nil
	}
	n, err := sink.Write(content[startOffset:])
	return int64(n), err
}

func (f *fakeClient) PeerAttributes(peerID string) (transferclient.PeerAttributes, bool) {
	return transferclient.PeerAttributes{}, false
}

type fixedIdle struct{ d time.Duration }

func (f fixedIdle) IdleSeconds() time.Duration { return f.d }

// loopbackDialer answers every Dial with one end of a net.Pipe, spinning a
// ServeOne goroutine bound to a fixed remote store on the other end.
type loopbackDialer struct {
	remoteSession *mesh.Session
}

func (d *loopbackDialer) Dial(ctx context.Context, peerID string) (mesh.Conn, error) {
	serverConn, clientConn := net.Pipe()
	go func() {
		_ = d.remoteSession.ServeOne(context.Background(), serverConn, time.Now())
	}()
	return clientConn, nil
}

func swarmRequest(t *testing.T, content []byte, sources []string, outputPath string) swarm.Request {
	t.Helper()
	return swarm.Request{
		Filename:   "song.mp3",
		Size:       int64(len(content)),
		Sources:    sources,
		ChunkSize:  20_000,
		OutputPath: outputPath,
	}
}

func openCore(t *testing.T, client transferclient.Client, dialer mesh.Dialer, idle backfill.IdleChecker) *Core {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "hash.db"), Deps{
		Client:     client,
		MeshDialer: dialer,
		Idle:       idle,
		ClientID:   "test-node",
		ScratchDir: t.TempDir(),
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFindVerifiedSourcesGroupsAgreeingPeers(t *testing.T) {
	client := newFakeClient()
	content := bytes.Repeat([]byte{0x42}, 40*1024)
	client.set("peerA", "track.mp3", content)
	client.set("peerB", "track.mp3", content)

	c := openCore(t, client, nil, nil)

	res, err := c.FindVerifiedSources(context.Background(), "track.mp3", int64(len(content)), []string{"peerA", "peerB"})
	if err != nil {
		t.Fatalf("FindVerifiedSources: %v", err)
	}
	_, sources, ok := res.BestGroup()
	if !ok || len(sources) != 2 {
		t.Fatalf("expected both peers to agree, got %+v", res)
	}
}

func TestStartSwarmCompletesDownload(t *testing.T) {
	client := newFakeClient()
	content := bytes.Repeat([]byte{0x7E}, 60_000)
	client.set("peerA", "song.mp3", content)
	client.set("peerB", "song.mp3", content)

	c := openCore(t, client, nil, nil)
	outputPath := filepath.Join(t.TempDir(), "song.mp3")

	job, err := c.StartSwarm(context.Background(), "job-1", swarmRequest(t, content, []string{"peerA", "peerB"}, outputPath))
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, _, jobErr := c.JobStatus(job)
		if state == swarm.StateCompleted {
			return
		}
		if state == swarm.StateFailed {
			t.Fatalf("job failed: %v", jobErr)
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job did not complete in time")
}

func TestTriggerMeshSyncPullsFromNeighbor(t *testing.T) {
	remoteStore := openCore(t, newFakeClient(), nil, nil).store
	now := time.Now()
	if _, err := remoteStore.StoreFingerprint("x:1", types.KindSha256Prefix, []byte{1}, 1, 0, types.SourceLocalScan, now); err != nil {
		t.Fatalf("seed remote store: %v", err)
	}
	remoteSession := mesh.NewSession(remoteStore, "remote-node", 500, 10)
	dialer := &loopbackDialer{remoteSession: remoteSession}

	c := openCore(t, newFakeClient(), dialer, nil)
	result, err := c.TriggerMeshSync(context.Background(), []string{"remote-node"}, now)
	if err != nil {
		t.Fatalf("TriggerMeshSync: %v", err)
	}
	if result.Attempted != 1 || result.Merged != 1 {
		t.Fatalf("unexpected mesh sync result: %+v", result)
	}
}

func TestTriggerMeshSyncWithoutDialerErrors(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, nil)
	_, err := c.TriggerMeshSync(context.Background(), []string{"peer1"}, time.Now())
	if err == nil {
		t.Fatal("expected error when no MeshDialer was configured")
	}
}

func TestTriggerBackfillCycleWithoutIdleCheckerErrors(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, nil)
	_, err := c.TriggerBackfillCycle(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected error when no IdleChecker was configured")
	}
}

func TestTriggerBackfillCycleRunsWhenConfigured(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, fixedIdle{d: time.Hour})
	result, err := c.TriggerBackfillCycle(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("TriggerBackfillCycle: %v", err)
	}
	if result.Skipped {
		t.Fatal("did not expect cycle to be skipped when idle long enough")
	}
}

func TestMeshStatsReportsPersistedWatermark(t *testing.T) {
	remoteStore := openCore(t, newFakeClient(), nil, nil).store
	now := time.Now()
	if _, err := remoteStore.StoreFingerprint("x:1", types.KindSha256Prefix, []byte{1}, 1, 0, types.SourceLocalScan, now); err != nil {
		t.Fatalf("seed remote store: %v", err)
	}
	remoteSession := mesh.NewSession(remoteStore, "remote-node", 500, 10)
	dialer := &loopbackDialer{remoteSession: remoteSession}

	c := openCore(t, newFakeClient(), dialer, nil)
	if _, err := c.TriggerMeshSync(context.Background(), []string{"remote-node"}, now); err != nil {
		t.Fatalf("TriggerMeshSync: %v", err)
	}

	stats, err := c.MeshStats()
	if err != nil {
		t.Fatalf("MeshStats: %v", err)
	}
	if len(stats.Peers) != 1 || stats.Peers[0].PeerID != "remote-node" || stats.Peers[0].LastSeqSeen == 0 {
		t.Fatalf("unexpected mesh stats: %+v", stats)
	}
}

func TestMeshStatsEmptyWithoutAnySync(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, nil)
	stats, err := c.MeshStats()
	if err != nil {
		t.Fatalf("MeshStats: %v", err)
	}
	if len(stats.Peers) != 0 {
		t.Fatalf("expected no mesh peers tracked yet, got %+v", stats)
	}
}

func TestBackfillStatsReportsDailyCounter(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, fixedIdle{d: time.Hour})
	now := time.Now()
	if err := c.store.UpsertPeer(&types.Peer{ID: "peerA", LastSeen: now}); err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}
	if err := c.store.IncrementBackfillCount("peerA", now.UTC().Format("2006-01-02")); err != nil {
		t.Fatalf("IncrementBackfillCount: %v", err)
	}

	stats, err := c.BackfillStats()
	if err != nil {
		t.Fatalf("BackfillStats: %v", err)
	}
	if len(stats.Peers) != 1 || stats.Peers[0].PeerID != "peerA" || stats.Peers[0].BackfillToday != 1 {
		t.Fatalf("unexpected backfill stats: %+v", stats)
	}
}

func TestLookupFingerprintMissesOnUnknownKey(t *testing.T) {
	c := openCore(t, newFakeClient(), nil, nil)
	_, ok, err := c.LookupFingerprint("nonexistent:123")
	if err != nil {
		t.Fatalf("LookupFingerprint: %v", err)
	}
	if ok {
		t.Fatal("expected no entry for an unknown key")
	}
}
