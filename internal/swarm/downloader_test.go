package swarm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/soulmesh/swarmcore/internal/fingerprint"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/transferclient"
)

type fakeSwarmClient struct {
	mu      sync.Mutex
	blobs   map[string][]byte // peerID -> full file content (same path for all tests)
	failAll map[string]bool   // peerID -> always error
}

func newFakeSwarmClient() *fakeSwarmClient {
	return &fakeSwarmClient{blobs: map[string][]byte{}, failAll: map[string]bool{}}
}

func (f *fakeSwarmClient) Search(ctx context.Context, query string, handler transferclient.SearchHandler, opts transferclient.SearchOptions) error {
	return nil
}

func (f *fakeSwarmClient) Download(ctx context.Context, peerID, remotePath string, sink io.Writer, declaredSize, startOffset int64, opts transferclient.DownloadOptions) (int64, error) {
	f.mu.Lock()
	if f.failAll[peerID] {
		f.mu.Unlock()
		return 0, types.NewError(types.ErrTransportError, "injected failure")
	}
	content := f.blobs[peerID]
	f.mu.Unlock()

	if startOffset >= int64(len(content)) {
		return 0, nil
	}
	n, err := sink.Write(content[startOffset:])
	return int64(n), err
}

func (f *fakeSwarmClient) PeerAttributes(peerID string) (transferclient.PeerAttributes, bool) {
	return transferclient.PeerAttributes{}, false
}

func openSwarmStore(t *testing.T) *hashdb.Store {
	t.Helper()
	s, err := hashdb.Open(filepath.Join(t.TempDir(), "hash.db"))
	if err != nil {
		t.Fatalf("hashdb.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDownloaderHappyPathAssemblesAndPublishes(t *testing.T) {
	content := bytes.Repeat([]byte{0x5A}, 50_000)
	client := newFakeSwarmClient()
	client.blobs["peerA"] = content
	client.blobs["peerB"] = content

	store := openSwarmStore(t)
	outDir := t.TempDir()
	outputPath := filepath.Join(outDir, "song.mp3")

	d := New(client, store, nil, DefaultConfig(), t.TempDir())
	job, err := d.Start(context.Background(), "job1", Request{
		Filename:   "song.mp3",
		Size:       int64(len(content)),
		Sources:    []string{"peerA", "peerB"},
		ChunkSize:  20_000,
		OutputPath: outputPath,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForTerminal(t, job)

	if job.State() != StateCompleted {
		t.Fatalf("expected StateCompleted, got %v (err=%v)", job.State(), job.Err())
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("assembled file does not match source content (len got=%d want=%d)", len(got), len(content))
	}

	wantSum := sha256.Sum256(content)
	if !bytes.Equal(job.FinalSHA256(), wantSum[:]) {
		t.Fatalf("final sha256 mismatch")
	}

	key := fingerprint.Key("song.mp3", int64(len(content)))
	entry, ok, err := store.LookupFingerprint(key)
	if err != nil || !ok {
		t.Fatalf("expected published fingerprint entry, ok=%v err=%v", ok, err)
	}
	if entry.LastSource != types.SourceDownload {
		t.Fatalf("expected source=download, got %v", entry.LastSource)
	}
}

func TestDownloaderNoSourcesFails(t *testing.T) {
	client := newFakeSwarmClient()
	store := openSwarmStore(t)
	d := New(client, store, nil, DefaultConfig(), t.TempDir())

	_, err := d.Start(context.Background(), "job2", Request{
		Filename: "x.mp3", Size: 1000, OutputPath: filepath.Join(t.TempDir(), "x.mp3"),
	})
	if err == nil {
		t.Fatal("expected error for empty sources")
	}
	if k, ok := types.KindOf(err); !ok || k != types.ErrNoVerifiedSources {
		t.Fatalf("expected ErrNoVerifiedSources, got %v", err)
	}
}

func TestDownloaderSingleSourceFails(t *testing.T) {
	client := newFakeSwarmClient()
	client.blobs["peerA"] = []byte("x")
	store := openSwarmStore(t)
	d := New(client, store, nil, DefaultConfig(), t.TempDir())

	_, err := d.Start(context.Background(), "job2b", Request{
		Filename: "x.mp3", Size: 1000, Sources: []string{"peerA"}, OutputPath: filepath.Join(t.TempDir(), "x.mp3"),
	})
	if err == nil {
		t.Fatal("expected error for a single-source swarm")
	}
	if k, ok := types.KindOf(err); !ok || k != types.ErrNoVerifiedSources {
		t.Fatalf("expected ErrNoVerifiedSources, got %v", err)
	}
}

func TestDownloaderRetriesWithProvenPeerAfterFailure(t *testing.T) {
	content := bytes.Repeat([]byte{0x11}, 50_000)
	client := newFakeSwarmClient()
	client.blobs["good"] = content
	client.failAll["bad"] = true

	store := openSwarmStore(t)
	outputPath := filepath.Join(t.TempDir(), "out.mp3")

	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 1
	d := New(client, store, nil, cfg, t.TempDir())

	job, err := d.Start(context.Background(), "job3", Request{
		Filename:   "out.mp3",
		Size:       int64(len(content)),
		Sources:    []string{"bad", "good"},
		ChunkSize:  20_000,
		OutputPath: outputPath,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForTerminal(t, job)

	if job.State() != StateCompleted {
		t.Fatalf("expected StateCompleted despite one bad peer, got %v (err=%v)", job.State(), job.Err())
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("assembled content mismatch")
	}
}

func waitForTerminal(t *testing.T, job *Job) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		switch job.State() {
		case StateCompleted, StateFailed:
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job did not reach a terminal state in time, last state=%v", job.State())
		case <-time.After(2 * time.Millisecond):
		}
	}
}
