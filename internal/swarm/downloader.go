// Package swarm implements SwarmDownload: chunked, multi-peer parallel
// download from an already-verified set of sources, with slow-peer cycling,
// per-worker failure tolerance, proven-source retry rounds, atomic assembly,
// and final-hash verification (spec §4.3). Concurrency follows the same
// worker-pool-plus-shared-queue shape dupedog's internal/verifier uses for
// file hashing, adapted from a fixed local worker count to one worker per
// network source.
package swarm

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/soulmesh/swarmcore/internal/fingerprint"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/transferutil"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/transferclient"
)

// Config holds the tunables spec §4.3/§6 name under the swarm.* keys.
type Config struct {
	DefaultChunkSize       int64
	MinWorkerBps           int64
	SlowWindow             time.Duration
	MaxConsecutiveFailures int
	MaxRetryRounds         int
	RetrySemaphore         int
}

// DefaultConfig returns the defaults spec §4.3 states explicitly.
func DefaultConfig() Config {
	return Config{
		DefaultChunkSize:       1 << 20,
		MinWorkerBps:           5 * 1024,
		SlowWindow:             15 * time.Second,
		MaxConsecutiveFailures: 3,
		MaxRetryRounds:         3,
		RetrySemaphore:         10,
	}
}

// Downloader drives SwarmDownload jobs against an external transferclient,
// publishing successful results into HashDB.
type Downloader struct {
	client     transferclient.Client
	store      *hashdb.Store
	events     chan<- types.Event
	cfg        Config
	scratchDir string
}

// New builds a Downloader. scratchDir holds per-job chunk subdirectories and
// is created on demand; events may be nil.
func New(client transferclient.Client, store *hashdb.Store, events chan<- types.Event, cfg Config, scratchDir string) *Downloader {
	return &Downloader{client: client, store: store, events: events, cfg: cfg, scratchDir: scratchDir}
}

// Start plans chunks for req and launches the job in the background,
// returning immediately with a Job the caller can poll.
func (d *Downloader) Start(ctx context.Context, id string, req Request) (*Job, error) {
	if len(req.Sources) < 2 {
		return nil, types.NewError(types.ErrNoVerifiedSources, "fewer than 2 verified sources for "+req.Filename)
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = d.cfg.DefaultChunkSize
	}
	eff := effectiveChunkSize(req.Size, chunkSize, len(req.Sources))
	ranges := planChunks(req.Size, eff)

	job := newJob(id, req, len(ranges))
	go d.run(ctx, job, req, ranges)
	return job, nil
}

func (d *Downloader) run(ctx context.Context, job *Job, req Request, ranges []chunkRange) {
	job.setState(StateDownloading)

	scratch := filepath.Join(d.scratchDir, job.ID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		job.fail(types.WrapError(types.ErrStoreError, "create scratch directory", err))
		return
	}
	defer os.RemoveAll(scratch)

	tracker := newChunkTracker(len(ranges))

	var provenMu sync.Mutex
	proven := map[string]bool{}
	markProven := func(p string) { provenMu.Lock(); proven[p] = true; provenMu.Unlock() }

	var unusableMu sync.Mutex
	unusable := map[string]bool{}
	markUnusable := func(p string) { unusableMu.Lock(); unusable[p] = true; unusableMu.Unlock() }
	isUnusable := func(p string) bool { unusableMu.Lock(); defer unusableMu.Unlock(); return unusable[p] }

	d.runRound(ctx, job, req, scratch, ranges, tracker, req.Sources, nil, markProven, markUnusable)

	for round := 0; round < d.cfg.MaxRetryRounds && tracker.remainingCount() > 0; round++ {
		provenMu.Lock()
		var peers []string
		for p := range proven {
			if !isUnusable(p) {
				peers = append(peers, p)
			}
		}
		provenMu.Unlock()
		if len(peers) == 0 {
			break
		}
		sem := types.NewSemaphore(d.cfg.RetrySemaphore)
		d.runRound(ctx, job, req, scratch, ranges, tracker, peers, sem, markProven, markUnusable)
	}

	if tracker.remainingCount() > 0 {
		job.fail(types.NewError(types.ErrChunkExhaustion, "chunks remained unacquired after all retry rounds"))
		return
	}

	job.setState(StateAssembling)
	outputPath, err := d.assemble(req, scratch, ranges)
	if err != nil {
		job.fail(err)
		return
	}

	job.setState(StateVerifyingFinal)
	if err := d.finalizeAndPublish(job, req, outputPath); err != nil {
		job.fail(err)
		return
	}
}

// runRound drives one pass of the shared-queue dispatch model over peers,
// bounded by sem if non-nil (used for proven-source retry rounds; round one
// passes nil since it is already naturally bounded by len(peers)).
func (d *Downloader) runRound(ctx context.Context, job *Job, req Request, scratch string, ranges []chunkRange, tracker *chunkTracker, peers []string, sem types.Semaphore, markProven, markUnusable func(string)) {
	indices := tracker.remainingIndices(len(ranges))
	if len(indices) == 0 || len(peers) == 0 {
		return
	}
	queue := newChunkQueue(indices)

	stop := make(chan struct{})
	go watchAndClose(queue, tracker, stop)

	var wg sync.WaitGroup
	for _, peerID := range peers {
		peerID := peerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sem != nil {
				sem.Acquire()
				defer sem.Release()
			}
			d.worker(ctx, job, req, scratch, ranges, queue, tracker, peerID, markProven, markUnusable)
		}()
	}
	wg.Wait()
	close(stop)
	queue.Close()
}

// watchAndClose closes queue as soon as every chunk is accounted for, so
// workers blocked in Pop on an empty-but-not-yet-closed queue wake up
// instead of waiting forever for a chunk that will never arrive. A short
// poll is simpler and plenty fast enough for a round-completion signal.
func watchAndClose(queue *chunkQueue, tracker *chunkTracker, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if tracker.remainingCount() == 0 {
				queue.Close()
				return
			}
		}
	}
}

func (d *Downloader) worker(ctx context.Context, job *Job, req Request, scratch string, ranges []chunkRange, queue *chunkQueue, tracker *chunkTracker, peerID string, markProven, markUnusable func(string)) {
	job.Progress.ActiveWorkers.Add(1)
	defer job.Progress.ActiveWorkers.Add(-1)

	consecutiveFailures := 0
	for {
		idx, ok := queue.Pop()
		if !ok {
			return
		}
		if tracker.isDone(idx) {
			continue
		}

		job.Progress.ActiveChunks.Add(1)
		outcome := d.downloadChunk(ctx, job, req, scratch, ranges[idx], idx, peerID)
		job.Progress.ActiveChunks.Add(-1)

		switch outcome {
		case outcomeSuccess:
			consecutiveFailures = 0
			tracker.markDone(idx)
			job.Progress.CompletedChunks.Add(1)
			markProven(peerID)
		case outcomeSlow:
			// Cool-down: re-queue at the front and sit out the rest of this
			// round rather than immediately retrying the same slow peer.
			queue.PushFront(idx)
			return
		case outcomeRejected:
			// Partial-range rejection disqualifies the peer but must not
			// poison the chunk itself.
			queue.PushBack(idx)
			markUnusable(peerID)
			return
		default:
			queue.PushBack(idx)
			consecutiveFailures++
			if consecutiveFailures >= d.cfg.MaxConsecutiveFailures {
				markUnusable(peerID)
				return
			}
		}
	}
}

type chunkOutcome int

const (
	outcomeFailure chunkOutcome = iota
	outcomeSuccess
	outcomeSlow
	outcomeRejected
)

func (d *Downloader) downloadChunk(ctx context.Context, job *Job, req Request, scratch string, r chunkRange, idx int, peerID string) chunkOutcome {
	f, err := os.Create(chunkPath(scratch, idx))
	if err != nil {
		types.Emit(d.events, types.Event{Kind: types.EventError, Component: "swarm", Message: peerID, Err: err})
		return outcomeFailure
	}
	defer f.Close()

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	want := r.len()
	pw := &progressWriter{w: f, job: job}
	bw := transferutil.NewBoundedWriter(pw, want, cancel)

	done := make(chan error, 1)
	go func() {
		_, derr := d.client.Download(chunkCtx, peerID, req.Filename, bw, req.Size, r.Start, transferclient.DownloadOptions{})
		done <- derr
	}()

	ticker := time.NewTicker(d.cfg.SlowWindow)
	defer ticker.Stop()
	lastN := int64(0)

	for {
		select {
		case err := <-done:
			if err != nil && err != io.EOF {
				if classifyChunkError(chunkCtx, err) == types.ErrRemoteRejected {
					return outcomeRejected
				}
				return outcomeFailure
			}
			if bw.N() != want {
				return outcomeFailure
			}
			return outcomeSuccess
		case <-ticker.C:
			n := bw.N()
			gained := n - lastN
			lastN = n
			bps := float64(gained) / d.cfg.SlowWindow.Seconds()
			if bps < float64(d.cfg.MinWorkerBps) {
				cancel()
				<-done
				return outcomeSlow
			}
		}
	}
}

// progressWriter folds bytes flowing into a chunk file into the job's
// BytesDownloaded counter without the chunk writer needing to know about it.
type progressWriter struct {
	w   io.Writer
	job *Job
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.job.Progress.BytesDownloaded.Add(int64(n))
	}
	return n, err
}

func classifyChunkError(ctx context.Context, err error) types.ErrorKind {
	if k, ok := types.KindOf(err); ok {
		return k
	}
	if ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled {
		return types.ErrTimeout
	}
	return types.ErrTransportError
}

func chunkPath(scratch string, idx int) string {
	return filepath.Join(scratch, fmt.Sprintf("chunk-%06d", idx))
}

// assemble concatenates completed chunk files into output_path, failing
// atomically: any I/O error leaves no partially renamed target.
func (d *Downloader) assemble(req Request, scratch string, ranges []chunkRange) (string, error) {
	dir := filepath.Dir(req.OutputPath)
	tmp, err := os.CreateTemp(dir, ".swarmcore-assemble-*")
	if err != nil {
		return "", types.WrapError(types.ErrStoreError, "create assembly temp file", err)
	}
	tmpPath := tmp.Name()

	for idx := range ranges {
		if err := appendChunk(tmp, chunkPath(scratch, idx)); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", types.WrapError(types.ErrStoreError, "assemble chunk", err)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", types.WrapError(types.ErrStoreError, "close assembly temp file", err)
	}
	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		os.Remove(tmpPath)
		return "", types.WrapError(types.ErrStoreError, "rename assembled file into place", err)
	}
	return req.OutputPath, nil
}

func appendChunk(dst *os.File, chunkFilePath string) error {
	src, err := os.Open(chunkFilePath)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// finalizeAndPublish computes the assembled file's full-file SHA-256
// (always recorded) and, separately, its canonical fingerprint, comparing
// it against req.ExpectedFingerprint when one was supplied (spec §4.3: for
// Sha256Prefix fingerprints this is a prefix hash, not the full-file SHA).
// On success it publishes the fingerprint into HashDB tagged source=download.
func (d *Downloader) finalizeAndPublish(job *Job, req Request, outputPath string) error {
	f, err := os.Open(outputPath)
	if err != nil {
		return types.WrapError(types.ErrStoreError, "open assembled file for verification", err)
	}
	defer f.Close()

	fullHash := sha256.New()
	if _, err := io.Copy(fullHash, f); err != nil {
		return types.WrapError(types.ErrStoreError, "hash assembled file", err)
	}
	fullSum := fullHash.Sum(nil)

	n := fingerprint.MinimumPrefixBytes(req.Filename)
	if n > req.Size {
		n = req.Size
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return types.WrapError(types.ErrStoreError, "seek assembled file", err)
	}
	prefix := make([]byte, n)
	if _, err := io.ReadFull(f, prefix); err != nil {
		return types.WrapError(types.ErrStoreError, "read assembled file prefix", err)
	}

	kind, fp, _, ferr := fingerprint.Fingerprint(prefix, req.Filename, req.Size)
	if ferr != nil {
		return ferr
	}

	if len(req.ExpectedFingerprint) > 0 && !bytes.Equal(fp, req.ExpectedFingerprint) {
		return types.NewError(types.ErrFinalHashMismatch, "assembled file fingerprint does not match expected")
	}

	job.complete(fullSum)

	key := fingerprint.Key(path.Base(req.Filename), req.Size)
	if _, err := d.store.StoreFingerprint(key, kind, fp, req.Size, 0, types.SourceDownload, time.Now()); err != nil {
		types.Emit(d.events, types.Event{Kind: types.EventError, Component: "swarm", Message: "publish fingerprint", Err: err})
	}
	return nil
}
