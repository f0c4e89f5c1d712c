package swarm

import (
	"sync"
	"sync/atomic"

	"github.com/soulmesh/swarmcore/internal/types"
)

// JobState is a SwarmJob's lifecycle state (spec §4.3). Transitions are
// one-way; a Job is never reused once it reaches Completed or Failed.
type JobState string

const (
	StateVerifying      JobState = "verifying"
	StateDownloading    JobState = "downloading"
	StateAssembling     JobState = "assembling"
	StateVerifyingFinal JobState = "verifying-final"
	StateCompleted      JobState = "completed"
	StateFailed         JobState = "failed"
)

// Request is a MultiSourceDownloadRequest: an already-verified set of
// sources (all reporting the same fingerprint) to swarm-download from.
type Request struct {
	Filename            string
	Size                int64
	ExpectedFingerprint []byte
	ExpectedKind        types.FingerprintKind
	Sources             []string
	ChunkSize           int64
	OutputPath          string
}

// Progress holds the atomically-updated counters spec §4.3 requires:
// individually monotonic where stated, read without locking the Job.
type Progress struct {
	BytesDownloaded atomic.Int64
	ActiveChunks    atomic.Int32
	CompletedChunks atomic.Int32
	ActiveWorkers   atomic.Int32
	TotalChunks     int32
}

// ProgressSnapshot is a point-in-time, consistent-enough copy of Progress
// for callers that just want to display numbers.
type ProgressSnapshot struct {
	BytesDownloaded int64
	ActiveChunks    int32
	CompletedChunks int32
	ActiveWorkers   int32
	TotalChunks     int32
}

func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		BytesDownloaded: p.BytesDownloaded.Load(),
		ActiveChunks:    p.ActiveChunks.Load(),
		CompletedChunks: p.CompletedChunks.Load(),
		ActiveWorkers:   p.ActiveWorkers.Load(),
		TotalChunks:     p.TotalChunks,
	}
}

// Job is an in-memory SwarmJob. Mutable state (JobState, error, final hash)
// is guarded by mu; Progress fields are atomics so readers never block a
// worker mid-chunk.
type Job struct {
	ID                  string
	Filename            string
	Size                int64
	ExpectedFingerprint []byte
	ExpectedKind        types.FingerprintKind
	OutputPath          string
	ChunkSize           int64

	Progress *Progress

	mu          sync.Mutex
	state       JobState
	err         error
	finalSHA256 []byte
}

func newJob(id string, req Request, numChunks int) *Job {
	j := &Job{
		ID:                  id,
		Filename:            req.Filename,
		Size:                req.Size,
		ExpectedFingerprint: req.ExpectedFingerprint,
		ExpectedKind:        req.ExpectedKind,
		OutputPath:          req.OutputPath,
		ChunkSize:           req.ChunkSize,
		Progress:            &Progress{TotalChunks: int32(numChunks)},
		state:               StateVerifying,
	}
	return j
}

// State returns the job's current lifecycle state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the terminal error, if the job ended in StateFailed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// FinalSHA256 returns the full-file SHA-256 computed at VerifyingFinal, once
// the job reaches Completed.
func (j *Job) FinalSHA256() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.finalSHA256
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.state = StateFailed
	j.err = err
	j.mu.Unlock()
}

func (j *Job) complete(sha256 []byte) {
	j.mu.Lock()
	j.state = StateCompleted
	j.finalSHA256 = sha256
	j.mu.Unlock()
}
