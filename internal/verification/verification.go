// Package verification implements ContentVerification: concurrent
// bounded-prefix probing of candidate peers, grouped by the resulting
// fingerprint. It follows the same shape as dupedog's internal/verifier —
// isolated per-candidate work items, a non-blocking event channel for
// observability, a HashDB fast-path for already-known peers — adapted from
// file-local progressive hashing to network peer probing.
package verification

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"path"
	"sync"
	"time"

	"github.com/soulmesh/swarmcore/internal/fingerprint"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/transferutil"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/transferclient"
)

// DefaultProbeTimeout bounds a single peer's bounded-prefix probe when the
// caller does not override it in Request.Timeout.
const DefaultProbeTimeout = 10 * time.Second

// Request describes one ContentVerification round (spec §4.2).
type Request struct {
	Filename   string
	Size       int64
	Candidates []string
	Timeout    time.Duration
}

// SourceResult is one peer's successful probe outcome within a fingerprint group.
type SourceResult struct {
	PeerID   string
	Latency  time.Duration
	FastPath bool // true if this peer was attributed via the HashDB short-circuit, not an actual probe
}

// Failure records why a candidate did not land in any group.
type Failure struct {
	PeerID string
	Kind   types.ErrorKind
	Err    error
}

// Result is the output of a ContentVerification round: candidates grouped by
// the fingerprint their probe produced, keyed as kind ":" hex-fingerprint,
// plus isolated failures.
// Within each group, sources are ordered by ascending probe latency.
type Result struct {
	Groups   map[string][]SourceResult
	Failures []Failure
}

// BestGroup returns the group with the most sources, ties broken by the
// lowest median probe latency (spec §4.2). ok is false if Result has no
// groups at all.
func (r *Result) BestGroup() (fingerprintHex string, sources []SourceResult, ok bool) {
	bestCount := -1
	var bestMedian time.Duration
	for key, grp := range r.Groups {
		m := medianLatency(grp)
		if len(grp) > bestCount || (len(grp) == bestCount && m < bestMedian) {
			bestCount = len(grp)
			bestMedian = m
			fingerprintHex = key
			sources = grp
			ok = true
		}
	}
	return
}

func medianLatency(sources []SourceResult) time.Duration {
	if len(sources) == 0 {
		return 0
	}
	sorted := types.NewSorted(sources, func(s SourceResult) time.Duration { return s.Latency })
	items := sorted.Items()
	return items[len(items)/2].Latency
}

// Verifier drives ContentVerification against an external transferclient and
// a local HashDB.
type Verifier struct {
	client transferclient.Client
	store  *hashdb.Store
	events chan<- types.Event
}

// New builds a Verifier. events may be nil; sends to it are non-blocking.
func New(client transferclient.Client, store *hashdb.Store, events chan<- types.Event) *Verifier {
	return &Verifier{client: client, store: store, events: events}
}

type probeOutcome struct {
	peerID  string
	source  SourceResult
	kind    types.FingerprintKind
	fp      []byte
	failure *Failure
}

// Verify probes every candidate in req concurrently and groups them by the
// resulting fingerprint. Each probe is isolated: one candidate's failure or
// timeout never aborts the others.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	n := fingerprint.MinimumPrefixBytes(req.Filename)
	if req.Size < n {
		res := &Result{Groups: map[string][]SourceResult{}}
		for _, peer := range req.Candidates {
			res.Failures = append(res.Failures, Failure{
				PeerID: peer,
				Kind:   types.ErrFileTooSmallForVerification,
				Err:    types.NewError(types.ErrFileTooSmallForVerification, req.Filename),
			})
		}
		return res, nil
	}
	if n > req.Size {
		n = req.Size
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	basename := path.Base(req.Filename)
	shortCircuit, haveGlobal, serr := v.store.LookupFingerprint(fingerprint.Key(basename, req.Size))
	if serr != nil {
		return nil, serr
	}

	outcomes := make(chan probeOutcome, len(req.Candidates))
	var wg sync.WaitGroup
	for _, peerID := range req.Candidates {
		peerID := peerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- v.probeOne(ctx, peerID, req.Filename, req.Size, n, timeout, basename, shortCircuit, haveGlobal)
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	res := &Result{Groups: map[string][]SourceResult{}}
	for o := range outcomes {
		if o.failure != nil {
			res.Failures = append(res.Failures, *o.failure)
			types.Emit(v.events, types.Event{Kind: types.EventError, Component: "verification", Message: o.peerID, Err: o.failure.Err})
			continue
		}
		key := string(o.kind) + ":" + hex.EncodeToString(o.fp)
		res.Groups[key] = append(res.Groups[key], o.source)
	}
	for key, group := range res.Groups {
		res.Groups[key] = types.NewSorted(group, func(s SourceResult) time.Duration { return s.Latency }).Items()
	}
	return res, nil
}

func (v *Verifier) probeOne(ctx context.Context, peerID, filename string, size, n int64, timeout time.Duration, basename string, shortCircuit *types.FingerprintEntry, haveGlobal bool) probeOutcome {
	if haveGlobal {
		fileID := hashdb.FileID(peerID, filename, size)
		if inv, ok, err := v.store.GetInventory(fileID); err == nil && ok {
			if inv.Status == types.InventoryKnown && bytes.Equal(inv.Fingerprint, shortCircuit.Fingerprint) {
				return probeOutcome{
					peerID: peerID,
					source: SourceResult{PeerID: peerID, Latency: 0, FastPath: true},
					kind:   shortCircuit.Kind,
					fp:     shortCircuit.Fingerprint,
				}
			}
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	buf := &bytes.Buffer{}
	bw := transferutil.NewBoundedWriter(buf, n, cancel)

	_, err := v.client.Download(probeCtx, peerID, filename, bw, size, 0, transferclient.DownloadOptions{Timeout: timeout})
	latency := time.Since(start)

	if err != nil && err != io.EOF {
		kind := classifyProbeError(probeCtx, err)
		return probeOutcome{peerID: peerID, failure: &Failure{PeerID: peerID, Kind: kind, Err: err}}
	}

	kind, fp, _, ferr := fingerprint.Fingerprint(buf.Bytes(), filename, size)
	if ferr != nil {
		k, _ := types.KindOf(ferr)
		if k == "" {
			k = types.ErrMalformedHeader
		}
		return probeOutcome{peerID: peerID, failure: &Failure{PeerID: peerID, Kind: k, Err: ferr}}
	}

	return probeOutcome{
		peerID: peerID,
		source: SourceResult{PeerID: peerID, Latency: latency},
		kind:   kind,
		fp:     fp,
	}
}

func classifyProbeError(ctx context.Context, err error) types.ErrorKind {
	if k, ok := types.KindOf(err); ok {
		return k
	}
	if ctx.Err() == context.DeadlineExceeded {
		return types.ErrTimeout
	}
	return types.ErrTransportError
}
