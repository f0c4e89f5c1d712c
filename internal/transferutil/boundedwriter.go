// Package transferutil holds small helpers shared by ContentVerification and
// SwarmDownload for driving transferclient.Client, the way dupedog's
// verifier and deduper both lean on internal/progress without either owning
// it.
package transferutil

import (
	"context"
	"io"
	"sync/atomic"
)

// BoundedWriter wraps a sink so that at most limit bytes are ever written to
// it. Once the bound is reached it stops accepting bytes and, if a cancel
// func was supplied, cancels the producer — this is how a chunk/probe
// download is carved out of a transport that historically only knows how to
// send a whole file (spec §4.3).
type BoundedWriter struct {
	w       io.Writer
	limit   int64
	written atomic.Int64
	cancel  context.CancelFunc
}

// NewBoundedWriter returns a BoundedWriter accepting at most limit bytes.
// cancel may be nil if the caller has no way (or need) to cancel the
// producer once the bound is reached.
func NewBoundedWriter(w io.Writer, limit int64, cancel context.CancelFunc) *BoundedWriter {
	return &BoundedWriter{w: w, limit: limit, cancel: cancel}
}

// Write implements io.Writer, truncating at the byte bound and reporting
// io.EOF once no more bytes will be accepted so upstream io.Copy-style loops
// stop cleanly instead of spinning.
func (b *BoundedWriter) Write(p []byte) (int, error) {
	already := b.written.Load()
	if already >= b.limit {
		b.trigger()
		return 0, io.EOF
	}

	remaining := b.limit - already
	truncated := false
	if int64(len(p)) > remaining {
		p = p[:remaining]
		truncated = true
	}

	n, err := b.w.Write(p)
	if n > 0 {
		b.written.Add(int64(n))
	}
	if err != nil {
		return n, err
	}
	if truncated || b.written.Load() >= b.limit {
		b.trigger()
		return n, io.EOF
	}
	return n, nil
}

// N reports the number of bytes written so far. Safe to call concurrently
// with Write, for slow-peer throughput monitoring.
func (b *BoundedWriter) N() int64 { return b.written.Load() }

// Bound reports the configured byte limit.
func (b *BoundedWriter) Bound() int64 { return b.limit }

func (b *BoundedWriter) trigger() {
	if b.cancel != nil {
		b.cancel()
	}
}
