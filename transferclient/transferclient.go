// Package transferclient declares the interface the core depends on to talk
// to the underlying file-sharing network: search, byte-range-capable
// download, and basic peer attributes. The core never implements this
// network itself (spec §1's Non-goals) — the hosting application supplies a
// concrete Client, the way dupedog's pipeline stages are parameterized over
// a *cache.Cache the caller opens and owns.
package transferclient

import (
	"context"
	"io"
	"time"
)

// SearchResultFile describes one file a peer offers in response to a search.
type SearchResultFile struct {
	Path       string
	Size       int64
	CodecHints map[string]string
}

// SearchResult is one peer's response to a search query.
type SearchResult struct {
	PeerID string
	Files  []SearchResultFile
}

// SearchHandler receives search results as they stream in.
type SearchHandler func(SearchResult)

// SearchOptions bounds a search call.
type SearchOptions struct {
	Timeout time.Duration
}

// DownloadOptions tunes a single download/probe call.
type DownloadOptions struct {
	Timeout time.Duration
}

// PeerAttributes is a peer's current transport-level state.
type PeerAttributes struct {
	FreeSlot       bool
	QueueLength    int
	UploadSpeedBps int64
}

// Client is the external, host-supplied collaborator that performs all
// actual network I/O against the file-sharing mesh. Every method may block
// until ctx is done; downstream components always call these with a
// cancellable context derived from the operation they're part of.
type Client interface {
	// Search streams matching peers/files to handler. Returns once the
	// search completes, times out, or ctx is cancelled.
	Search(ctx context.Context, query string, handler SearchHandler, opts SearchOptions) error

	// Download requests the bytes of remotePath from startOffset onward from
	// peerID, writing them to sink. The call takes no length; callers cap
	// how many bytes they keep with a bounded writer as sink. declaredSize
	// is the peer's advertised full file size, used by implementations that
	// need it to validate the range. Implementations that cannot honor a
	// non-zero startOffset must fail fast rather than silently starting
	// from zero.
	//
	// Returns the number of bytes actually written to sink and an error, if
	// any. Callers treat a RemoteRejected-shaped error for startOffset > 0
	// as "this peer doesn't support partial range", not a fatal condition.
	Download(ctx context.Context, peerID, remotePath string, sink io.Writer, declaredSize, startOffset int64, opts DownloadOptions) (int64, error)

	// PeerAttributes returns what the transport currently knows about a
	// peer's transfer capacity. ok is false if the peer is unknown.
	PeerAttributes(peerID string) (attrs PeerAttributes, ok bool)
}
