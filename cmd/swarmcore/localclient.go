package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/transferclient"
)

// localDirClient is a reference transferclient.Client backed by a set of
// local directories, one per simulated peer ID. It exists only to exercise
// CoreAPI end to end from the CLI demo; the real file-sharing transport is
// host-supplied and out of scope (spec §1's Non-goals), the same way
// teacher's cache.Open stands in for a real network cache during tests.
type localDirClient struct {
	roots map[string]string // peerID -> directory
}

func newLocalDirClient(roots map[string]string) *localDirClient {
	return &localDirClient{roots: roots}
}

func (c *localDirClient) Search(ctx context.Context, query string, handler transferclient.SearchHandler, opts transferclient.SearchOptions) error {
	for peerID, root := range c.roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		var files []transferclient.SearchResultFile
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, transferclient.SearchResultFile{Path: e.Name(), Size: info.Size()})
		}
		if len(files) > 0 {
			handler(transferclient.SearchResult{PeerID: peerID, Files: files})
		}
	}
	return nil
}

func (c *localDirClient) Download(ctx context.Context, peerID, remotePath string, sink io.Writer, declaredSize, startOffset int64, opts transferclient.DownloadOptions) (int64, error) {
	root, ok := c.roots[peerID]
	if !ok {
		return 0, types.NewError(types.ErrTransportError, "unknown peer: "+peerID)
	}
	f, err := os.Open(filepath.Join(root, remotePath))
	if err != nil {
		return 0, types.WrapError(types.ErrTransportError, "open local file", err)
	}
	defer f.Close()

	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			return 0, types.WrapError(types.ErrTransportError, "seek local file", err)
		}
	}
	n, err := io.Copy(sink, f)
	if err != nil {
		return n, types.WrapError(types.ErrTransportError, "read local file", err)
	}
	return n, nil
}

func (c *localDirClient) PeerAttributes(peerID string) (transferclient.PeerAttributes, bool) {
	_, ok := c.roots[peerID]
	return transferclient.PeerAttributes{FreeSlot: true}, ok
}
