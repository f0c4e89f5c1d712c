package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// defaultScratchDir returns a process-local temp directory for
// SwarmDownload's in-flight chunks, used when --scratch-dir is omitted.
func defaultScratchDir() string {
	return filepath.Join(os.TempDir(), "swarmcore-scratch")
}

// parseSize parses a human-readable size string into bytes, the same
// humanize.ParseBytes call teacher's parseSize wraps for --min-size.
func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// parsePeerDirs turns repeated "peerID=/path/to/dir" flag values into a
// peerID -> directory map for localDirClient.
func parsePeerDirs(values []string) (map[string]string, error) {
	roots := make(map[string]string, len(values))
	for _, v := range values {
		idx := strings.Index(v, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("invalid --peer value %q, want peerID=/path", v)
		}
		roots[v[:idx]] = v[idx+1:]
	}
	return roots, nil
}

func peerIDs(roots map[string]string) []string {
	ids := make([]string, 0, len(roots))
	for id := range roots {
		ids = append(ids, id)
	}
	return ids
}
