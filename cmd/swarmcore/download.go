package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/soulmesh/swarmcore/internal/swarm"
	"github.com/soulmesh/swarmcore/internal/types"
	"github.com/soulmesh/swarmcore/internal/progress"
	"github.com/spf13/cobra"
)

type downloadOptions struct {
	dbPath     string
	sizeStr    string
	chunkStr   string
	peers      []string
	output     string
	clientID   string
	scratch    string
	noProgress bool
}

// newDownloadCmd runs ContentVerification followed by SwarmDownload end to
// end: probe every --peer, pick the best-agreeing group, and swarm-download
// from it to --output.
func newDownloadCmd() *cobra.Command {
	opts := &downloadOptions{
		dbPath:   "./swarmcore.db",
		clientID: "cli-node",
	}

	cmd := &cobra.Command{
		Use:   "download <filename>",
		Short: "Verify candidate peers, then swarm-download the agreed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDownload(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the HashDB file")
	cmd.Flags().StringVar(&opts.sizeStr, "size", "", "Declared file size (e.g., 10M, 1G)")
	cmd.Flags().StringVar(&opts.chunkStr, "chunk-size", "", "Chunk size override (e.g., 1M)")
	cmd.Flags().StringArrayVar(&opts.peers, "peer", nil, "peerID=/path/to/dir, repeatable")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output path for the assembled file")
	cmd.Flags().StringVar(&opts.clientID, "client-id", opts.clientID, "This node's identity")
	cmd.Flags().StringVar(&opts.scratch, "scratch-dir", "", "SwarmDownload scratch directory")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

func runDownload(filename string, opts *downloadOptions) error {
	size, err := parseSize(opts.sizeStr)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
	}
	var chunkSize int64
	if opts.chunkStr != "" {
		chunkSize, err = parseSize(opts.chunkStr)
		if err != nil {
			return fmt.Errorf("invalid --chunk-size: %w", err)
		}
	}
	if opts.output == "" {
		return fmt.Errorf("--output is required")
	}

	roots, err := parsePeerDirs(opts.peers)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("at least one --peer is required")
	}

	c, err := openDemoCore(opts.dbPath, roots, opts.clientID, opts.scratch)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx := context.Background()
	res, err := c.FindVerifiedSources(ctx, filename, size, peerIDs(roots))
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	groupKey, sources, ok := res.BestGroup()
	if !ok {
		return fmt.Errorf("no candidate agreed on a fingerprint for %s", filename)
	}
	kind, fp, err := parseGroupKey(groupKey)
	if err != nil {
		return err
	}

	peerIDsForDownload := make([]string, len(sources))
	for i, s := range sources {
		peerIDsForDownload[i] = s.PeerID
	}

	job, err := c.StartSwarm(ctx, filename+"-job", swarm.Request{
		Filename:            filename,
		Size:                size,
		ExpectedFingerprint: fp,
		ExpectedKind:        kind,
		Sources:             peerIDsForDownload,
		ChunkSize:           chunkSize,
		OutputPath:          opts.output,
	})
	if err != nil {
		return fmt.Errorf("start swarm: %w", err)
	}

	bar := progress.New(!opts.noProgress, size)
	for {
		state, snap, jobErr := c.JobStatus(job)
		bar.Set(uint64(snap.BytesDownloaded))
		switch state {
		case swarm.StateCompleted:
			bar.Finish(statusMessage{filename})
			fmt.Printf("downloaded %s (%s) to %s\n", filename, humanize.Bytes(uint64(size)), opts.output)
			return nil
		case swarm.StateFailed:
			return fmt.Errorf("swarm download failed: %w", jobErr)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

type statusMessage struct{ filename string }

func (s statusMessage) String() string { return "downloaded " + s.filename }

// parseGroupKey reverses verification.Result.Groups' key encoding
// (kind ":" hex-fingerprint) back into its typed parts.
func parseGroupKey(groupKey string) (types.FingerprintKind, []byte, error) {
	idx := strings.LastIndex(groupKey, ":")
	if idx < 0 {
		return "", nil, fmt.Errorf("malformed fingerprint group key %q", groupKey)
	}
	fp, err := hex.DecodeString(groupKey[idx+1:])
	if err != nil {
		return "", nil, fmt.Errorf("decode fingerprint in group key %q: %w", groupKey, err)
	}
	return types.FingerprintKind(groupKey[:idx]), fp, nil
}
