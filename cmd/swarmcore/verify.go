package main

import (
	"context"
	"fmt"

	"github.com/soulmesh/swarmcore/core"
	"github.com/spf13/cobra"
)

type verifyOptions struct {
	dbPath   string
	sizeStr  string
	peers    []string
	clientID string
	scratch  string
}

// newVerifyCmd exercises ContentVerification alone: probe every --peer
// candidate for filename and report how they group by fingerprint.
func newVerifyCmd() *cobra.Command {
	opts := &verifyOptions{
		dbPath:   "./swarmcore.db",
		clientID: "cli-node",
	}

	cmd := &cobra.Command{
		Use:   "verify <filename>",
		Short: "Probe candidate peers and group them by agreeing fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runVerify(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the HashDB file")
	cmd.Flags().StringVar(&opts.sizeStr, "size", "", "Declared file size (e.g., 10M, 1G)")
	cmd.Flags().StringArrayVar(&opts.peers, "peer", nil, "peerID=/path/to/dir, repeatable")
	cmd.Flags().StringVar(&opts.clientID, "client-id", opts.clientID, "This node's identity")
	cmd.Flags().StringVar(&opts.scratch, "scratch-dir", "", "SwarmDownload scratch directory (defaults to a temp dir)")

	return cmd
}

func runVerify(filename string, opts *verifyOptions) error {
	size, err := parseSize(opts.sizeStr)
	if err != nil {
		return fmt.Errorf("invalid --size: %w", err)
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

	res, err := c.FindVerifiedSources(context.Background(), filename, size, peerIDs(roots))
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if len(res.Groups) == 0 {
		fmt.Println("no candidate produced a usable fingerprint")
	}
	for key, group := range res.Groups {
		fmt.Printf("group %s: %d source(s)\n", key, len(group))
		for _, src := range group {
			fmt.Printf("  %s (latency %s, fast-path=%v)\n", src.PeerID, src.Latency, src.FastPath)
		}
	}
	for _, f := range res.Failures {
		fmt.Printf("failed: %s: %s: %v\n", f.PeerID, f.Kind, f.Err)
	}

	if _, sources, ok := res.BestGroup(); ok {
		fmt.Printf("best group has %d agreeing source(s)\n", len(sources))
	}
	return nil
}

// openDemoCore wires a core.Core with the localDirClient reference
// transport and no mesh dialer or idle checker, the shape every single-node
// demo subcommand shares.
func openDemoCore(dbPath string, roots map[string]string, clientID, scratch string) (*core.Core, error) {
	if scratch == "" {
		scratch = defaultScratchDir()
	}
	client := newLocalDirClient(roots)
	return core.Open(dbPath, core.Deps{
		Client:     client,
		ClientID:   clientID,
		ScratchDir: scratch,
	}, core.DefaultConfig())
}
