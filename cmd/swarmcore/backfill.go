package main

import (
	"context"
	"fmt"
	"time"

	"github.com/soulmesh/swarmcore/core"
	"github.com/spf13/cobra"
)

type backfillOptions struct {
	dbPath   string
	idleStr  string
	peers    []string
	clientID string
}

// fixedIdle reports a constant idle duration, standing in for a real
// host-supplied input-activity monitor.
type fixedIdle struct{ d time.Duration }

func (f fixedIdle) IdleSeconds() time.Duration { return f.d }

// newBackfillCycleCmd runs one Backfill cycle against whatever inventory
// rows already exist in the HashDB, using --peer directories as the probe
// transport for any candidate it selects.
func newBackfillCycleCmd() *cobra.Command {
	opts := &backfillOptions{
		dbPath:   "./swarmcore.db",
		idleStr:  "10m",
		clientID: "cli-node",
	}

	cmd := &cobra.Command{
		Use:   "backfill-cycle",
		Short: "Run one opportunistic Backfill probing cycle",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runBackfillCycle(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to the HashDB file")
	cmd.Flags().StringVar(&opts.idleStr, "idle", opts.idleStr, "Simulated local-input idle duration (e.g., 10m)")
	cmd.Flags().StringArrayVar(&opts.peers, "peer", nil, "peerID=/path/to/dir, repeatable")
	cmd.Flags().StringVar(&opts.clientID, "client-id", opts.clientID, "This node's identity")

	return cmd
}

func runBackfillCycle(opts *backfillOptions) error {
	idle, err := time.ParseDuration(opts.idleStr)
	if err != nil {
		return fmt.Errorf("invalid --idle: %w", err)
	}

	roots, err := parsePeerDirs(opts.peers)
	if err != nil {
		return err
	}

	client := newLocalDirClient(roots)
	c, err := core.Open(opts.dbPath, core.Deps{
		Client:     client,
		Idle:       fixedIdle{d: idle},
		ClientID:   opts.clientID,
		ScratchDir: defaultScratchDir(),
	}, core.DefaultConfig())
	if err != nil {
		return fmt.Errorf("open HashDB: %w", err)
	}
	defer c.Close()

	result, err := c.TriggerBackfillCycle(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("backfill cycle: %w", err)
	}

	if result.Skipped {
		fmt.Println("cycle skipped: local input not idle long enough")
		return nil
	}
	fmt.Printf("attempted=%d verified=%d failed=%d\n", result.Attempted, result.Verified, result.Failed)
	return nil
}
