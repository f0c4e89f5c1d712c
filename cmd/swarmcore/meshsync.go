package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/soulmesh/swarmcore/core"
	"github.com/soulmesh/swarmcore/internal/hashdb"
	"github.com/soulmesh/swarmcore/internal/mesh"
	"github.com/spf13/cobra"
)

type meshSyncOptions struct {
	dbPath       string
	remoteDBPath string
	clientID     string
	remoteID     string
}

// newMeshSyncCmd exercises MeshSync without a real network: it opens a
// second local HashDB to stand in for the neighbor, wires an in-process
// mesh.Dialer over net.Pipe the way core_test.go's loopbackDialer does, and
// runs one sync cycle against it.
func newMeshSyncCmd() *cobra.Command {
	opts := &meshSyncOptions{
		dbPath:   "./swarmcore.db",
		clientID: "cli-node",
		remoteID: "remote-node",
	}

	cmd := &cobra.Command{
		Use:   "mesh-sync",
		Short: "Pull fingerprint gossip from a neighbor HashDB",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runMeshSync(opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", opts.dbPath, "Path to this node's HashDB file")
	cmd.Flags().StringVar(&opts.remoteDBPath, "remote-db", "", "Path to the neighbor's HashDB file (required)")
	cmd.Flags().StringVar(&opts.clientID, "client-id", opts.clientID, "This node's identity advertised in HELLO")
	cmd.Flags().StringVar(&opts.remoteID, "remote-id", opts.remoteID, "The neighbor's identity")

	return cmd
}

func runMeshSync(opts *meshSyncOptions) error {
	if opts.remoteDBPath == "" {
		return fmt.Errorf("--remote-db is required")
	}

	remoteStore, err := hashdb.Open(opts.remoteDBPath)
	if err != nil {
		return fmt.Errorf("open remote HashDB: %w", err)
	}
	defer remoteStore.Close()

	cfg := core.DefaultConfig()
	remoteSession := mesh.NewSession(remoteStore, opts.remoteID, cfg.MeshMaxEntriesPerSync, cfg.MeshMaxPairBatches)
	dialer := &pipeDialer{remoteSession: remoteSession}

	c, err := core.Open(opts.dbPath, core.Deps{
		MeshDialer: dialer,
		ClientID:   opts.clientID,
		ScratchDir: defaultScratchDir(),
	}, cfg)
	if err != nil {
		return fmt.Errorf("open local HashDB: %w", err)
	}
	defer c.Close()

	now := time.Now()
	result, err := c.TriggerMeshSync(context.Background(), []string{opts.remoteID}, now)
	if err != nil {
		return fmt.Errorf("mesh sync: %w", err)
	}

	fmt.Printf("attempted=%d merged=%d conflicts=%d\n", result.Attempted, result.Merged, result.Conflicts)
	for _, f := range result.Failures {
		fmt.Printf("failed: %s: %v\n", f.PeerID, f.Err)
	}
	return nil
}

// pipeDialer answers every Dial with one end of a net.Pipe, spinning a
// ServeOne goroutine bound to the fixed remote session on the other end.
type pipeDialer struct {
	remoteSession *mesh.Session
}

func (d *pipeDialer) Dial(_ context.Context, _ string) (mesh.Conn, error) {
	serverConn, clientConn := net.Pipe()
	go func() {
		_ = d.remoteSession.ServeOne(context.Background(), serverConn, time.Now())
	}()
	return clientConn, nil
}
