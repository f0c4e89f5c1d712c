package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "swarmcore",
		Short:   "Exercise the swarm/hash-mesh core against local directories",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newVerifyCmd())
	root.AddCommand(newDownloadCmd())
	root.AddCommand(newMeshSyncCmd())
	root.AddCommand(newBackfillCycleCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
