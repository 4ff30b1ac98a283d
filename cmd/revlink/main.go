// revlink serves a live binary-analysis workspace to MCP clients and ships
// helper commands for the snapshot contract.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "revlink",
		Short:         "revlink: MCP coordination layer for a live analysis workspace",
		Long:          "revlink binds an MCP tool server to the analysis workspace owned by a host GUI, serializing reads and mutations through one session handle and managing versioned state snapshots.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
