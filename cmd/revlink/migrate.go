package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/godeps/revlink/pkg/snapshot"
)

func newMigrateCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "migrate <snapshot.json>",
		Short: "Migrate an older snapshot file to the current schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snap, err := snapshot.Validate(raw)
			if err != nil {
				return err
			}
			if output == "" {
				data, err := snap.Encode()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			if err := snapshot.Save(output, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote v%d snapshot to %s\n", snap.SchemaVersion, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the migrated snapshot to this path (default: stdout)")
	return cmd
}
