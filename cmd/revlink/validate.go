package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/godeps/revlink/pkg/snapshot"
	"github.com/godeps/revlink/pkg/watch"
)

type validateSummary struct {
	Valid         bool   `json:"valid"`
	Error         string `json:"error,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Generation    uint64 `json:"generation,omitempty"`
	Renames       int    `json:"renames"`
	Comments      int    `json:"comments"`
	FunctionMeta  int    `json:"function_meta"`
}

func summarize(snap *snapshot.Snapshot, err error) validateSummary {
	if err != nil {
		return validateSummary{Valid: false, Error: err.Error()}
	}
	counts := snap.Counts()
	return validateSummary{
		Valid:         true,
		SchemaVersion: snap.SchemaVersion,
		Generation:    snap.Generation,
		Renames:       counts[snapshot.KindRename],
		Comments:      counts[snapshot.KindComment],
		FunctionMeta:  counts[snapshot.KindFunctionMeta],
	}
}

func newValidateCmd() *cobra.Command {
	var watchMode bool
	cmd := &cobra.Command{
		Use:   "validate <snapshot.json>",
		Short: "Validate a snapshot file against the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if watchMode {
				events := make(chan watch.Event)
				errc := make(chan error, 1)
				go func() { errc <- watch.Watch(cmd.Context(), path, events) }()
				for ev := range events {
					printSummary(cmd, summarize(ev.Snapshot, ev.Err))
				}
				return <-errc
			}
			snap, err := snapshot.Load(path)
			summary := summarize(snap, err)
			printSummary(cmd, summary)
			if !summary.Valid {
				return fmt.Errorf("snapshot invalid")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "re-validate whenever the file changes")
	return cmd
}

func printSummary(cmd *cobra.Command, summary validateSummary) {
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
}
