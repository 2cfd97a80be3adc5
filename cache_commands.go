package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the per-library scan cache",
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "prune <library-root>",
		Short: "Drop cache entries for files that no longer exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			removed, err := app.PruneCache(args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]int{"removed": removed})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale cache entries\n", removed)
			return nil
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear <library-root>",
		Short: "Delete the scan cache of a library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			if err := app.ClearCache(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan cache cleared")
			return nil
		},
	})

	return cacheCmd
}
