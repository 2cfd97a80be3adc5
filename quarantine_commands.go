package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func newQuarantineCommand(ctx *commandContext) *cobra.Command {
	quarantineCmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Inspect and manage quarantined duplicates",
	}

	quarantineCmd.AddCommand(newQuarantineListCommand(ctx))
	quarantineCmd.AddCommand(newQuarantineRestoreCommand(ctx))
	quarantineCmd.AddCommand(newQuarantineEmptyCommand(ctx))
	return quarantineCmd
}

func newQuarantineListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <library-root>",
		Short: "List quarantined files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			files, err := app.ListQuarantine(args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if files == nil {
					files = []string{}
				}
				return writeJSON(cmd, files)
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				fmt.Fprintln(out, "Quarantine is empty")
				return nil
			}
			for _, f := range files {
				fmt.Fprintln(out, f)
			}
			return nil
		},
	}
}

func newQuarantineRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <library-root> [quarantined-file...]",
		Short: "Restore quarantined files (all of them when none are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			results, err := app.RestoreFromQuarantine(args[0], args[1:])
			if err != nil {
				return err
			}
			return printStatusMap(cmd, ctx, results, "Nothing to restore")
		},
	}
}

func newQuarantineEmptyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "empty <library-root>",
		Short: "Permanently delete every quarantined file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			count, err := app.EmptyQuarantine(args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]int{"deleted": count})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d quarantined files\n", count)
			return nil
		},
	}
}

func printStatusMap(cmd *cobra.Command, ctx *commandContext, results map[string]string, emptyMsg string) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, results)
	}
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, emptyMsg)
		return nil
	}
	paths := make([]string, 0, len(results))
	for p := range results {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	rows := make([][]string, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, []string{p, results[p]})
	}
	fmt.Fprintln(out, renderTable([]string{"Path", "Status"}, rows, nil))
	return nil
}
