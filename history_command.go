package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded scan, match and dedupe runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			runs, err := app.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					shortID(r.ID),
					string(r.Kind),
					r.StartedAt.Local().Format(time.DateTime),
					r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
					itoa(r.Items),
					itoa(r.Accepted),
					itoa(r.Failures),
					r.Root,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Kind", "Started", "Took", "Items", "Accepted", "Failures", "Root"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the matches or duplicate decisions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			detail, err := app.ShowRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, detail)
			}

			out := cmd.OutOrStdout()
			r := detail.Run
			fmt.Fprintf(out, "Run %s (%s)\n", r.ID, r.Kind)
			fmt.Fprintf(out, "Root: %s\n", r.Root)
			fmt.Fprintf(out, "Started: %s\n", r.StartedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Items: %d  Accepted: %d  Failures: %d\n", r.Items, r.Accepted, r.Failures)
			if r.Note != "" {
				fmt.Fprintf(out, "Note: %s\n", r.Note)
			}
			if len(detail.Matches) > 0 {
				rows := make([][]string, 0, len(detail.Matches))
				for _, m := range detail.Matches {
					rows = append(rows, []string{m.Title, m.Provider, m.TrackID, m.AlbumID, itoa(m.Score)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Title", "Provider", "Track ID", "Album ID", "Score"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
			}
			if len(detail.Duplicates) > 0 {
				rows := make([][]string, 0, len(detail.Duplicates))
				for _, d := range detail.Duplicates {
					rows = append(rows, []string{d.AlbumKey, itoa(d.Cluster), d.KeeperPath, d.RemovalPath, string(d.Action)})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Album", "Cluster", "Keeper", "Removal", "Action"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
