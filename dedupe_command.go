package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDedupeCommand(ctx *commandContext) *cobra.Command {
	var (
		similarity float64
		mode       string
		priority   []string
		quarantine bool
		deleteDups bool
		record     bool
	)

	cmd := &cobra.Command{
		Use:   "dedupe <library-root>",
		Short: "Find acoustic duplicates within each album",
		Long: "Fingerprint the library and find duplicate recordings within each album.\n\n" +
			"By default duplicates are only reported. --quarantine moves removals into the\n" +
			"quarantine directory; --delete removes them permanently.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if quarantine && deleteDups {
				return fmt.Errorf("--quarantine and --delete are mutually exclusive")
			}
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			action := DedupeReport
			switch {
			case quarantine:
				action = DedupeQuarantine
			case deleteDups:
				action = DedupeDelete
			}

			resp, err := app.DedupeLibrary(cmd.Context(), DedupeRequest{
				Root:       args[0],
				Action:     action,
				Similarity: similarity,
				Mode:       mode,
				Priority:   priority,
				Record:     record,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			root, _ := resolveRoot(args[0])
			var rows [][]string
			clusters := 0
			for _, report := range resp.Reports {
				for _, cluster := range report.Clusters {
					clusters++
					for _, removal := range cluster.Removals {
						status := string(action)
						if s, ok := resp.Results[removal.Path]; ok {
							status = s
						}
						rows = append(rows, []string{
							report.AlbumKey,
							relPath(root, cluster.Keeper.Path),
							relPath(root, removal.Path),
							formatSeconds(removal.Duration),
							status,
						})
					}
				}
			}
			fmt.Fprintf(out, "Scanned %d tracks: %d duplicate clusters, %d removals\n", resp.Scanned, clusters, resp.Removals)
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]string{"Album", "Keeper", "Removal", "Duration", "Status"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			if resp.RunID != "" {
				fmt.Fprintf(out, "Run: %s\n", resp.RunID)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&similarity, "similarity", 0, "Similarity threshold in (0, 1] (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Cluster mode: star or transitive (default from config)")
	cmd.Flags().StringSliceVar(&priority, "priority", nil, "Keeper extension priority, most preferred first")
	cmd.Flags().BoolVar(&quarantine, "quarantine", false, "Move removals into the quarantine directory")
	cmd.Flags().BoolVar(&deleteDups, "delete", false, "Delete removals permanently")
	cmd.Flags().BoolVar(&record, "record", true, "Record the run in the history database")
	return cmd
}
