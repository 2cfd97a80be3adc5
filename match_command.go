package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"trackcurator/backend"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var (
		sources   []string
		threshold int
		write     bool
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "match <library-root>",
		Short: "Match local tracks against provider catalog exports",
		Long: "Match local tracks against provider catalog exports.\n\n" +
			"Each --candidates value is a JSON export, optionally prefixed with its provider:\n" +
			"  deezer:album.json  tidal:tracks.json  musicbrainz:recordings.json  generic:tracks.json",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			resp, err := app.MatchLibrary(cmd.Context(), MatchRequest{
				Root:      args[0],
				Sources:   sources,
				Threshold: threshold,
				WriteTags: write,
				Record:    record,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Matched %d of %d tracks against %d candidates\n", len(resp.Run.Matches), resp.Scanned, resp.Candidates)
			if len(resp.Run.Matches) > 0 {
				rows := make([][]string, 0, len(resp.Run.Matches))
				for _, m := range resp.Run.Matches {
					rows = append(rows, []string{
						m.Target.Title,
						m.Candidate.ArtistName,
						m.Candidate.TrackName,
						m.Candidate.AlbumName,
						m.Candidate.Provider,
						itoa(m.Score),
						backend.MatchConfidence(m.Score),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Local title", "Artist", "Catalog title", "Album", "Provider", "Score", "Confidence"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			if len(resp.Run.Unmatched) > 0 {
				fmt.Fprintf(out, "Unmatched: %d\n", len(resp.Run.Unmatched))
				for _, t := range resp.Run.Unmatched {
					fmt.Fprintf(out, "  %s\n", resp.Paths[t.MetadataID])
				}
			}
			if resp.Run.Failures > 0 {
				fmt.Fprintf(out, "Comparison failures: %d\n", resp.Run.Failures)
			}
			if write {
				fmt.Fprintf(out, "Tags written: %d\n", resp.Written)
				for path, msg := range resp.WriteErrs {
					fmt.Fprintf(out, "  failed %s: %s\n", path, msg)
				}
			}
			if resp.RunID != "" {
				fmt.Fprintf(out, "Run: %s\n", resp.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sources, "candidates", nil, "Candidate export as [provider:]file (repeatable)")
	cmd.Flags().IntVar(&threshold, "threshold", -1, "Minimum score to accept a match (default from config)")
	cmd.Flags().BoolVar(&write, "write", false, "Write accepted matches back into the files' tags")
	cmd.Flags().BoolVar(&record, "record", true, "Record the run in the history database")
	_ = cmd.MarkFlagRequired("candidates")
	return cmd
}
