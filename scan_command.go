package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		noFingerprint bool
		noCache       bool
		showTracks    bool
		record        bool
	)

	cmd := &cobra.Command{
		Use:   "scan <library-root>",
		Short: "Scan a library, reading tags and fingerprints into the scan cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.ensureApp(cmd)
			if err != nil {
				return err
			}
			resp, err := app.ScanLibrary(cmd.Context(), ScanRequest{
				Root:          args[0],
				NoFingerprint: noFingerprint,
				NoCache:       noCache,
				Record:        record,
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d tracks in %s\n", len(resp.Tracks), resp.Root)
			fmt.Fprintf(out, "Cache hits: %d  Fingerprinted: %d  Errors: %d\n", resp.CacheHits, resp.Fingerprinted, resp.ErrorCount)
			if resp.RunID != "" {
				fmt.Fprintf(out, "Run: %s\n", resp.RunID)
			}
			if showTracks && len(resp.Tracks) > 0 {
				rows := make([][]string, 0, len(resp.Tracks))
				for _, t := range resp.Tracks {
					rows = append(rows, []string{
						relPath(resp.Root, t.Path),
						t.Artist,
						t.Title,
						t.Album,
						formatSeconds(t.Duration),
						yesNo(t.Fingerprint != ""),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Path", "Artist", "Title", "Album", "Duration", "FP"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			if len(resp.Errors) > 0 {
				rows := make([][]string, 0, len(resp.Errors))
				for _, e := range resp.Errors {
					rows = append(rows, []string{relPath(resp.Root, e.Path), e.Error})
				}
				fmt.Fprintln(out, renderTable([]string{"Path", "Error"}, rows, nil))
				if resp.ErrorCount > len(resp.Errors) {
					fmt.Fprintf(out, "... and %d more errors\n", resp.ErrorCount-len(resp.Errors))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noFingerprint, "no-fingerprint", false, "Skip fpcalc fingerprinting")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Ignore and do not update the scan cache")
	cmd.Flags().BoolVar(&showTracks, "tracks", false, "List every scanned track")
	cmd.Flags().BoolVar(&record, "record", true, "Record the run in the history database")
	return cmd
}

func relPath(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

func formatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	total := int(seconds + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
