package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/mansync/internal/journal"
)

func newStatusCmd(opts *options) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the outcome of the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), opts)
			if err != nil {
				return err
			}
			rec, err := journal.Load(cfg.MetaPath())
			if errors.Is(err, journal.ErrNoRecord) {
				fmt.Fprintln(cmd.OutOrStdout(), "No sync has run in this directory yet.")
				fmt.Fprintln(cmd.OutOrStdout(), "Run 'mansync sync' to install.")
				return nil
			}
			if err != nil {
				return fmt.Errorf("load journal: %w", err)
			}
			printRecord(cmd.OutOrStdout(), rec, list, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list every path the last sync touched")
	return cmd
}

func printRecord(w io.Writer, rec *journal.Record, list bool, now time.Time) {
	fmt.Fprintf(w, "Last sync:   %s (%s)\n", rec.Started.Local().Format(time.RFC1123), humanize.RelTime(rec.Started, now, "ago", "from now"))
	fmt.Fprintf(w, "Status:      %s\n", rec.Status)
	if rec.Status == journal.StatusRunning {
		fmt.Fprintln(w, "             the pass did not finish; the next sync resumes it")
	}
	if d := rec.Duration(); d > 0 {
		fmt.Fprintf(w, "Duration:    %s\n", d.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Checked:     %d\n", rec.Checked)
	fmt.Fprintf(w, "Downloaded:  %d (%s)\n", rec.Count(journal.ActionDownloaded), humanize.IBytes(uint64(rec.Bytes)))
	fmt.Fprintf(w, "Extracted:   %d\n", rec.Count(journal.ActionExtracted))
	fmt.Fprintf(w, "Renamed:     %d\n", rec.Count(journal.ActionRenamed))
	fmt.Fprintf(w, "Removed:     %d\n", rec.Count(journal.ActionDeleted))
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", rec.Error)
	}

	if list && len(rec.Entries) > 0 {
		fmt.Fprintln(w)
		for _, e := range rec.Entries {
			fmt.Fprintf(w, "  %-10s %s\n", e.Action, e.Path)
		}
	}
}
