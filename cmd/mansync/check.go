package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/mansync/internal/differ"
	"github.com/ZebulonRouseFrantzich/mansync/internal/engine"
)

func newCheckCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "List stale files without downloading anything",
		Long: `Check compares the install directory with the manifest and lists what a
sync would download. Nothing is renamed, downloaded or removed.

Exit codes:
  0  Everything is up to date
  1  One or more entries are stale, or the check failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "rehash every file instead of trusting the hash cache")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *options, force bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	release, err := acquireLock(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	d := newDownloader(cfg, logger)
	m, err := loadManifest(ctx, cfg, d, logger)
	if err != nil {
		return err
	}

	eng, err := engine.New(engineConfig(cfg, force || cfg.Sync.Force), engine.Deps{
		Fetcher: d,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	diff, err := eng.Check(ctx, m)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	if printDiff(out, diff) {
		return nil
	}
	return &exitError{code: 1}
}

// printDiff writes a report of diff and reports whether nothing is stale.
func printDiff(w io.Writer, diff *differ.Result) bool {
	if diff.UpToDate() {
		fmt.Fprintf(w, "All %d entries are up to date.\n", diff.Checked)
		return true
	}

	fmt.Fprintln(w, "Stale entries:")
	for _, f := range diff.Files {
		fmt.Fprintf(w, "  %s (%s)\n", f.Path, humanize.IBytes(f.Size))
	}
	for _, a := range diff.Archives {
		fmt.Fprintf(w, "  %s (archive, %d members, %s)\n", a.Name, len(a.Members), humanize.IBytes(a.Size))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d files and %d archives need updating, %s to download.\n",
		len(diff.Files), len(diff.Archives), humanize.IBytes(diff.Bytes()))
	fmt.Fprintln(w, "Run 'mansync sync' to update.")
	return false
}
