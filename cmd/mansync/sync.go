package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/config"
	"github.com/ZebulonRouseFrantzich/mansync/internal/engine"
	"github.com/ZebulonRouseFrantzich/mansync/internal/extract"
	"github.com/ZebulonRouseFrantzich/mansync/internal/lock"
	"github.com/ZebulonRouseFrantzich/mansync/internal/metrics"
)

func newSyncCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Bring the install directory up to date",
		Long: `Sync applies configured renames, compares every manifest entry with the
install directory, downloads stale files and archives, extracts archive
members and removes obsolete files.

Downloads are verified against the manifest hash and retried on network
errors and corruption.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "rehash every file instead of trusting the hash cache")
	return cmd
}

func runSync(cmd *cobra.Command, opts *options, force bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
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
	fmt.Fprintln(out, "Loading manifest...")
	m, err := loadManifest(ctx, cfg, d, logger)
	if err != nil {
		return err
	}

	rec := metrics.NewRecorder()
	eng, err := engine.New(engineConfig(cfg, force || cfg.Sync.Force), engine.Deps{
		Fetcher:   d,
		Extractor: extract.New(logger),
		Reporter:  newProgressReporter(out),
		Metrics:   rec,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	res, runErr := eng.Run(ctx, m)
	writeMetrics(cfg, rec, logger)
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}

	printSummary(out, res)
	return nil
}

func engineConfig(cfg *config.Config, force bool) engine.Config {
	return engine.Config{
		InstallDir:     cfg.InstallDir,
		MetaDir:        cfg.MetaDir,
		Attempts:       cfg.Download.Attempts,
		RetryDelay:     cfg.Download.RetryDelay,
		Force:          force,
		CheckDiskSpace: cfg.Sync.DiskCheckEnabled(),
		Reconcile:      cfg.Reconcile,
	}
}

// acquireLock takes the sync lock of the install directory. The returned
// func releases it.
func acquireLock(ctx context.Context, cfg *config.Config, logger *zap.Logger) (func(), error) {
	l, err := lock.Acquire(ctx, cfg.MetaPath())
	if err != nil {
		if errors.Is(err, lock.ErrLockExists) {
			return nil, fmt.Errorf("%w\nIf no other mansync is running, remove %s",
				err, filepath.Join(cfg.MetaPath(), lock.FileName))
		}
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	return func() {
		if err := l.Release(); err != nil {
			logger.Warn("failed to release sync lock", zap.String("path", l.Path()), zap.Error(err))
		}
	}, nil
}

func writeMetrics(cfg *config.Config, rec *metrics.Recorder, logger *zap.Logger) {
	if cfg.Metrics.Textfile == "" {
		return
	}
	if err := rec.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
	}
}

func printSummary(w io.Writer, res *engine.Result) {
	fmt.Fprintln(w)
	if res.State == engine.StateUpToDate {
		checked := 0
		if res.Diff != nil {
			checked = res.Diff.Checked
		}
		fmt.Fprintf(w, "Everything is up to date (%d entries checked).\n", checked)
		if res.Renamed > 0 || res.Deleted > 0 {
			fmt.Fprintf(w, "Renamed %d and removed %d legacy files.\n", res.Renamed, res.Deleted)
		}
		return
	}

	fmt.Fprintln(w, "Sync complete")
	fmt.Fprintf(w, "  Downloaded:  %d\n", len(res.Downloaded))
	fmt.Fprintf(w, "  Extracted:   %d\n", len(res.Extracted))
	fmt.Fprintf(w, "  Renamed:     %d\n", res.Renamed)
	fmt.Fprintf(w, "  Removed:     %d\n", res.Deleted)
	fmt.Fprintf(w, "  Transferred: %s in %s\n", humanize.IBytes(uint64(res.Bytes)), res.Duration.Round(time.Millisecond))
}
