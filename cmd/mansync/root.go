package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/config"
	"github.com/ZebulonRouseFrantzich/mansync/internal/download"
	"github.com/ZebulonRouseFrantzich/mansync/internal/logging"
	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/platform"
	"github.com/ZebulonRouseFrantzich/mansync/internal/source"
)

const (
	configEnv         = "MANSYNC_CONFIG"
	defaultConfigFile = "mansync.lua"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath  string
	installDir  string
	logLevel    string
	metricsFile string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mansync",
		Short: "Keep an install directory in sync with a release manifest",
		Long: `mansync brings an install directory up to date with a published manifest.

Files whose BLAKE3 hash differs from the manifest are downloaded again,
archives are extracted member by member, and legacy files are renamed or
removed as configured. Hashes of unchanged files are cached so repeated
runs only read what changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "config file (env "+configEnv+")")
	root.PersistentFlags().StringVar(&opts.installDir, "dir", "", "install directory (overrides install_dir)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file after a pass")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "show raw config errors")

	root.AddCommand(newSyncCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	return defaultConfigFile
}

// loadConfig parses the config file and applies flag overrides.
func loadConfig(ctx context.Context, opts *options) (*config.Config, error) {
	parser := config.NewParser(platform.NewDetector(), nil)
	cfg, err := parser.ParseFile(ctx, opts.configPath)
	if err != nil {
		var parseErr *config.ParseError
		if errors.As(err, &parseErr) {
			return nil, errors.New(config.FormatError(err, opts.verbose))
		}
		return nil, err
	}

	if opts.installDir != "" {
		dir, err := filepath.Abs(opts.installDir)
		if err != nil {
			return nil, fmt.Errorf("resolve install directory: %w", err)
		}
		cfg.InstallDir = dir
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.metricsFile != "" {
		cfg.Metrics.Textfile = opts.metricsFile
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, _, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	return logger, nil
}

func newDownloader(cfg *config.Config, logger *zap.Logger) *download.Downloader {
	return download.NewDownloader(
		download.WithTimeout(cfg.Download.Timeout),
		download.WithUserAgent(cfg.Download.UserAgent),
		download.WithLogger(logger),
	)
}

// newResolver prefers explicit release assets over the CDN.
func newResolver(cfg *config.Config) source.Resolver {
	var chain source.Chain
	if len(cfg.Source.Assets) > 0 {
		chain = append(chain, source.Assets(cfg.Source.Assets))
	}
	if cfg.Source.CDNURL != "" {
		chain = append(chain, source.CDN{BaseURL: cfg.Source.CDNURL})
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func loadManifest(ctx context.Context, cfg *config.Config, d *download.Downloader, logger *zap.Logger) (*manifest.Manifest, error) {
	m, err := manifest.Load(ctx, d, manifest.LoadOptions{
		URL:       cfg.Manifest.URL,
		Path:      cfg.Manifest.Path,
		Signature: cfg.Manifest.SignatureURL,
		PublicKey: cfg.Manifest.PublicKey,
		Resolver:  newResolver(cfg),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	return m, nil
}
