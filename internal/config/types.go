package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
)

// Config represents the complete mansync configuration.
type Config struct {
	// InstallDir is the root every manifest path is relative to.
	InstallDir string
	// MetaDir holds the hash cache, lock and downloaded archives. It is
	// relative to InstallDir.
	MetaDir string

	Manifest  ManifestConfig
	Source    SourceConfig
	Download  DownloadConfig
	Sync      SyncConfig
	Reconcile manifest.ReconcileSpec
	Log       LogConfig
	Metrics   MetricsConfig
}

// ManifestConfig says where the manifest comes from.
type ManifestConfig struct {
	URL          string
	Path         string
	SignatureURL string
	PublicKey    string
}

// SourceConfig feeds the download URL resolvers.
type SourceConfig struct {
	CDNURL string
	// Assets maps release asset names to URLs and wins over CDNURL.
	Assets map[string]string
}

// DownloadConfig tunes the transfer retry policy.
type DownloadConfig struct {
	Attempts   int
	RetryDelay time.Duration
	Timeout    time.Duration
	UserAgent  string
}

// SyncConfig holds pass-level switches.
type SyncConfig struct {
	// Force ignores the hash cache and rehashes everything.
	Force bool
	// CheckDiskSpace enables the free-space preflight. Nil means default (on).
	CheckDiskSpace *bool
}

// DiskCheckEnabled resolves the CheckDiskSpace default.
func (s SyncConfig) DiskCheckEnabled() bool {
	return s.CheckDiskSpace == nil || *s.CheckDiskSpace
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile, when set, receives the metrics of each pass.
	Textfile string
}

// MetaPath returns the absolute metadata directory.
func (c *Config) MetaPath() string {
	return filepath.Join(c.InstallDir, c.MetaDir)
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MetaDir == "" {
		c.MetaDir = DefaultMetaDir
	}
	if c.Download.Attempts == 0 {
		c.Download.Attempts = DefaultAttempts
	}
	if c.Download.RetryDelay == 0 {
		c.Download.RetryDelay = DefaultRetryDelay
	}
	if c.Download.Timeout == 0 {
		c.Download.Timeout = DefaultTimeout
	}
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = DefaultUserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	if c.InstallDir == "" {
		return &ValidationError{Field: luaFieldInstallDir, Message: "is required"}
	}
	if c.MetaDir != "" && !filepath.IsLocal(c.MetaDir) {
		return &ValidationError{Field: luaFieldMetaDir, Message: "must be a relative path inside install_dir"}
	}

	if c.Manifest.URL == "" && c.Manifest.Path == "" {
		return &ValidationError{Field: luaFieldManifest, Message: "url or path is required"}
	}
	if c.Manifest.URL != "" {
		if err := validateURL(c.Manifest.URL); err != nil {
			return &ValidationError{Field: "manifest.url", Message: err.Error()}
		}
	}
	if c.Manifest.PublicKey != "" && c.Manifest.SignatureURL == "" {
		return &ValidationError{Field: "manifest.signature_url", Message: "is required when public_key is set"}
	}

	if c.Source.CDNURL != "" {
		if err := validateURL(c.Source.CDNURL); err != nil {
			return &ValidationError{Field: "source.cdn_url", Message: err.Error()}
		}
	}
	for name, u := range c.Source.Assets {
		if err := validateURL(u); err != nil {
			return &ValidationError{Field: fmt.Sprintf("source.assets[%q]", name), Message: err.Error()}
		}
	}

	if c.Download.Attempts < 0 || c.Download.Attempts > MaxAttempts {
		return &ValidationError{
			Field:   "download.attempts",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", MaxAttempts, c.Download.Attempts),
		}
	}
	if c.Download.RetryDelay < 0 {
		return &ValidationError{Field: "download.retry_delay_ms", Message: "cannot be negative"}
	}
	if c.Download.Timeout < 0 {
		return &ValidationError{Field: "download.timeout_s", Message: "cannot be negative"}
	}

	if n := len(c.Reconcile.Renames) + len(c.Reconcile.Deletions); n > MaxReconcileEntries {
		return &ValidationError{
			Field:   luaFieldReconcile,
			Message: fmt.Sprintf("too many entries (%d), maximum is %d", n, MaxReconcileEntries),
		}
	}
	for i, r := range c.Reconcile.Renames {
		if r.From == "" || r.To == "" {
			return &ValidationError{Field: fmt.Sprintf("reconcile.renames[%d]", i+1), Message: "from and to are required"}
		}
		if _, err := manifest.LocalPath("", r.From); err != nil {
			return &ValidationError{Field: fmt.Sprintf("reconcile.renames[%d].from", i+1), Message: err.Error()}
		}
		if _, err := manifest.LocalPath("", r.To); err != nil {
			return &ValidationError{Field: fmt.Sprintf("reconcile.renames[%d].to", i+1), Message: err.Error()}
		}
	}
	for i, d := range c.Reconcile.Deletions {
		if _, err := manifest.LocalPath("", d); err != nil {
			return &ValidationError{Field: fmt.Sprintf("reconcile.delete[%d]", i+1), Message: err.Error()}
		}
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)}
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return &ValidationError{Field: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}
