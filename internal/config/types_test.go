package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
)

func validConfig() *Config {
	cfg := &Config{
		InstallDir: "/games/iw4x",
		Manifest:   ManifestConfig{URL: "https://cdn.example/update.json"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "local manifest only", mutate: func(c *Config) { c.Manifest = ManifestConfig{Path: "/tmp/m.json"} }},
		{name: "missing install dir", mutate: func(c *Config) { c.InstallDir = "" }, wantErr: "install_dir"},
		{name: "escaping meta dir", mutate: func(c *Config) { c.MetaDir = "../meta" }, wantErr: "meta_dir"},
		{name: "manifest url without host", mutate: func(c *Config) { c.Manifest.URL = "https:///x" }, wantErr: "no host"},
		{name: "bad cdn url", mutate: func(c *Config) { c.Source.CDNURL = "cdn.example" }, wantErr: "source.cdn_url"},
		{name: "bad asset url", mutate: func(c *Config) { c.Source.Assets = map[string]string{"a.dll": "file:///a"} }, wantErr: `source.assets["a.dll"]`},
		{name: "negative attempts", mutate: func(c *Config) { c.Download.Attempts = -1 }, wantErr: "download.attempts"},
		{name: "negative delay", mutate: func(c *Config) { c.Download.RetryDelay = -time.Second }, wantErr: "retry_delay_ms"},
		{name: "negative timeout", mutate: func(c *Config) { c.Download.Timeout = -time.Second }, wantErr: "timeout_s"},
		{
			name: "too many reconcile entries",
			mutate: func(c *Config) {
				c.Reconcile.Deletions = make([]string, MaxReconcileEntries+1)
			},
			wantErr: "too many entries",
		},
		{
			name:    "escaping rename target",
			mutate:  func(c *Config) { c.Reconcile.Renames = []manifest.Rename{{From: "a", To: "../b"}} },
			wantErr: "reconcile.renames[1].to",
		},
		{
			name:   "backslash deletion",
			mutate: func(c *Config) { c.Reconcile.Deletions = []string{`logs\old.log`} },
		},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "unknown format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_ApplyDefaultsKeepsValues(t *testing.T) {
	cfg := &Config{
		MetaDir:  "launcher",
		Download: DownloadConfig{Attempts: 7, RetryDelay: time.Millisecond, UserAgent: "x"},
		Log:      LogConfig{Level: "warn"},
	}
	cfg.ApplyDefaults()

	if cfg.MetaDir != "launcher" || cfg.Download.Attempts != 7 || cfg.Download.RetryDelay != time.Millisecond {
		t.Errorf("ApplyDefaults overwrote values: %+v", cfg)
	}
	if cfg.Download.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Download.Timeout, DefaultTimeout)
	}
	if cfg.Log.Level != "warn" || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestSyncConfig_DiskCheckEnabled(t *testing.T) {
	off, on := false, true
	if !(SyncConfig{}).DiskCheckEnabled() {
		t.Error("nil should mean enabled")
	}
	if (SyncConfig{CheckDiskSpace: &off}).DiskCheckEnabled() {
		t.Error("explicit false should disable")
	}
	if !(SyncConfig{CheckDiskSpace: &on}).DiskCheckEnabled() {
		t.Error("explicit true should enable")
	}
}

func TestValidationError_Error(t *testing.T) {
	if got := (&ValidationError{Message: "bad"}).Error(); got != "config validation failed: bad" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ValidationError{Field: "f", Message: "bad"}).Error(); got != "config validation failed for f: bad" {
		t.Errorf("Error() = %q", got)
	}
}
