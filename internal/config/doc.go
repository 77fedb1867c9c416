// Package config loads mansync's Lua configuration.
//
// # Overview
//
// A configuration file assigns a global "mansync" table:
//
//	mansync = {
//	  install_dir = "/games/iw4x",
//	  meta_dir    = "launcher",
//	  manifest = {
//	    url           = "https://cdn.example/update.json",
//	    signature_url = "https://cdn.example/update.json.sig",
//	    public_key    = "keys/release.asc",
//	  },
//	  source   = { cdn_url = "https://cdn.example", assets = { ["iw4x.dll"] = "https://..." } },
//	  download = { attempts = 3, retry_delay_ms = 2000, timeout_s = 300 },
//	  sync     = { force = false, check_disk_space = true },
//	  reconcile = {
//	    renames = { { from = "iw4x-launcher.json", to = "launcher/config.json" } },
//	    delete  = { "iw4x-launcher.log", platform.when(platform.is_windows, "launch-iw4x.lnk") },
//	  },
//	  log     = { level = "info", format = "console" },
//	  metrics = { textfile = "launcher/metrics.prom" },
//	}
//
// Only install_dir and one of manifest.url or manifest.path are required.
// When loaded with ParseFile, relative install_dir, manifest.path and
// public_key values are resolved against the directory of the configuration
// file, and relative log and metrics outputs against install_dir.
//
// # Platform table
//
// Before the file runs, a read-only "platform" global describes the host
// (see the platform package), so lists can vary per OS. Nil entries in list
// constructors are dropped, which makes
//
//	platform.is_windows and "x.lnk" or nil
//
// a convenient conditional entry.
//
// # Sandbox
//
// The VM has no os, io, debug or module loading, and no raw table or
// metatable access. Execution honours the context passed to the parser, so a
// runaway script can be stopped with a deadline.
package config
