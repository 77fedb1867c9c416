// Package manifest models the desired state of an installation.
//
// A manifest lists loose files and archives by relative path, size and
// BLAKE3 hash, plus the renames and deletions that bring an older layout up
// to date. It is decoded once per pass and never modified afterwards.
//
// # Document format
//
// The wire form is JSON (or YAML when the name ends in .yaml or .yml):
//
//	{
//	  "archives": [{"blake3": "…", "size": 1, "name": "base.zip"}],
//	  "files": [
//	    {"blake3": "…", "size": 1, "path": "iw4x.dll", "asset_name": "iw4x.dll"},
//	    {"blake3": "…", "size": 1, "path": "zone/a.ff", "archive": "base.zip"}
//	  ],
//	  "renames": [{"from": "old.json", "to": "launcher/new.json"}],
//	  "delete": ["old.log"]
//	}
//
// A file naming an archive becomes a member of that archive and has no
// download source of its own. Any document may be zstd compressed.
//
// # Authentication
//
// When a public key is configured, Load requires a detached OpenPGP
// signature over the raw document bytes (before decompression) and rejects
// the manifest when it does not verify.
package manifest
