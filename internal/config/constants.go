package config

import "time"

// Lua schema field names and globals
const (
	luaGlobal = "mansync"

	luaFieldInstallDir = "install_dir"
	luaFieldMetaDir    = "meta_dir"

	luaFieldManifest     = "manifest"
	luaFieldURL          = "url"
	luaFieldPath         = "path"
	luaFieldSignatureURL = "signature_url"
	luaFieldPublicKey    = "public_key"

	luaFieldSource = "source"
	luaFieldCDNURL = "cdn_url"
	luaFieldAssets = "assets"

	luaFieldDownload     = "download"
	luaFieldAttempts     = "attempts"
	luaFieldRetryDelayMS = "retry_delay_ms"
	luaFieldTimeoutS     = "timeout_s"
	luaFieldUserAgent    = "user_agent"

	luaFieldSync           = "sync"
	luaFieldForce          = "force"
	luaFieldCheckDiskSpace = "check_disk_space"

	luaFieldReconcile = "reconcile"
	luaFieldRenames   = "renames"
	luaFieldFrom      = "from"
	luaFieldTo        = "to"
	luaFieldDelete    = "delete"

	luaFieldLog    = "log"
	luaFieldLevel  = "level"
	luaFieldFormat = "format"
	luaFieldOutput = "output"

	luaFieldMetrics  = "metrics"
	luaFieldTextfile = "textfile"
)

// Defaults applied to unset fields.
const (
	DefaultMetaDir    = ".mansync"
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultTimeout    = 5 * time.Minute
	DefaultUserAgent  = "mansync/1.0"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"

	// MaxAttempts bounds download.attempts.
	MaxAttempts = 10
	// MaxReconcileEntries bounds each reconcile list.
	MaxReconcileEntries = 10000
)
