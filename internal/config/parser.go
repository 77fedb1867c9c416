package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/platform"
)

// MaxConfigSize caps the size of a configuration file.
const MaxConfigSize = 1 << 20

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
	logger   *zap.Logger
}

// NewParser creates a new config parser with the given platform detector.
// A nil detector leaves the platform global undefined.
func NewParser(detector platform.Detector, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{detector: detector, logger: logger}
}

// ParseFile reads and parses the configuration at path. Relative paths in
// the file are resolved against its directory.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if info.Size() > MaxConfigSize {
		return nil, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%s is %d bytes, maximum is %d", path, info.Size(), MaxConfigSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	p.logger.Debug("parsing config", zap.String("path", abs))
	return p.parse(ctx, string(data), filepath.Dir(abs))
}

// ParseString parses a Lua config from a string.
// Relative paths are left as written.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	return p.parse(ctx, luaCode, "")
}

func (p *Parser) parse(ctx context.Context, luaCode, baseDir string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		platform.InjectPlatformTable(L, info)
	}

	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("config evaluation aborted: %w", ctxErr)
		}
		return nil, &ParseError{
			Message: "Lua error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}

	if baseDir != "" {
		cfg.resolvePaths(baseDir)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}

	p.logger.Debug("config parsed",
		zap.String("install_dir", cfg.InstallDir),
		zap.Int("renames", len(cfg.Reconcile.Renames)),
		zap.Int("deletions", len(cfg.Reconcile.Deletions)),
	)
	return cfg, nil
}

// resolvePaths anchors install_dir, manifest.path and public_key at baseDir,
// and log and metrics outputs at install_dir.
func (c *Config) resolvePaths(baseDir string) {
	abs := func(base, p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.InstallDir = abs(baseDir, c.InstallDir)
	c.Manifest.Path = abs(baseDir, c.Manifest.Path)
	c.Manifest.PublicKey = abs(baseDir, c.Manifest.PublicKey)
	if c.InstallDir != "" {
		c.Metrics.Textfile = abs(c.InstallDir, c.Metrics.Textfile)
		c.Log.Output = abs(c.InstallDir, c.Log.Output)
	}
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw Lua error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		return err.Error()
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
	}
	detail := parseErr.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", parseErr.Message, detail)
}

// extractConfig expects a global "mansync" table with the config structure.
func extractConfig(L *lua.LState) (*Config, error) {
	root, ok := L.GetGlobal(luaGlobal).(*lua.LTable)
	if !ok {
		return nil, &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobal),
			Detail:  fmt.Sprintf("expected table, got %s", L.GetGlobal(luaGlobal).Type()),
		}
	}

	t := &tableReader{table: root}
	cfg := &Config{
		InstallDir: t.str(luaFieldInstallDir),
		MetaDir:    t.str(luaFieldMetaDir),
	}

	if m := t.sub(luaFieldManifest); m != nil {
		cfg.Manifest = ManifestConfig{
			URL:          m.str(luaFieldURL),
			Path:         m.str(luaFieldPath),
			SignatureURL: m.str(luaFieldSignatureURL),
			PublicKey:    m.str(luaFieldPublicKey),
		}
	}

	if s := t.sub(luaFieldSource); s != nil {
		cfg.Source.CDNURL = s.str(luaFieldCDNURL)
		cfg.Source.Assets = s.stringMap(luaFieldAssets)
	}

	if d := t.sub(luaFieldDownload); d != nil {
		cfg.Download.Attempts = d.integer(luaFieldAttempts)
		cfg.Download.RetryDelay = time.Duration(d.integer(luaFieldRetryDelayMS)) * time.Millisecond
		cfg.Download.Timeout = time.Duration(d.integer(luaFieldTimeoutS)) * time.Second
		cfg.Download.UserAgent = d.str(luaFieldUserAgent)
	}

	if s := t.sub(luaFieldSync); s != nil {
		cfg.Sync.Force = s.boolean(luaFieldForce)
		if v, ok := s.optBoolean(luaFieldCheckDiskSpace); ok {
			cfg.Sync.CheckDiskSpace = &v
		}
	}

	if r := t.sub(luaFieldReconcile); r != nil {
		if renames := r.sub(luaFieldRenames); renames != nil {
			for _, entry := range renames.list() {
				et, ok := entry.value.(*lua.LTable)
				if !ok {
					renames.fail(fmt.Sprintf("[%d]", entry.index), "table", entry.value)
					continue
				}
				er := &tableReader{table: et, path: fmt.Sprintf("%s[%d]", renames.path, entry.index)}
				cfg.Reconcile.Renames = append(cfg.Reconcile.Renames, manifest.Rename{
					From: er.str(luaFieldFrom),
					To:   er.str(luaFieldTo),
				})
				if er.err != nil && renames.err == nil {
					renames.err = er.err
				}
			}
		}
		cfg.Reconcile.Deletions = r.stringList(luaFieldDelete)
	}

	if l := t.sub(luaFieldLog); l != nil {
		cfg.Log = LogConfig{
			Level:  l.str(luaFieldLevel),
			Format: l.str(luaFieldFormat),
			Output: l.str(luaFieldOutput),
		}
	}

	if m := t.sub(luaFieldMetrics); m != nil {
		cfg.Metrics.Textfile = m.str(luaFieldTextfile)
	}

	if err := t.firstErr(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// tableReader reads typed fields from a Lua table and remembers the first
// type mismatch.
type tableReader struct {
	table    *lua.LTable
	path     string
	err      error
	children []*tableReader
}

func (r *tableReader) field(name string) string {
	if r.path == "" {
		return name
	}
	if strings.HasPrefix(name, "[") {
		return r.path + name
	}
	return r.path + "." + name
}

func (r *tableReader) fail(name, want string, got lua.LValue) {
	if r.err != nil {
		return
	}
	r.err = &ParseError{
		Message: "invalid config value",
		Detail:  fmt.Sprintf("%s: expected %s, got %s", r.field(name), want, got.Type()),
	}
}

func (r *tableReader) firstErr() error {
	if r.err != nil {
		return r.err
	}
	for _, c := range r.children {
		if err := c.firstErr(); err != nil {
			return err
		}
	}
	return nil
}

func (r *tableReader) sub(name string) *tableReader {
	v := r.table.RawGetString(name)
	if v.Type() == lua.LTNil {
		return nil
	}
	tv, ok := v.(*lua.LTable)
	if !ok {
		r.fail(name, "table", v)
		return nil
	}
	child := &tableReader{table: tv, path: r.field(name)}
	r.children = append(r.children, child)
	return child
}

func (r *tableReader) str(name string) string {
	v := r.table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return ""
	case lua.LTString:
		return v.String()
	default:
		r.fail(name, "string", v)
		return ""
	}
}

func (r *tableReader) integer(name string) int {
	v := r.table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return 0
	case lua.LTNumber:
		n := float64(v.(lua.LNumber))
		if n != float64(int(n)) {
			r.fail(name, "integer", v)
			return 0
		}
		return int(n)
	default:
		r.fail(name, "number", v)
		return 0
	}
}

func (r *tableReader) optBoolean(name string) (bool, bool) {
	v := r.table.RawGetString(name)
	switch v.Type() {
	case lua.LTNil:
		return false, false
	case lua.LTBool:
		return bool(v.(lua.LBool)), true
	default:
		r.fail(name, "boolean", v)
		return false, false
	}
}

func (r *tableReader) boolean(name string) bool {
	v, _ := r.optBoolean(name)
	return v
}

type listEntry struct {
	index int
	value lua.LValue
}

// list returns the positive integer keyed entries in index order. Nil
// entries (from platform conditionals) are skipped.
func (r *tableReader) list() []listEntry {
	var entries []listEntry
	r.table.ForEach(func(k, v lua.LValue) {
		n, ok := k.(lua.LNumber)
		if !ok || v.Type() == lua.LTNil {
			return
		}
		idx := int(n)
		if float64(idx) != float64(n) || idx < 1 {
			return
		}
		entries = append(entries, listEntry{index: idx, value: v})
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	return entries
}

func (r *tableReader) stringList(name string) []string {
	sub := r.sub(name)
	if sub == nil {
		return nil
	}
	var out []string
	for _, e := range sub.list() {
		if e.value.Type() != lua.LTString {
			sub.fail(fmt.Sprintf("[%d]", e.index), "string", e.value)
			continue
		}
		out = append(out, e.value.String())
	}
	return out
}

func (r *tableReader) stringMap(name string) map[string]string {
	sub := r.sub(name)
	if sub == nil {
		return nil
	}
	out := make(map[string]string)
	sub.table.ForEach(func(k, v lua.LValue) {
		if k.Type() != lua.LTString {
			sub.fail(fmt.Sprintf("[%s]", k.String()), "string key", k)
			return
		}
		if v.Type() != lua.LTString {
			sub.fail(fmt.Sprintf("[%q]", k.String()), "string", v)
			return
		}
		out[k.String()] = v.String()
	})
	return out
}
