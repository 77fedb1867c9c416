// Package engine runs a sync pass over an install directory.
//
// A pass moves through these states:
//
//	reconciling_renames -> diffing -> downloading <-> extracting
//	    -> reconciling_deletions -> persisting -> done
//
// When the diff finds nothing stale the pass skips downloading and
// extracting and ends in up_to_date. Any surfaced error ends it in aborted.
// The hash cache is saved on every exit once it was loaded.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/checksum"
	"github.com/ZebulonRouseFrantzich/mansync/internal/config"
	"github.com/ZebulonRouseFrantzich/mansync/internal/differ"
	"github.com/ZebulonRouseFrantzich/mansync/internal/download"
	"github.com/ZebulonRouseFrantzich/mansync/internal/extract"
	"github.com/ZebulonRouseFrantzich/mansync/internal/hashcache"
	"github.com/ZebulonRouseFrantzich/mansync/internal/journal"
	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/metrics"
	"github.com/ZebulonRouseFrantzich/mansync/internal/platform"
	"github.com/ZebulonRouseFrantzich/mansync/internal/reconcile"
	"github.com/ZebulonRouseFrantzich/mansync/internal/retry"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

const (
	// DefaultMetaDir is used when Config.MetaDir is empty.
	DefaultMetaDir = config.DefaultMetaDir
	// DefaultAttempts is used when Config.Attempts is zero.
	DefaultAttempts = 3
	// DownloadDir holds archives between download and extraction, inside
	// the metadata directory.
	DownloadDir = "downloads"
)

// ErrNoSource means a stale entry has no URL to download it from.
var ErrNoSource = errors.New("no download source")

// Fetcher downloads one file. *download.Downloader implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req download.Request) (int64, error)
}

// Extractor unpacks declared archive members. *extract.Extractor
// implements it.
type Extractor interface {
	Extract(ctx context.Context, archivePath string, members []manifest.FileEntry, root string, progress extract.MemberFunc) ([]extract.Member, error)
}

// Config is the per-install policy of the engine.
type Config struct {
	InstallDir string
	// MetaDir is relative to InstallDir.
	MetaDir    string
	Attempts   int
	RetryDelay time.Duration
	// Force discards the hash cache so every file is rehashed.
	Force          bool
	CheckDiskSpace bool
	// Reconcile is merged after the manifest's own entries.
	Reconcile manifest.ReconcileSpec
}

// Deps are the collaborators of the engine. Only Fetcher is required.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	FreeSpace platform.SpaceFunc
	Reporter  Reporter
	Metrics   *metrics.Recorder
	Logger    *zap.Logger
	Clock     Clock
}

// Result summarizes a pass.
type Result struct {
	RunID string
	State State
	// Trace lists every state entered, in order.
	Trace      []State
	Diff       *differ.Result
	Downloaded []string
	Extracted  []string
	Renamed    int
	Deleted    int
	Bytes      int64
	Duration   time.Duration
}

// Engine runs sync passes for one install directory. Passes must not run
// concurrently; callers serialize them with the lock package.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	extractor Extractor
	freeSpace platform.SpaceFunc
	reporter  Reporter
	metrics   *metrics.Recorder
	logger    *zap.Logger
	clock     Clock
}

// New validates cfg and fills unset dependencies with defaults.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.InstallDir == "" {
		return nil, errors.New("engine: install dir is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("engine: fetcher is required")
	}
	if cfg.MetaDir == "" {
		cfg.MetaDir = DefaultMetaDir
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}

	e := &Engine{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		freeSpace: deps.FreeSpace,
		reporter:  deps.Reporter,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		clock:     deps.Clock,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.extractor == nil {
		e.extractor = extract.New(e.logger)
	}
	if e.freeSpace == nil {
		e.freeSpace = platform.FreeSpace
	}
	if e.reporter == nil {
		e.reporter = NopReporter{}
	}
	if e.clock == nil {
		e.clock = RealClock{}
	}
	return e, nil
}

// MetaPath is the absolute metadata directory.
func (e *Engine) MetaPath() string {
	return filepath.Join(e.cfg.InstallDir, e.cfg.MetaDir)
}

func (e *Engine) loadCache(logger *zap.Logger) *hashcache.Cache {
	if e.cfg.Force {
		logger.Info("force mode, ignoring hash cache")
		return hashcache.New()
	}
	return hashcache.Load(e.MetaPath(), logger)
}

// Check diffs m against the install directory without changing it. Renames
// are not applied. Freshly computed hashes are still saved to the cache.
func (e *Engine) Check(ctx context.Context, m *manifest.Manifest) (*differ.Result, error) {
	m = m.WithReconcile(e.cfg.Reconcile)
	cache := e.loadCache(e.logger)

	d := differ.New(e.cfg.InstallDir, cache,
		differ.WithLogger(e.logger),
		differ.WithProgress(e.reporter.Checking),
	)
	res, err := d.Diff(ctx, m)

	if saveErr := cache.Save(e.MetaPath()); saveErr != nil {
		e.logger.Warn("hash cache not saved", zap.Error(saveErr))
	}
	if err != nil {
		return nil, err
	}
	e.metrics.FilesHashed(res.Hashed)
	return res, nil
}

// Run performs one sync pass. The Result is returned even when the pass
// aborts, with State set to StateAborted.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest) (res *Result, err error) {
	p := e.begin()
	defer func() { res, err = p.finish(err) }()

	m = m.WithReconcile(e.cfg.Reconcile)
	if err := os.MkdirAll(e.MetaPath(), 0755); err != nil {
		return nil, syncerr.FileSystem("create metadata directory", e.MetaPath(), err)
	}

	if err := p.renames(m.Reconcile.Renames); err != nil {
		return nil, err
	}

	p.enter(StateDiffing)
	d := differ.New(e.cfg.InstallDir, p.cache,
		differ.WithLogger(p.log),
		differ.WithProgress(func(done, total int, path string) {
			e.metrics.FileChecked()
			e.reporter.Checking(done, total, path)
		}),
	)
	diff, err := d.Diff(ctx, m)
	if err != nil {
		return nil, err
	}
	p.res.Diff = diff
	p.journal.Checked = diff.Checked
	e.metrics.FilesHashed(diff.Hashed)

	if diff.UpToDate() {
		p.upToDate = true
		p.log.Info("installation up to date", zap.Int("checked", diff.Checked))
		p.deletions(m.Reconcile.Deletions)
		return nil, nil
	}

	p.log.Info("update required",
		zap.Int("files", len(diff.Files)),
		zap.Int("archives", len(diff.Archives)),
		zap.String("size", humanize.IBytes(diff.Bytes())),
	)

	if err := p.preflight(ctx, diff); err != nil {
		return nil, err
	}

	p.passTotal = int64(diff.Bytes())
	p.enter(StateDownloading)
	for _, f := range diff.Files {
		dest, err := manifest.LocalPath(e.cfg.InstallDir, f.Path)
		if err != nil {
			return nil, syncerr.Parse("resolve path", f.Path, err)
		}
		n, err := p.fetch(ctx, f.Path, f.Source, dest, f.Hash, f.Size)
		if err != nil {
			return nil, err
		}
		p.cache.Put(f.Path, f.Hash)
		p.res.Downloaded = append(p.res.Downloaded, f.Path)
		p.journal.Add(f.Path, journal.ActionDownloaded, n)
	}

	for _, a := range diff.Archives {
		if err := p.archive(ctx, a); err != nil {
			return nil, err
		}
	}

	p.deletions(m.Reconcile.Deletions)
	return nil, nil
}

type pass struct {
	e        *Engine
	log      *zap.Logger
	res      *Result
	cache    *hashcache.Cache
	journal  *journal.Record
	started  time.Time
	upToDate bool

	passTotal int64
	passDone  int64
}

func (e *Engine) begin() *pass {
	id := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", id))
	started := e.clock.Now()

	logger.Info("sync started", zap.String("install_dir", e.cfg.InstallDir))
	return &pass{
		e:       e,
		log:     logger,
		res:     &Result{RunID: id, State: StateIdle},
		cache:   e.loadCache(logger),
		journal: journal.New(id, started),
		started: started,
	}
}

func (p *pass) enter(s State) {
	if n := len(p.res.Trace); n > 0 && p.res.Trace[n-1] == s {
		return
	}
	p.res.Trace = append(p.res.Trace, s)
	p.res.State = s
	p.log.Debug("state changed", zap.Stringer("state", s))
	p.e.reporter.StateChanged(s)
}

// finish persists the cache and journal and records the terminal state.
func (p *pass) finish(err error) (*Result, error) {
	p.enter(StatePersisting)
	if saveErr := p.cache.Save(p.e.MetaPath()); saveErr != nil {
		p.log.Warn("hash cache not saved", zap.Error(saveErr))
	}

	final, status := StateDone, journal.StatusDone
	switch {
	case err != nil:
		final, status = StateAborted, journal.StatusAborted
	case p.upToDate:
		final, status = StateUpToDate, journal.StatusUpToDate
	}
	p.enter(final)

	finished := p.e.clock.Now()
	p.res.Duration = finished.Sub(p.started)
	p.e.metrics.PassFinished(final.String(), terminalStates(), p.res.Duration)

	p.journal.Finish(status, finished, err)
	if saveErr := p.journal.Save(p.e.MetaPath()); saveErr != nil {
		p.log.Warn("journal not saved", zap.Error(saveErr))
	}

	if err != nil {
		p.log.Error("sync aborted", zap.Stringer("state", final), zap.Error(err))
	} else {
		p.log.Info("sync finished",
			zap.Stringer("state", final),
			zap.Int("downloaded", len(p.res.Downloaded)),
			zap.Int("extracted", len(p.res.Extracted)),
			zap.String("transferred", humanize.IBytes(uint64(p.res.Bytes))),
			zap.Duration("duration", p.res.Duration),
		)
	}
	return p.res, err
}

// renames fails the pass only for a rename that leaves the install root.
// Filesystem failures are logged and the pass continues.
func (p *pass) renames(renames []manifest.Rename) error {
	p.enter(StateReconcilingRenames)

	outcomes, err := reconcile.ApplyRenames(p.e.cfg.InstallDir, renames, p.log)
	for i, o := range outcomes {
		p.e.metrics.Reconcile("rename", o.String())
		if o != reconcile.Renamed {
			continue
		}
		r := manifest.Rename{From: manifest.SlashPath(renames[i].From), To: manifest.SlashPath(renames[i].To)}
		if h, ok := p.cache.Get(r.From); ok {
			p.cache.Put(r.To, h)
		} else {
			p.cache.Delete(r.To)
		}
		p.cache.Delete(r.From)
		p.res.Renamed++
		p.journal.Add(r.To, journal.ActionRenamed, 0)
	}

	var fatal error
	for _, failure := range multierr.Errors(err) {
		if syncerr.IsKind(failure, syncerr.KindParse) {
			fatal = multierr.Append(fatal, failure)
			continue
		}
		p.log.Warn("rename failed", zap.Error(failure))
	}
	return fatal
}

// deletions never fails the pass; failures are logged.
func (p *pass) deletions(paths []string) {
	p.enter(StateReconcilingDeletions)
	if len(paths) == 0 {
		return
	}

	existed := make([]bool, len(paths))
	for i, rel := range paths {
		if target, err := manifest.LocalPath(p.e.cfg.InstallDir, rel); err == nil {
			_, statErr := os.Lstat(target)
			existed[i] = statErr == nil
		}
	}

	removed, err := reconcile.ApplyDeletions(p.e.cfg.InstallDir, paths, p.log)
	p.res.Deleted = removed

	for i, rel := range paths {
		if !existed[i] {
			continue
		}
		target, _ := manifest.LocalPath(p.e.cfg.InstallDir, rel)
		if _, statErr := os.Lstat(target); errors.Is(statErr, fs.ErrNotExist) {
			p.cache.DeleteTree(manifest.SlashPath(rel))
			p.journal.Add(rel, journal.ActionDeleted, 0)
			p.e.metrics.Reconcile("delete", "removed")
		}
	}
	for _, failure := range multierr.Errors(err) {
		p.e.metrics.Reconcile("delete", "failed")
		p.log.Warn("deletion failed", zap.Error(failure))
	}
}

// preflight compares the bytes a pass will write with the free space of the
// install volume. Archives count twice: once packed, once extracted.
func (p *pass) preflight(ctx context.Context, diff *differ.Result) error {
	if !p.e.cfg.CheckDiskSpace {
		return nil
	}

	var need uint64
	for _, f := range diff.Files {
		need += f.Size
	}
	for _, a := range diff.Archives {
		need += a.Size + a.MemberSize()
	}

	free, err := p.e.freeSpace(ctx, p.e.cfg.InstallDir)
	if err != nil {
		p.log.Warn("free space check skipped", zap.Error(err))
		return nil
	}
	if free < need {
		return syncerr.FileSystem("check free space", p.e.cfg.InstallDir,
			fmt.Errorf("need %s, only %s available", humanize.IBytes(need), humanize.IBytes(free)))
	}
	p.log.Debug("free space ok",
		zap.String("need", humanize.IBytes(need)),
		zap.String("free", humanize.IBytes(free)))
	return nil
}

func (p *pass) archive(ctx context.Context, a manifest.ArchiveEntry) error {
	p.enter(StateDownloading)
	archivePath := filepath.Join(p.e.MetaPath(), DownloadDir, a.Name)

	if ok, _, err := checksum.VerifyFile(archivePath, a.Hash); err == nil && ok {
		p.log.Info("reusing downloaded archive", zap.String("archive", a.Name))
		p.passTotal -= int64(a.Size)
	} else {
		n, err := p.fetch(ctx, a.Name, a.Source, archivePath, a.Hash, a.Size)
		if err != nil {
			return err
		}
		p.res.Downloaded = append(p.res.Downloaded, a.Name)
		p.journal.Add(a.Name, journal.ActionDownloaded, n)
	}

	p.enter(StateExtracting)
	members, err := p.e.extractor.Extract(ctx, archivePath, a.Members, p.e.cfg.InstallDir,
		func(done, total int, m extract.Member) {
			p.e.reporter.Extracting(a.Name, done, total, m)
		})

	written := 0
	for _, m := range members {
		p.cache.Put(m.Path, m.Hash)
		if m.Skipped {
			continue
		}
		written++
		p.res.Extracted = append(p.res.Extracted, m.Path)
		p.journal.Add(m.Path, journal.ActionExtracted, 0)
	}
	p.e.metrics.MembersExtracted(written)
	return err
}

// fetch downloads url to dest and verifies it against hash, retrying
// transient failures. A file that fails verification is removed before the
// next attempt. Running out of attempts yields a DownloadExhausted error
// naming the file.
func (p *pass) fetch(ctx context.Context, name, url, dest, hash string, size uint64) (int64, error) {
	if url == "" {
		return 0, syncerr.Parse("resolve source", name, ErrNoSource)
	}

	var written int64
	policy := retry.Config{
		MaxAttempts: p.e.cfg.Attempts,
		Delay:       p.e.cfg.RetryDelay,
		Retryable:   download.Transient,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			p.log.Warn("download failed, retrying",
				zap.String("file", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
			p.e.metrics.Retry()
			p.e.reporter.Retrying(name, attempt, err, wait)
		},
	}

	err := retry.Do(ctx, policy, func(attempt int) error {
		n, err := p.e.fetcher.Fetch(ctx, download.Request{
			URL:          url,
			Dest:         dest,
			ExpectedSize: size,
			Offset:       p.passDone,
			CacheBust:    attempt > 1,
			Progress: func(fileWritten, fileTotal, passWritten int64) {
				p.e.reporter.Downloading(name, fileWritten, fileTotal, passWritten, p.passTotal)
			},
		})
		if err != nil {
			p.e.metrics.Download(metrics.OutcomeFailed, 0)
			return err
		}

		ok, actual, err := checksum.VerifyFile(dest, hash)
		if err != nil {
			return syncerr.FileSystem("hash downloaded file", dest, err)
		}
		if !ok {
			p.e.metrics.Download(metrics.OutcomeCorrupted, 0)
			if rmErr := os.Remove(dest); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
				return syncerr.FileSystem("remove corrupt file", dest, rmErr)
			}
			return syncerr.Integrity(name, hash, actual)
		}

		written = n
		p.e.metrics.Download(metrics.OutcomeOK, n)
		return nil
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return 0, syncerr.Exhausted(name, exhausted.Attempts, exhausted.Err)
	}
	if err != nil {
		return 0, err
	}

	p.passDone += written
	p.res.Bytes += written
	return written, nil
}
