package engine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/mansync/internal/download"
	"github.com/ZebulonRouseFrantzich/mansync/internal/extract"
	"github.com/ZebulonRouseFrantzich/mansync/internal/hashcache"
	"github.com/ZebulonRouseFrantzich/mansync/internal/journal"
	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
	"github.com/ZebulonRouseFrantzich/mansync/internal/testutil"
)

// recordingReporter keeps every callback for assertions.
type recordingReporter struct {
	NopReporter
	states    []State
	checked   int
	retries   []int
	extracted []extract.Member
	lastPass  int64
	passTotal int64
}

func (r *recordingReporter) StateChanged(s State) { r.states = append(r.states, s) }

func (r *recordingReporter) Checking(done, total int, path string) { r.checked = done }

func (r *recordingReporter) Downloading(name string, fileWritten, fileTotal, passWritten, passTotal int64) {
	r.lastPass = passWritten
	r.passTotal = passTotal
}

func (r *recordingReporter) Retrying(name string, attempt int, err error, wait time.Duration) {
	r.retries = append(r.retries, attempt)
}

func (r *recordingReporter) Extracting(archive string, done, total int, m extract.Member) {
	r.extracted = append(r.extracted, m)
}

type fixture struct {
	root     string
	cdn      *testutil.CDN
	reporter *recordingReporter
	cfg      Config
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := testutil.SetupTestEnv(t)
	f := &fixture{
		root:     env.Root,
		cdn:      testutil.NewCDN(t),
		reporter: &recordingReporter{},
	}
	f.cfg = Config{InstallDir: env.Root, Attempts: 3}
	f.deps = Deps{
		Fetcher:  download.NewDownloader(download.WithTimeout(10 * time.Second)),
		Reporter: f.reporter,
	}
	return f
}

func (f *fixture) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(f.cfg, f.deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

// file publishes content on the CDN and returns its manifest entry.
func (f *fixture) file(path, content string) manifest.FileEntry {
	f.cdn.Serve(path, []byte(content))
	return manifest.FileEntry{
		Path:   path,
		Hash:   testutil.Hash(content),
		Size:   uint64(len(content)),
		Source: f.cdn.URL(path),
	}
}

func (f *fixture) archive(t *testing.T, name string, members map[string]string) manifest.ArchiveEntry {
	t.Helper()
	data := testutil.ArchiveBytes(t, name, members)
	f.cdn.Serve(name, data)

	a := manifest.ArchiveEntry{
		Name:   name,
		Hash:   testutil.Hash(string(data)),
		Size:   uint64(len(data)),
		Source: f.cdn.URL(name),
	}
	for path, content := range members {
		a.Members = append(a.Members, manifest.FileEntry{
			Path: path,
			Hash: testutil.Hash(content),
			Size: uint64(len(content)),
		})
	}
	return a
}

func (f *fixture) cacheSnapshot(t *testing.T) map[string]string {
	t.Helper()
	return hashcache.Load(filepath.Join(f.root, DefaultMetaDir), nil).Snapshot()
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}, Deps{Fetcher: download.NewDownloader()}); err == nil {
		t.Error("expected error without install dir")
	}
	if _, err := New(Config{InstallDir: t.TempDir()}, Deps{}); err == nil {
		t.Error("expected error without fetcher")
	}

	e, err := New(Config{InstallDir: "/games"}, Deps{Fetcher: download.NewDownloader()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.cfg.Attempts != DefaultAttempts {
		t.Errorf("Attempts = %d, want %d", e.cfg.Attempts, DefaultAttempts)
	}
	if e.MetaPath() != filepath.Join("/games", DefaultMetaDir) {
		t.Errorf("MetaPath() = %q", e.MetaPath())
	}
}

// x.bin is missing, gets downloaded and verified, lands in the cache, and
// a second pass finds nothing to do.
func TestRunConcreteScenarioAndIdempotence(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", strings.Repeat("x", 100))
	m := &manifest.Manifest{Files: []manifest.FileEntry{x}}

	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateDone {
		t.Errorf("State = %v, want done", res.State)
	}
	if !reflect.DeepEqual(res.Downloaded, []string{"x.bin"}) {
		t.Errorf("Downloaded = %v", res.Downloaded)
	}
	if res.Bytes != 100 {
		t.Errorf("Bytes = %d, want 100", res.Bytes)
	}
	if testutil.ReadFile(t, f.root, "x.bin") != strings.Repeat("x", 100) {
		t.Error("x.bin content mismatch")
	}
	if res.RunID == "" {
		t.Error("RunID not set")
	}
	if f.reporter.lastPass != 100 || f.reporter.passTotal != 100 {
		t.Errorf("pass progress = %d/%d, want 100/100", f.reporter.lastPass, f.reporter.passTotal)
	}

	first := f.cacheSnapshot(t)
	if first["x.bin"] != x.Hash {
		t.Errorf("cache[x.bin] = %q, want %q", first["x.bin"], x.Hash)
	}

	res, err = f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.State != StateUpToDate {
		t.Errorf("second State = %v, want up_to_date", res.State)
	}
	if len(res.Downloaded) != 0 {
		t.Errorf("second pass downloaded %v", res.Downloaded)
	}
	if got := f.cdn.Requests("x.bin"); got != 1 {
		t.Errorf("x.bin requested %d times, want 1", got)
	}
	if second := f.cacheSnapshot(t); !reflect.DeepEqual(first, second) {
		t.Errorf("cache changed between passes: %v -> %v", first, second)
	}

	wantTrace := []State{StateReconcilingRenames, StateDiffing, StateReconcilingDeletions, StatePersisting, StateUpToDate}
	if !reflect.DeepEqual(res.Trace, wantTrace) {
		t.Errorf("Trace = %v, want %v", res.Trace, wantTrace)
	}
}

func TestRunTrace(t *testing.T) {
	f := newFixture(t)
	m := &manifest.Manifest{
		Files:    []manifest.FileEntry{f.file("a.bin", "a")},
		Archives: []manifest.ArchiveEntry{f.archive(t, "base.zip", map[string]string{"main/x.iwd": "x"})},
	}

	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []State{
		StateReconcilingRenames, StateDiffing, StateDownloading, StateExtracting,
		StateReconcilingDeletions, StatePersisting, StateDone,
	}
	if !reflect.DeepEqual(res.Trace, want) {
		t.Errorf("Trace = %v, want %v", res.Trace, want)
	}
	if !reflect.DeepEqual(f.reporter.states, want) {
		t.Errorf("reported states = %v, want %v", f.reporter.states, want)
	}
}

func TestRunCorruptionRecovery(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "good bytes")
	f.cdn.CorruptNext("x.bin", 1)

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateDone {
		t.Errorf("State = %v", res.State)
	}
	if got := f.cdn.Requests("x.bin"); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if !reflect.DeepEqual(f.reporter.retries, []int{1}) {
		t.Errorf("retries = %v, want [1]", f.reporter.retries)
	}
	if testutil.ReadFile(t, f.root, "x.bin") != "good bytes" {
		t.Error("x.bin not replaced with verified content")
	}
}

func TestRunCorruptionExhausted(t *testing.T) {
	f := newFixture(t)
	f.cfg.Attempts = 2
	x := f.file("x.bin", "good bytes")
	f.cdn.CorruptNext("x.bin", 10)

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if !syncerr.IsKind(err, syncerr.KindDownloadExhausted) {
		t.Fatalf("error = %v, want DownloadExhausted", err)
	}
	if !strings.Contains(err.Error(), "x.bin") {
		t.Errorf("error %q does not name the file", err)
	}
	var se *syncerr.Error
	if errors.As(err, &se) && se.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", se.Attempts)
	}
	if res == nil || res.State != StateAborted {
		t.Errorf("result = %+v, want aborted", res)
	}
	if got := f.cdn.Requests("x.bin"); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
	if testutil.Exists(f.root, "x.bin") {
		t.Error("corrupt x.bin left on disk")
	}
}

func TestRunPermanentStatusNotRetried(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "content")
	f.cdn.Status("x.bin", http.StatusNotFound)

	_, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	var se *download.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 StatusError", err)
	}
	if syncerr.IsKind(err, syncerr.KindDownloadExhausted) {
		t.Error("permanent status should not be reported as exhausted")
	}
	if got := f.cdn.Requests("x.bin"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestRunCacheBustOnRetry(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "content")
	f.cdn.FailNext("x.bin", 2)

	if _, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	queries := f.cdn.Queries("x.bin")
	if len(queries) != 3 {
		t.Fatalf("requests = %d, want 3", len(queries))
	}
	if queries[0].Has(download.CacheBustParam) {
		t.Error("first attempt should not be cache-busted")
	}
	if !queries[1].Has(download.CacheBustParam) || !queries[2].Has(download.CacheBustParam) {
		t.Error("retries should be cache-busted")
	}
	if queries[1].Get(download.CacheBustParam) == queries[2].Get(download.CacheBustParam) {
		t.Error("cache-bust values should differ between attempts")
	}
}

func TestRunRenameBeforeDiff(t *testing.T) {
	f := newFixture(t)
	testutil.WriteFile(t, f.root, "a.dat", "payload")
	b := f.file("b.dat", "payload")

	m := &manifest.Manifest{
		Files:     []manifest.FileEntry{b},
		Reconcile: manifest.ReconcileSpec{Renames: []manifest.Rename{{From: "a.dat", To: "b.dat"}}},
	}
	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateUpToDate {
		t.Errorf("State = %v, want up_to_date", res.State)
	}
	if res.Renamed != 1 {
		t.Errorf("Renamed = %d, want 1", res.Renamed)
	}
	if f.cdn.TotalRequests() != 0 {
		t.Errorf("made %d requests, want none", f.cdn.TotalRequests())
	}
	if testutil.Exists(f.root, "a.dat") || !testutil.Exists(f.root, "b.dat") {
		t.Error("rename not applied")
	}
}

func TestRunRenameFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	testutil.WriteFile(t, f.root, "iw4x-launcher.json", "{}")
	// A regular file where the target's parent directory should be.
	testutil.WriteFile(t, f.root, "launcher", "not a directory")
	x := f.file("x.bin", "x")

	m := &manifest.Manifest{
		Files: []manifest.FileEntry{x},
		Reconcile: manifest.ReconcileSpec{Renames: []manifest.Rename{
			{From: "iw4x-launcher.json", To: "launcher/config.json"},
		}},
	}
	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateDone || res.Renamed != 0 {
		t.Errorf("State = %v, Renamed = %d; want done, 0", res.State, res.Renamed)
	}
	if testutil.ReadFile(t, f.root, "x.bin") != "x" {
		t.Error("x.bin not downloaded after failed rename")
	}
	if !testutil.Exists(f.root, "iw4x-launcher.json") {
		t.Error("rename source should be left in place")
	}
}

func TestRunRenameEscapingRootAborts(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "x")

	m := &manifest.Manifest{
		Files:     []manifest.FileEntry{x},
		Reconcile: manifest.ReconcileSpec{Renames: []manifest.Rename{{From: "a.dat", To: "../outside.dat"}}},
	}
	res, err := f.engine(t).Run(context.Background(), m)
	if !syncerr.IsKind(err, syncerr.KindParse) {
		t.Fatalf("error = %v, want Parse kind", err)
	}
	if res.State != StateAborted || f.cdn.TotalRequests() != 0 {
		t.Errorf("State = %v, requests = %d; want aborted before any download", res.State, f.cdn.TotalRequests())
	}
}

func TestRunRenameBackslashPathsMoveCacheEntry(t *testing.T) {
	f := newFixture(t)
	testutil.WriteFile(t, f.root, "old/a.dat", "payload")
	b := f.file("new/b.dat", "payload")

	cache := hashcache.New()
	cache.Put("old/a.dat", b.Hash)
	if err := cache.Save(filepath.Join(f.root, DefaultMetaDir)); err != nil {
		t.Fatal(err)
	}

	f.cfg.Reconcile = manifest.ReconcileSpec{Renames: []manifest.Rename{{From: `old\a.dat`, To: `new\b.dat`}}}
	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{b}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Renamed != 1 || res.State != StateUpToDate {
		t.Errorf("Renamed = %d, State = %v; want 1, up_to_date", res.Renamed, res.State)
	}
	want := map[string]string{"new/b.dat": b.Hash}
	if got := f.cacheSnapshot(t); !reflect.DeepEqual(got, want) {
		t.Errorf("cache = %v, want %v", got, want)
	}
}

func TestRunArchive(t *testing.T) {
	f := newFixture(t)
	a := f.archive(t, "base.tar.zst", map[string]string{
		"main/iw_00.iwd": "iwd zero",
		"zone/common.ff": "fastfile",
		"players/x.cfg":  "cfg",
	})

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Archives: []manifest.ArchiveEntry{a}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Extracted) != 3 {
		t.Errorf("Extracted = %v, want 3 members", res.Extracted)
	}
	if testutil.ReadFile(t, f.root, "zone/common.ff") != "fastfile" {
		t.Error("member content mismatch")
	}
	if _, err := os.Stat(filepath.Join(f.root, DefaultMetaDir, DownloadDir, "base.tar.zst")); !os.IsNotExist(err) {
		t.Error("archive should be removed after extraction")
	}

	cache := f.cacheSnapshot(t)
	if cache["main/iw_00.iwd"] != testutil.Hash("iwd zero") {
		t.Errorf("member missing from cache: %v", cache)
	}

	res, err = f.engine(t).Run(context.Background(), &manifest.Manifest{Archives: []manifest.ArchiveEntry{a}})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if res.State != StateUpToDate || f.cdn.Requests("base.tar.zst") != 1 {
		t.Errorf("second pass state = %v, requests = %d", res.State, f.cdn.Requests("base.tar.zst"))
	}
}

// A previous pass downloaded the archive and extracted one member before
// failing. The next pass reuses the archive and writes only what is missing.
func TestRunExtractionResume(t *testing.T) {
	f := newFixture(t)
	members := map[string]string{"a.txt": "alpha", "b.txt": "bravo", "c.txt": "charlie"}
	a := f.archive(t, "base.zip", members)
	f.cdn.Status("base.zip", http.StatusGone)

	testutil.WriteArchive(t, filepath.Join(f.root, DefaultMetaDir, DownloadDir), "base.zip", members)
	testutil.WriteFile(t, f.root, "a.txt", "alpha")
	testutil.WriteFile(t, f.root, "b.txt", "stale")

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Archives: []manifest.ArchiveEntry{a}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.cdn.Requests("base.zip") != 0 {
		t.Error("downloaded archive should have been reused")
	}
	if len(res.Downloaded) != 0 {
		t.Errorf("Downloaded = %v, want none", res.Downloaded)
	}

	got := map[string]bool{}
	for _, p := range res.Extracted {
		got[p] = true
	}
	if len(got) != 2 || !got["b.txt"] || !got["c.txt"] {
		t.Errorf("Extracted = %v, want b.txt and c.txt", res.Extracted)
	}
	if testutil.ReadFile(t, f.root, "b.txt") != "bravo" {
		t.Error("stale member not rewritten")
	}
}

func TestRunMissingArchiveMember(t *testing.T) {
	f := newFixture(t)
	a := f.archive(t, "base.zip", map[string]string{"a.txt": "alpha"})
	a.Members = append(a.Members, manifest.FileEntry{Path: "ghost.txt", Hash: testutil.Hash("boo"), Size: 3})

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Archives: []manifest.ArchiveEntry{a}})
	var missing *extract.MissingMemberError
	if !errors.As(err, &missing) || missing.Path != "ghost.txt" {
		t.Fatalf("error = %v, want missing member ghost.txt", err)
	}
	if res.State != StateAborted {
		t.Errorf("State = %v, want aborted", res.State)
	}
}

func TestRunDeletions(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "x")
	testutil.WriteFile(t, f.root, "old.log", "log")
	testutil.WriteFile(t, f.root, "legacy/data.bin", "data")

	f.cfg.Reconcile = manifest.ReconcileSpec{Deletions: []string{"legacy", "never-existed"}}
	m := &manifest.Manifest{
		Files:     []manifest.FileEntry{x},
		Reconcile: manifest.ReconcileSpec{Deletions: []string{"old.log"}},
	}

	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("Deleted = %d, want 2", res.Deleted)
	}
	if testutil.Exists(f.root, "old.log") || testutil.Exists(f.root, "legacy") {
		t.Error("deletions not applied")
	}
}

func TestRunDeletionsDropNestedCacheEntries(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "x")
	testutil.WriteFile(t, f.root, "legacy/data.bin", "data")
	testutil.WriteFile(t, f.root, "legacy/sub/more.bin", "more")

	cache := hashcache.New()
	cache.Put("legacy/data.bin", testutil.Hash("data"))
	cache.Put("legacy/sub/more.bin", testutil.Hash("more"))
	cache.Put("legacy-keep.bin", testutil.Hash("keep"))
	if err := cache.Save(filepath.Join(f.root, DefaultMetaDir)); err != nil {
		t.Fatal(err)
	}

	f.cfg.Reconcile = manifest.ReconcileSpec{Deletions: []string{"legacy"}}
	if _, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := f.cacheSnapshot(t)
	for _, k := range []string{"legacy/data.bin", "legacy/sub/more.bin"} {
		if _, ok := got[k]; ok {
			t.Errorf("cache still holds %s", k)
		}
	}
	if _, ok := got["legacy-keep.bin"]; !ok {
		t.Error("sibling entry legacy-keep.bin was dropped")
	}
}

func TestRunDiskPreflight(t *testing.T) {
	f := newFixture(t)
	f.cfg.CheckDiskSpace = true
	f.deps.FreeSpace = func(context.Context, string) (uint64, error) { return 10, nil }
	x := f.file("x.bin", strings.Repeat("x", 100))

	_, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if !syncerr.IsKind(err, syncerr.KindFileSystem) {
		t.Fatalf("error = %v, want FileSystem", err)
	}
	if f.cdn.TotalRequests() != 0 {
		t.Error("nothing should be downloaded when space is short")
	}

	f.deps.FreeSpace = func(context.Context, string) (uint64, error) { return 0, errors.New("statfs failed") }
	if _, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}}); err != nil {
		t.Errorf("free space detection failure should be ignored, got %v", err)
	}
}

func TestRunMissingSource(t *testing.T) {
	f := newFixture(t)
	x := manifest.FileEntry{Path: "x.bin", Hash: testutil.Hash("x"), Size: 1}

	_, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if !errors.Is(err, ErrNoSource) || !syncerr.IsKind(err, syncerr.KindParse) {
		t.Errorf("error = %v, want ErrNoSource parse error", err)
	}
}

func TestRunForceRehashes(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "fresh")
	testutil.WriteFile(t, f.root, "x.bin", "stale")

	// A cache that vouches for the wrong content of the right size.
	cache := hashcache.New()
	cache.Put("x.bin", x.Hash)
	if err := cache.Save(filepath.Join(f.root, DefaultMetaDir)); err != nil {
		t.Fatal(err)
	}
	m := &manifest.Manifest{Files: []manifest.FileEntry{x}}

	res, err := f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.State != StateUpToDate {
		t.Fatalf("without force the cache is trusted, got %v", res.State)
	}

	f.cfg.Force = true
	res, err = f.engine(t).Run(context.Background(), m)
	if err != nil {
		t.Fatalf("forced Run() error = %v", err)
	}
	if res.State != StateDone || testutil.ReadFile(t, f.root, "x.bin") != "fresh" {
		t.Errorf("forced pass did not repair x.bin: state %v", res.State)
	}
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func TestRunJournal(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "x")
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	f.deps.Clock = &stepClock{now: start, step: 2 * time.Second}

	res, err := f.engine(t).Run(context.Background(), &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	rec, err := journal.Load(filepath.Join(f.root, DefaultMetaDir))
	if err != nil {
		t.Fatalf("journal.Load() error = %v", err)
	}
	if rec.ID != res.RunID || rec.Status != journal.StatusDone {
		t.Errorf("journal = %+v", rec)
	}
	if rec.Count(journal.ActionDownloaded) != 1 || rec.Bytes != 1 {
		t.Errorf("journal entries = %+v", rec.Entries)
	}
	if !rec.Started.Equal(start) || rec.Duration() != 2*time.Second {
		t.Errorf("journal started %v, duration %v", rec.Started, rec.Duration())
	}
	if res.Duration != 2*time.Second {
		t.Errorf("Result.Duration = %v, want 2s", res.Duration)
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	x := f.file("x.bin", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine(t).Run(ctx, &manifest.Manifest{Files: []manifest.FileEntry{x}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res.State != StateAborted {
		t.Errorf("State = %v, want aborted", res.State)
	}
}

func TestCheck(t *testing.T) {
	f := newFixture(t)
	testutil.WriteFile(t, f.root, "a.dat", "payload")
	b := f.file("b.dat", "payload")
	ok := f.file("ok.bin", "ok")
	testutil.WriteFile(t, f.root, "ok.bin", "ok")

	m := &manifest.Manifest{
		Files:     []manifest.FileEntry{b, ok},
		Reconcile: manifest.ReconcileSpec{Renames: []manifest.Rename{{From: "a.dat", To: "b.dat"}}},
	}
	res, err := f.engine(t).Check(context.Background(), m)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if len(res.Files) != 1 || res.Files[0].Path != "b.dat" {
		t.Errorf("stale = %v, want only b.dat", res.Files)
	}
	if !testutil.Exists(f.root, "a.dat") {
		t.Error("Check() must not apply renames")
	}
	if f.cdn.TotalRequests() != 0 {
		t.Error("Check() must not download")
	}
	if f.cacheSnapshot(t)["ok.bin"] != ok.Hash {
		t.Error("Check() should persist computed hashes")
	}
	if f.reporter.checked != 2 {
		t.Errorf("checked = %d, want 2", f.reporter.checked)
	}
}

func TestStateString(t *testing.T) {
	if StateReconcilingDeletions.String() != "reconciling_deletions" {
		t.Errorf("String() = %q", StateReconcilingDeletions.String())
	}
	if State(99).String() != "unknown" {
		t.Error("out of range state should be unknown")
	}
	if !StateUpToDate.Terminal() || StateDownloading.Terminal() {
		t.Error("Terminal() wrong")
	}
}
