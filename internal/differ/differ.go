// Package differ decides which manifest entries are missing or stale on disk.
//
// It consults the hash cache before hashing (cache-aside): a hit whose file
// still has the declared size is trusted, anything else is hashed and the
// fresh hash is written back to the cache whether or not it matches.
package differ

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/checksum"
	"github.com/ZebulonRouseFrantzich/mansync/internal/hashcache"
	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

// ProgressFunc is invoked once per file or archive member considered,
// including members skipped by short-circuit.
type ProgressFunc func(done, total int, path string)

// Result lists the stale entries in manifest order.
type Result struct {
	Files    []manifest.FileEntry
	Archives []manifest.ArchiveEntry
	// Checked is the number of entries considered.
	Checked int
	// Hashed is the number of files that had to be read.
	Hashed int
}

// UpToDate reports whether nothing needs fetching.
func (r *Result) UpToDate() bool {
	return len(r.Files) == 0 && len(r.Archives) == 0
}

// Bytes is the sum of the declared sizes of everything that must be fetched.
func (r *Result) Bytes() uint64 {
	var total uint64
	for _, f := range r.Files {
		total += f.Size
	}
	for _, a := range r.Archives {
		total += a.Size
	}
	return total
}

// Differ compares a manifest with an install root.
type Differ struct {
	root     string
	cache    *hashcache.Cache
	progress ProgressFunc
	logger   *zap.Logger
}

// Option configures a Differ.
type Option func(*Differ)

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Differ) { d.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Differ) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a differ for root. A nil cache behaves like an empty one.
func New(root string, cache *hashcache.Cache, opts ...Option) *Differ {
	if cache == nil {
		cache = hashcache.New()
	}
	d := &Differ{root: root, cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Diff walks every file and archive of m.
func (d *Differ) Diff(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	res := &Result{}
	total := m.Entries()

	tick := func(path string) {
		res.Checked++
		if d.progress != nil {
			d.progress(res.Checked, total, path)
		}
	}

	for _, f := range m.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stale, err := d.stale(f, res)
		if err != nil {
			return nil, err
		}
		if stale {
			res.Files = append(res.Files, f)
		}
		tick(f.Path)
	}

	for _, a := range m.Archives {
		staleAt := -1
		for i, member := range a.Members {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			stale, err := d.stale(member, res)
			if err != nil {
				return nil, err
			}
			tick(member.Path)
			if stale {
				staleAt = i
				break
			}
		}

		if staleAt < 0 {
			continue
		}
		for _, skipped := range a.Members[staleAt+1:] {
			tick(skipped.Path)
		}
		d.logger.Debug("archive stale",
			zap.String("archive", a.Name),
			zap.String("first_stale", a.Members[staleAt].Path))
		res.Archives = append(res.Archives, a)
	}

	d.logger.Debug("diff complete",
		zap.Int("checked", res.Checked),
		zap.Int("hashed", res.Hashed),
		zap.Int("stale_files", len(res.Files)),
		zap.Int("stale_archives", len(res.Archives)))
	return res, nil
}

func (d *Differ) stale(f manifest.FileEntry, res *Result) (bool, error) {
	local, err := manifest.LocalPath(d.root, f.Path)
	if err != nil {
		return false, syncerr.Parse("resolve path", f.Path, err)
	}

	info, err := os.Stat(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, syncerr.FileSystem("stat", local, err)
	}
	if info.IsDir() {
		return true, nil
	}

	// A hit is trusted only while the file still has the declared size; a
	// declared empty file counts too.
	if cached, ok := d.cache.Get(f.Path); ok && uint64(info.Size()) == f.Size {
		return !checksum.Equal(cached, f.Hash), nil
	}

	actual, err := checksum.HashFile(local)
	if err != nil {
		return false, syncerr.FileSystem("hash file", local, err)
	}
	res.Hashed++
	d.cache.Put(f.Path, actual)
	return !checksum.Equal(actual, f.Hash), nil
}
