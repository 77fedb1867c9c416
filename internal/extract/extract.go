// Package extract unpacks the declared members of a downloaded archive into
// the install root.
package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/ZebulonRouseFrantzich/mansync/internal/checksum"
	"github.com/ZebulonRouseFrantzich/mansync/internal/manifest"
	"github.com/ZebulonRouseFrantzich/mansync/internal/syncerr"
)

// Format is an archive container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTar
	FormatTarGz
	FormatTarZst
)

// String returns the string representation of the format
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTar:
		return "tar"
	case FormatTarGz:
		return "tar.gz"
	case FormatTarZst:
		return "tar.zst"
	default:
		return "unknown"
	}
}

// DetectFormat picks the format from an archive file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(lower, ".tar"):
		return FormatTar
	default:
		return FormatUnknown
	}
}

// MissingMemberError means the archive does not contain a declared member.
type MissingMemberError struct {
	Archive string
	Path    string
}

func (e *MissingMemberError) Error() string {
	return fmt.Sprintf("archive %s has no member %s", e.Archive, e.Path)
}

// Member reports the outcome for one declared archive member.
type Member struct {
	Path string
	// Hash is the verified hash of the file now on disk.
	Hash string
	// Skipped is true when the file was already correct.
	Skipped bool
}

// MemberFunc is called once per declared member, in completion order.
type MemberFunc func(done, total int, m Member)

// Extractor handles archive extraction
type Extractor struct {
	logger *zap.Logger
}

// New creates a new extractor
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract writes every declared member of the archive at archivePath under
// root. Members already on disk with the right hash are left alone. Every
// written member is verified against its manifest hash. When all members are
// in place the archive file is removed.
func (e *Extractor) Extract(ctx context.Context, archivePath string, members []manifest.FileEntry, root string, progress MemberFunc) ([]Member, error) {
	name := filepath.Base(archivePath)
	format := DetectFormat(name)
	if format == FormatUnknown {
		return nil, syncerr.Parse("detect archive format", name, fmt.Errorf("unsupported archive type"))
	}

	run := &extraction{
		ctx:      ctx,
		archive:  name,
		root:     root,
		total:    len(members),
		progress: progress,
		pending:  make(map[string]manifest.FileEntry),
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return run.results, err
		}
		dest, err := manifest.LocalPath(root, m.Path)
		if err != nil {
			return run.results, syncerr.Parse("resolve member path", m.Path, err)
		}
		ok, actual, err := checksum.VerifyFile(dest, m.Hash)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return run.results, syncerr.FileSystem("hash file", dest, err)
		}
		if ok {
			run.done(Member{Path: m.Path, Hash: actual, Skipped: true})
			continue
		}
		run.pending[memberKey(m.Path)] = m
		run.order = append(run.order, m.Path)
	}

	if len(run.pending) > 0 {
		var err error
		switch format {
		case FormatZip:
			err = run.fromZip(archivePath)
		default:
			err = run.fromTar(archivePath, format)
		}
		if err != nil {
			return run.results, err
		}
	}

	e.logger.Debug("archive extracted",
		zap.String("archive", name),
		zap.String("format", format.String()),
		zap.Int("written", len(run.order)),
		zap.Int("skipped", len(members)-len(run.order)))

	if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("failed to remove archive", zap.String("path", archivePath), zap.Error(err))
	}
	return run.results, nil
}

type extraction struct {
	ctx      context.Context
	archive  string
	root     string
	total    int
	progress MemberFunc

	// pending is keyed by normalized member path.
	pending map[string]manifest.FileEntry
	order   []string
	results []Member
}

func (x *extraction) done(m Member) {
	x.results = append(x.results, m)
	if x.progress != nil {
		x.progress(len(x.results), x.total, m)
	}
}

func (x *extraction) fromZip(archivePath string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return syncerr.FileSystem("open archive", archivePath, err)
	}
	defer zr.Close()

	index := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		index[memberKey(f.Name)] = f
	}

	for _, rel := range x.order {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		entry := x.pending[memberKey(rel)]
		f, ok := index[memberKey(rel)]
		if !ok {
			return &MissingMemberError{Archive: x.archive, Path: rel}
		}

		rc, err := f.Open()
		if err != nil {
			return syncerr.FileSystem("open archive member", rel, err)
		}
		err = x.write(rc, entry)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (x *extraction) fromTar(archivePath string, format Format) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return syncerr.FileSystem("open archive", archivePath, err)
	}
	defer file.Close()

	var r io.Reader = file
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(file)
		if err != nil {
			return syncerr.Parse("create gzip reader", x.archive, err)
		}
		defer gz.Close()
		r = gz
	case FormatTarZst:
		zr, err := zstd.NewReader(file)
		if err != nil {
			return syncerr.Parse("create zstd reader", x.archive, err)
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for len(x.pending) > 0 {
		if err := x.ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return syncerr.Parse("read tar header", x.archive, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		key := memberKey(header.Name)
		entry, ok := x.pending[key]
		if !ok {
			continue
		}
		if err := x.write(tr, entry); err != nil {
			return err
		}
	}

	for _, rel := range x.order {
		if _, ok := x.pending[memberKey(rel)]; ok {
			return &MissingMemberError{Archive: x.archive, Path: rel}
		}
	}
	return nil
}

// write streams one member into place through a temp file and verifies it.
func (x *extraction) write(r io.Reader, entry manifest.FileEntry) error {
	dest, err := manifest.LocalPath(x.root, entry.Path)
	if err != nil {
		return syncerr.Parse("resolve member path", entry.Path, err)
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return syncerr.FileSystem("create directory", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return syncerr.FileSystem("create file", dest, err)
	}
	tmpPath := tmp.Name()
	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	actual, err := checksum.HashReader(io.TeeReader(r, tmp))
	if err != nil {
		return syncerr.FileSystem("write file", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return syncerr.FileSystem("close file", dest, err)
	}
	if !checksum.Equal(actual, entry.Hash) {
		return syncerr.Integrity(entry.Path, checksum.Normalize(entry.Hash), actual)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return syncerr.FileSystem("chmod file", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return syncerr.FileSystem("rename file", dest, err)
	}
	cleanupNeeded = false

	delete(x.pending, memberKey(entry.Path))
	x.done(Member{Path: entry.Path, Hash: actual})
	return nil
}

func memberKey(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	return strings.TrimPrefix(name, "/")
}
