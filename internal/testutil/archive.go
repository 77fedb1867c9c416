package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// ArchiveBytes builds an archive in memory. The container is chosen from
// name: .zip, .tar, .tar.gz/.tgz or .tar.zst/.tzst. Entries are written in
// sorted order.
func ArchiveBytes(t *testing.T, name string, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	lower := strings.ToLower(name)

	if strings.HasSuffix(lower, ".zip") {
		zw := zip.NewWriter(&buf)
		for _, n := range names {
			w, err := zw.Create(n)
			if err != nil {
				t.Fatalf("failed to add %s to zip: %v", n, err)
			}
			if _, err := io.WriteString(w, files[n]); err != nil {
				t.Fatalf("failed to write %s to zip: %v", n, err)
			}
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("failed to close zip: %v", err)
		}
		return buf.Bytes()
	}

	var out io.WriteCloser = nopCloser{&buf}
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		out = gzip.NewWriter(&buf)
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			t.Fatalf("failed to create zstd writer: %v", err)
		}
		out = zw
	case strings.HasSuffix(lower, ".tar"):
	default:
		t.Fatalf("unsupported archive name %s", name)
	}

	tw := tar.NewWriter(out)
	for _, n := range names {
		header := &tar.Header{
			Name:     n,
			Mode:     0644,
			Size:     int64(len(files[n])),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", n, err)
		}
		if _, err := io.WriteString(tw, files[n]); err != nil {
			t.Fatalf("failed to write content for %s: %v", n, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("failed to close compressor: %v", err)
	}
	return buf.Bytes()
}

// WriteArchive writes an archive built by ArchiveBytes to dir/name.
func WriteArchive(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(path, ArchiveBytes(t, name, files), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
