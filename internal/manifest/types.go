package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileEntry is one file the installation should contain.
type FileEntry struct {
	// Hash is the expected BLAKE3 digest, hex encoded.
	Hash string
	// Size is the declared byte size.
	Size uint64
	// Path is relative to the install root, slash separated.
	Path string
	// Source is the download URL. Empty for archive members.
	Source string
}

// ArchiveEntry is a compressed bundle that carries several files.
type ArchiveEntry struct {
	Hash    string
	Size    uint64
	Name    string
	Source  string
	Members []FileEntry
}

// MemberSize is the sum of the declared member sizes.
func (a ArchiveEntry) MemberSize() uint64 {
	var total uint64
	for _, m := range a.Members {
		total += m.Size
	}
	return total
}

// Rename moves a legacy file to its new location before diffing.
type Rename struct {
	From string
	To   string
}

// ReconcileSpec lists the structural fixes applied around a pass.
type ReconcileSpec struct {
	Renames   []Rename
	Deletions []string
}

// Empty reports whether there is nothing to reconcile.
func (r ReconcileSpec) Empty() bool {
	return len(r.Renames) == 0 && len(r.Deletions) == 0
}

// Manifest is the desired state of an installation. It is not modified
// during a pass.
type Manifest struct {
	Files     []FileEntry
	Archives  []ArchiveEntry
	Reconcile ReconcileSpec
}

// Entries returns the number of files plus archive members.
func (m *Manifest) Entries() int {
	n := len(m.Files)
	for _, a := range m.Archives {
		n += len(a.Members)
	}
	return n
}

// WithReconcile returns a copy of m whose reconcile lists are extended by
// extra. Entries from m come first.
func (m *Manifest) WithReconcile(extra ReconcileSpec) *Manifest {
	out := *m
	out.Reconcile = ReconcileSpec{
		Renames:   append(append([]Rename(nil), m.Reconcile.Renames...), extra.Renames...),
		Deletions: append(append([]string(nil), m.Reconcile.Deletions...), extra.Deletions...),
	}
	return &out
}

// LocalPath maps a manifest relative path under root. Absolute paths and
// paths that climb out of root are rejected.
func LocalPath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("empty path")
	}
	rel = SlashPath(rel)
	native := filepath.FromSlash(rel)
	if !filepath.IsLocal(native) {
		return "", fmt.Errorf("path %q escapes install root", rel)
	}
	return filepath.Join(root, native), nil
}

// SlashPath converts backslash separators in a relative path to the forward
// slashes used by manifest paths and hash cache keys.
func SlashPath(rel string) string {
	return strings.ReplaceAll(rel, "\\", "/")
}
