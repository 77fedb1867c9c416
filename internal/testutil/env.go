// Package testutil provides fixtures for testing mansync in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/mansync/internal/checksum"
)

// Env is an isolated install tree for one test.
type Env struct {
	// Root is the install directory.
	Root string
	// Config is the path MANSYNC_CONFIG points at.
	Config string
}

// SetupTestEnv creates an isolated install directory and points the
// MANSYNC_* environment at it so tests never touch a real installation.
//
// Cleanup is handled by t.TempDir.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Root:   filepath.Join(tmpDir, "install"),
		Config: filepath.Join(tmpDir, "mansync.lua"),
	}

	t.Setenv("MANSYNC_CONFIG", env.Config)
	t.Setenv("MANSYNC_TEST_MODE", "1")

	if err := os.MkdirAll(env.Root, 0o750); err != nil {
		t.Fatalf("failed to create test directory %s: %v", env.Root, err)
	}
	return env
}

// Hash returns the hex BLAKE3 digest of content.
func Hash(content string) string {
	return checksum.HashBytes([]byte(content))
}

// WriteFile creates root/rel with content, making parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// ReadFile returns the content of root/rel, failing the test if it is absent.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// Exists reports whether root/rel exists.
func Exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}
