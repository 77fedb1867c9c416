// Package syncerr defines the error taxonomy shared by the sync pipeline.
//
// Every surfaced error carries the file, path or URL it concerns and the
// operation that failed, so callers can tell which asset broke a pass.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a sync failure.
type Kind int

const (
	// KindNetwork is a request send/receive failure.
	KindNetwork Kind = iota + 1
	// KindFileSystem is a create/read/write/delete failure.
	KindFileSystem
	// KindIntegrity means content did not hash to the manifest value.
	KindIntegrity
	// KindParse means a manifest, signature or cache document was malformed.
	KindParse
	// KindDownloadExhausted means every attempt for one file failed.
	KindDownloadExhausted
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindFileSystem:
		return "filesystem"
	case KindIntegrity:
		return "integrity"
	case KindParse:
		return "parse"
	case KindDownloadExhausted:
		return "download exhausted"
	default:
		return "unknown"
	}
}

// Error is a classified sync failure.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "create file" or "manifest fetch".
	Op string
	// Path is the relative path, absolute path or URL involved.
	Path string

	// Expected and Actual are set for integrity failures.
	Expected string
	Actual   string

	// Attempts is set for exhausted downloads.
	Attempts int

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindIntegrity:
		return fmt.Sprintf("integrity check failed for %q: expected %s, got %s", e.Path, e.Expected, e.Actual)
	case KindDownloadExhausted:
		if e.Err != nil {
			return fmt.Sprintf("download failed for %q after %d attempts: %v", e.Path, e.Attempts, e.Err)
		}
		return fmt.Sprintf("download failed for %q after %d attempts", e.Path, e.Attempts)
	}

	msg := fmt.Sprintf("%s error during %s", e.Kind, e.Op)
	if e.Path != "" {
		msg += fmt.Sprintf(" on %q", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Network wraps a transport failure.
func Network(op, url string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Path: url, Err: err}
}

// FileSystem wraps a filesystem failure.
func FileSystem(op, path string, err error) error {
	return &Error{Kind: KindFileSystem, Op: op, Path: path, Err: err}
}

// Integrity reports a hash mismatch for path.
func Integrity(path, expected, actual string) error {
	return &Error{Kind: KindIntegrity, Op: "verify", Path: path, Expected: expected, Actual: actual}
}

// Parse wraps a decoding failure of the named document.
func Parse(op, path string, err error) error {
	return &Error{Kind: KindParse, Op: op, Path: path, Err: err}
}

// Exhausted reports that every download attempt for path failed. last is the
// failure of the final attempt.
func Exhausted(path string, attempts int, last error) error {
	return &Error{Kind: KindDownloadExhausted, Op: "download", Path: path, Attempts: attempts, Err: last}
}

// IsKind reports whether err wraps a sync error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}

// KindOf returns the kind of the outermost sync error in err's chain, or 0.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
