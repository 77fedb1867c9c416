// Package lock serializes sync passes against one install directory.
package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// FileName is the lock file name inside the metadata directory.
	FileName = "sync.lock"
	// StaleLockThreshold is the maximum age of a lock before it's considered stale.
	StaleLockThreshold = 6 * time.Hour
)

var (
	ErrLockExists = errors.New("sync lock exists: another pass may be in progress")
)

// Lock represents a held sync lock.
type Lock struct {
	path string
	file *os.File
}

// Info is the metadata recorded in a lock file.
type Info struct {
	PID       int
	Timestamp time.Time
}

// Acquire takes the lock in dir. A lock whose owner process has exited or
// that is older than StaleLockThreshold is replaced.
func Acquire(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, FileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if !IsStale(ctx, lockPath) {
			return nil, ErrLockExists
		}
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: lockPath, file: file}, nil
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.path = ""
	}

	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// ReadInfo parses a lock file.
func ReadInfo(lockPath string) (Info, error) {
	file, err := os.Open(lockPath)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()

	var info Info
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "timestamp":
			info.Timestamp, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info, scanner.Err()
}

// IsStale reports whether the lock at lockPath may be broken.
func IsStale(ctx context.Context, lockPath string) bool {
	stat, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	if time.Since(stat.ModTime()) > StaleLockThreshold {
		return true
	}

	info, err := ReadInfo(lockPath)
	if err != nil || info.PID <= 0 {
		return false
	}
	if info.PID == os.Getpid() {
		return false
	}

	alive, err := process.PidExistsWithContext(ctx, int32(info.PID))
	if err != nil {
		return false
	}
	return !alive
}
