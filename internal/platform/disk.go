package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// FreeSpace returns the bytes available to unprivileged users on the volume
// holding path. When path does not exist yet its nearest existing ancestor
// is measured.
func FreeSpace(ctx context.Context, path string) (uint64, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", path, err)
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", dir, err)
	}
	return usage.Free, nil
}

// SpaceFunc reports free space for a path. FreeSpace satisfies it.
type SpaceFunc func(ctx context.Context, path string) (uint64, error)
