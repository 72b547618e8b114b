package volume

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage is the space accounting of a filesystem.
type Usage struct {
	Free  uint64
	Total uint64
}

// UsageFunc reports the usage of the filesystem holding path.
type UsageFunc func(path string) (Usage, error)

// DiskUsage queries the filesystem holding path. Free is the space available to an
// unprivileged writer.
func DiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	return Usage{
		Free:  uint64(stat.Bavail) * uint64(stat.Bsize),
		Total: uint64(stat.Blocks) * uint64(stat.Bsize),
	}, nil
}
