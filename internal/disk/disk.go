package disk

import (
	"syscall"
)

// Usage describes the filesystem holding a path
type Usage struct {
	UsedPercent float64
	FreeBytes   int64
	TotalBytes  int64
}

// GetUsage reports space on the filesystem that holds path
func GetUsage(path string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}

	// Bavail is what an unprivileged writer (the dataset cache) can use
	u := Usage{
		TotalBytes: int64(stat.Blocks) * int64(stat.Bsize),
		FreeBytes:  int64(stat.Bavail) * int64(stat.Bsize),
	}
	if u.TotalBytes > 0 {
		u.UsedPercent = float64(u.TotalBytes-u.FreeBytes) / float64(u.TotalBytes) * 100.0
	}
	return u, nil
}
