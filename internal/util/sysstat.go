package util

import (
	"fmt"
	"runtime"
	"syscall"
)

// DiskStats returns used and available bytes for the filesystem
// holding path.
func DiskStats(path string) (used int64, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	available = int64(stat.Bavail) * int64(stat.Bsize)
	total := int64(stat.Blocks) * int64(stat.Bsize)
	used = total - int64(stat.Bfree)*int64(stat.Bsize)

	return used, available, nil
}

// DiskUsagePercent returns the used fraction of the filesystem
// holding path, in percent.
func DiskUsagePercent(path string) (float64, error) {
	used, available, err := DiskStats(path)
	if err != nil {
		return 0, err
	}
	total := used + available
	if total == 0 {
		return 0, nil
	}
	return float64(used) / float64(total) * 100, nil
}

// HeapUsagePercent approximates process memory pressure as heap in
// use against the runtime's total reserved heap.
func HeapUsagePercent() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapInuse) / float64(ms.HeapSys) * 100
}
