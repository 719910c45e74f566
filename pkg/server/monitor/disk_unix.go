//go:build unix

package monitor

import (
	"io/fs"
	"syscall"
)

// allocatedSize counts allocated blocks so sparse value-log files are not
// overstated.
func allocatedSize(info fs.FileInfo) int64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Blocks * 512
	}
	return info.Size()
}
