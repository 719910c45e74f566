//go:build !unix

package monitor

import "io/fs"

func allocatedSize(info fs.FileInfo) int64 {
	return info.Size()
}
