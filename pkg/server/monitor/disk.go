package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// DiskMonitor reports how much disk a gateway's data directory uses. Usage is
// cached because walking a badger directory is not free.
type DiskMonitor struct {
	dataDir       string
	maxBytes      int64
	cacheDuration time.Duration

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewDiskMonitor creates a monitor for dataDir. maxBytes <= 0 disables the
// limit.
func NewDiskMonitor(dataDir string, maxBytes int64) *DiskMonitor {
	return &DiskMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// Usage returns the bytes allocated under the data directory.
func (dm *DiskMonitor) Usage() (int64, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !dm.lastCheck.IsZero() && time.Since(dm.lastCheck) < dm.cacheDuration {
		return dm.cachedUsage, nil
	}

	usage, err := dirSize(dm.dataDir)
	if err != nil {
		return 0, err
	}

	dm.cachedUsage = usage
	dm.lastCheck = time.Now()
	return usage, nil
}

// Limit returns the configured limit in bytes.
func (dm *DiskMonitor) Limit() int64 {
	return dm.maxBytes
}

// Exceeded reports whether usage is over the limit. Errors reading the
// directory are treated as not exceeded.
func (dm *DiskMonitor) Exceeded() bool {
	if dm.maxBytes <= 0 {
		return false
	}
	usage, err := dm.Usage()
	if err != nil {
		return false
	}
	return usage > dm.maxBytes
}

func dirSize(root string) (int64, error) {
	var size int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += allocatedSize(info)
		return nil
	})
	return size, err
}
