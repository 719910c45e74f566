package server

import (
	"context"
	"errors"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/tinyuptime/pkg/config"
	"github.com/nicktill/tinyuptime/pkg/logging"
	"github.com/nicktill/tinyuptime/pkg/storage"
)

// garbageCollector is implemented by gateways with a reclaimable value log.
type garbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value-log garbage collection every interval until ctx is
// done. Bucket rows are rewritten on every heartbeat, so without GC the
// value log grows without bound. Gateways without a value log return
// immediately.
func RunBadgerGC(ctx context.Context, gw storage.Gateway, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()
	log := logging.Component("badger-gc")

	gc, ok := gw.(garbageCollector)
	if !ok {
		log.Debug("storage has no value log, skipping GC")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("GC scheduler started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			rewrites := 0
			// One pass rewrites at most one file; repeat until nothing is left.
			for ctx.Err() == nil {
				err := gc.RunGC(config.BadgerGCDiscardRatio)
				if err == nil {
					rewrites++
					continue
				}
				if !errors.Is(err, badgerdb.ErrNoRewrite) {
					log.Warn("GC failed", "error", err)
				}
				break
			}
			log.Debug("GC completed", "rewrites", rewrites, "took", time.Since(start).Round(time.Millisecond))
		case <-ctx.Done():
			log.Info("stopping GC scheduler")
			return
		}
	}
}
