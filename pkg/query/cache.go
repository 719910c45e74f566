package query

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// resultCache memoizes computed responses per target. An update to a target
// drops everything cached for it; entries also expire after a TTL because
// windows slide with the clock even when nothing is reported.
type resultCache struct {
	targets *lru.Cache // target id -> *targetResults
	ttl     time.Duration
	now     func() time.Time
}

type targetResults struct {
	mu      sync.Mutex
	gen     uint64 // bumped by invalidate
	results map[string]cachedResult
}

type cachedResult struct {
	value    any
	storedAt time.Time
}

// ticket pins the cache generation a result is computed against.
type ticket struct {
	tr  *targetResults
	gen uint64
}

func newResultCache(size int, ttl time.Duration) (*resultCache, error) {
	targets, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &resultCache{targets: targets, ttl: ttl, now: time.Now}, nil
}

func (c *resultCache) get(target, key string) (any, bool) {
	v, ok := c.targets.Get(target)
	if !ok {
		return nil, false
	}
	tr := v.(*targetResults)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	res, ok := tr.results[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(res.storedAt) >= c.ttl {
		delete(tr.results, key)
		return nil, false
	}
	return res.value, true
}

// begin must be called before a result is computed. A put with the returned
// ticket is dropped if target was invalidated in between.
func (c *resultCache) begin(target string) ticket {
	var tr *targetResults
	if v, ok := c.targets.Get(target); ok {
		tr = v.(*targetResults)
	} else {
		tr = &targetResults{results: make(map[string]cachedResult)}
		// Another request may have added the target concurrently; keep the
		// existing one.
		if exists, _ := c.targets.ContainsOrAdd(target, tr); exists {
			if v, ok := c.targets.Get(target); ok {
				tr = v.(*targetResults)
			}
		}
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	return ticket{tr: tr, gen: tr.gen}
}

func (c *resultCache) put(t ticket, key string, value any) {
	t.tr.mu.Lock()
	defer t.tr.mu.Unlock()
	if t.tr.gen != t.gen {
		return
	}
	t.tr.results[key] = cachedResult{value: value, storedAt: c.now()}
}

func (c *resultCache) invalidate(target string) {
	if v, ok := c.targets.Peek(target); ok {
		tr := v.(*targetResults)
		tr.mu.Lock()
		tr.gen++
		tr.mu.Unlock()
	}
	c.targets.Remove(target)
}

func (c *resultCache) len() int {
	return c.targets.Len()
}
