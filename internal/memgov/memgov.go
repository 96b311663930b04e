// Package memgov bounds the resident byte footprint of the sibling-group
// store with a soft/hard threshold policy: allocations above the soft
// threshold trigger an LRU release sweep before granting, and an
// allocation that cannot be satisfied even after releasing every
// releasable group fails rather than blocking forever.
package memgov

import (
	"sync"

	"github.com/oocpc/engine/pkg/occerr"
	"github.com/oocpc/engine/pkg/utils"
)

// Releasable is anything the governor can evict to free budget. The
// sibling-group store implements this once per resident group.
type Releasable interface {
	// Release persists the entry if dirty and frees its resident bytes.
	// Returns the number of bytes freed.
	Release() (int64, error)
}

// Config configures a Governor.
type Config struct {
	// Quota is the hard byte ceiling; an allocation that would exceed it
	// after all releasable entries are released fails with
	// occerr.CodeOutOfBudget.
	Quota int64
	// SoftThreshold triggers a release sweep before granting an
	// allocation that would push accounted bytes past it. Must be
	// <= Quota.
	SoftThreshold int64
	Logger        utils.Logger
}

// Governor is a process-wide singleton tracking resident bytes in the
// sibling-group store. It owns one atomic counter (guarded by mu for
// compound check-then-act sequences) and one condition variable that
// wakes waiters whenever bytes are released.
type Governor struct {
	mu       sync.Mutex
	cond     *sync.Cond
	accounted int64
	quota     int64
	soft      int64
	lru       []Releasable
	logger    utils.Logger
}

// New constructs a Governor. Fails with occerr.CodeQuotaTooSmall if the
// quota cannot hold at least one allocation of minRecordSize bytes.
func New(cfg Config, minRecordSize int64) (*Governor, error) {
	if cfg.Quota < minRecordSize {
		return nil, occerr.Newf(occerr.CodeQuotaTooSmall, "quota %d below minimum allocation %d", cfg.Quota, minRecordSize)
	}
	soft := cfg.SoftThreshold
	if soft <= 0 || soft > cfg.Quota {
		soft = cfg.Quota
	}
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	g := &Governor{quota: cfg.Quota, soft: soft, logger: logger}
	g.cond = sync.NewCond(&g.mu)
	return g, nil
}

// Touch registers r as a candidate for LRU release, most-recently-used
// last. Call whenever a group is loaded or accessed.
func (g *Governor) Touch(r Releasable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.lru {
		if existing == r {
			g.lru = append(g.lru[:i], g.lru[i+1:]...)
			break
		}
	}
	g.lru = append(g.lru, r)
}

// Forget removes r from LRU tracking without releasing it (used when
// the caller releases r directly, e.g. on explicit eviction).
func (g *Governor) Forget(r Releasable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeLocked(r)
}

func (g *Governor) removeLocked(r Releasable) {
	for i, existing := range g.lru {
		if existing == r {
			g.lru = append(g.lru[:i], g.lru[i+1:]...)
			return
		}
	}
}

// Allocate blocks until n bytes are available within quota, releasing
// LRU entries as needed, then accounts for them. The counter is updated
// only on success: a failed allocation never loses budget. Returns
// occerr.CodeOutOfBudget if no releasable entry remains and the quota
// still cannot be met.
func (g *Governor) Allocate(n int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for g.accounted+n > g.soft {
		if len(g.lru) == 0 {
			if g.accounted+n > g.quota {
				return occerr.Newf(occerr.CodeOutOfBudget, "cannot allocate %d bytes: accounted %d, quota %d, nothing releasable", n, g.accounted, g.quota)
			}
			break
		}
		victim := g.lru[0]
		g.lru = g.lru[1:]
		g.mu.Unlock()
		freed, err := victim.Release()
		g.mu.Lock()
		if err != nil {
			g.logger.Warn("memgov: release failed during sweep: %v", err)
			continue
		}
		g.accounted -= freed
		if g.accounted < 0 {
			g.accounted = 0
		}
		g.cond.Broadcast()
	}

	g.accounted += n
	return nil
}

// Release records that n bytes have been freed (called by the store
// after a voluntary or governor-driven release) and wakes any blocked
// allocators.
func (g *Governor) Release(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounted -= n
	if g.accounted < 0 {
		g.accounted = 0
	}
	g.cond.Broadcast()
}

// WaitForHeadroom blocks until accounted bytes drop below the soft
// threshold, or until stop is closed. Callers that cannot themselves
// name a releasable entry (e.g. a builder worker waiting on another
// worker's in-flight release) use this instead of spinning.
func (g *Governor) WaitForHeadroom(stop <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.accounted >= g.soft {
		done := make(chan struct{})
		go func() {
			select {
			case <-stop:
				g.cond.Broadcast()
			case <-done:
			}
		}()
		g.cond.Wait()
		close(done)
		select {
		case <-stop:
			return
		default:
		}
	}
}

// Accounted returns the current resident byte count.
func (g *Governor) Accounted() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.accounted
}

// Quota returns the configured hard ceiling.
func (g *Governor) Quota() int64 {
	return g.quota
}
