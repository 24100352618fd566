package scanner

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/jvaldesl/flasharb/notify"
)

const (
	// A token with this many consecutive empty liquidity checks is skipped
	// until the cooldown elapses, then retried once.
	maxNoLiquidityChecks = 3
	noLiquidityCooldown  = 30 * time.Minute
)

type noLiquidityEntry struct {
	count       int
	lastChecked time.Time
}

// liquidityTracker remembers which tokens keep coming back without loan
// liquidity so the scanner stops burning RPC calls on them.
type liquidityTracker struct {
	cache    *gocache.Cache
	notifier notify.Notifier
	now      func() time.Time
}

func newLiquidityTracker(notifier notify.Notifier) *liquidityTracker {
	return &liquidityTracker{
		cache:    gocache.New(2*noLiquidityCooldown, 10*time.Minute),
		notifier: notifier,
		now:      time.Now,
	}
}

// Mark records one empty liquidity check for key.
func (t *liquidityTracker) Mark(key string) {
	now := t.now()
	entry := t.get(key)
	if entry == nil {
		entry = &noLiquidityEntry{}
	}

	switch {
	case now.Sub(entry.lastChecked) >= noLiquidityCooldown && entry.count < maxNoLiquidityChecks:
		// Stale window, start counting again.
		entry.count = 1
	case entry.count < maxNoLiquidityChecks:
		entry.count++
	default:
		// Failed post-cooldown retry: stay capped, restart the cooldown.
	}
	entry.lastChecked = now
	t.cache.Set(key, entry, gocache.DefaultExpiration)
}

// ShouldSkip reports whether key is in its skip window. Once the cooldown has
// elapsed it returns false exactly until the next Mark, which is the single
// retry the policy allows.
func (t *liquidityTracker) ShouldSkip(key string) bool {
	entry := t.get(key)
	if entry == nil || entry.count < maxNoLiquidityChecks {
		return false
	}
	if t.now().Sub(entry.lastChecked) >= noLiquidityCooldown {
		t.notifier.Notify(fmt.Sprintf("Retrying token %s after liquidity cooldown", key))
		return false
	}
	return true
}

// Reset clears the counter for key, used when liquidity is found again.
func (t *liquidityTracker) Reset(key string) {
	t.cache.Delete(key)
}

func (t *liquidityTracker) get(key string) *noLiquidityEntry {
	if v, ok := t.cache.Get(key); ok {
		return v.(*noLiquidityEntry)
	}
	return nil
}
