package gas

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/jvaldesl/flasharb/config"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FeeCacheTTL is how long a fee snapshot stays valid.
const FeeCacheTTL = 5 * time.Second

// FeeSnapshot is one observation of the network's fee market. Snapshots are
// immutable once stored.
type FeeSnapshot struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	FetchedAt            time.Time
	ChainID              uint64
}

// FeeCache holds the most recent fee snapshot per chain. Refreshes are
// single-flight: concurrent callers during a refresh block on the same fetch
// and all observe the resulting snapshot. On fetch failure the cache hands out
// the network's hardcoded fallback instead of an error, so fee data is always
// available.
type FeeCache struct {
	client Backend
	net    *config.Network
	logger *zap.Logger

	mu       sync.Mutex
	snapshot *FeeSnapshot
	group    singleflight.Group
	now      func() time.Time
}

// NewFeeCache creates a fee cache bound to one backend and network.
func NewFeeCache(client Backend, net *config.Network, logger *zap.Logger) *FeeCache {
	return &FeeCache{
		client: client,
		net:    net,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a fee snapshot for chainID, refreshing when the cached one is
// stale, was fetched for another chain, or force is set.
func (c *FeeCache) Get(ctx context.Context, chainID uint64, force bool) *FeeSnapshot {
	if !force {
		if snap := c.cached(chainID); snap != nil {
			return snap
		}
	}

	v, _, _ := c.group.Do(strconv.FormatUint(chainID, 10), func() (interface{}, error) {
		// A waiter that queued behind the winning refresh must not trigger
		// another fetch.
		if !force {
			if snap := c.cached(chainID); snap != nil {
				return snap, nil
			}
		}
		return c.refresh(ctx, chainID), nil
	})
	return v.(*FeeSnapshot)
}

func (c *FeeCache) cached(chainID uint64) *FeeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.snapshot
	if snap == nil || snap.ChainID != chainID {
		return nil
	}
	if c.now().Sub(snap.FetchedAt) >= FeeCacheTTL {
		return nil
	}
	return snap
}

func (c *FeeCache) refresh(ctx context.Context, chainID uint64) *FeeSnapshot {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return c.fallback(chainID, err)
	}
	tip, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return c.fallback(chainID, err)
	}

	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	// maxFee = 2*baseFee + tip, the usual headroom for a base fee spike.
	maxFee := new(big.Int).Add(new(big.Int).Lsh(baseFee, 1), tip)

	snap := &FeeSnapshot{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		FetchedAt:            c.now(),
		ChainID:              chainID,
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	c.logger.Debug("Fetched fresh fee data",
		zap.String("max_fee", maxFee.String()),
		zap.String("priority_fee", tip.String()))
	return snap
}

// fallback builds a snapshot from the network's hardcoded values. It is not
// stored, so the next caller retries the node.
func (c *FeeCache) fallback(chainID uint64, cause error) *FeeSnapshot {
	c.logger.Warn("Failed fetching fee data, using hardcoded fallback", zap.Error(cause))
	return &FeeSnapshot{
		MaxFeePerGas:         c.net.FallbackMaxFee(),
		MaxPriorityFeePerGas: c.net.FallbackPriorityFee(),
		FetchedAt:            c.now(),
		ChainID:              chainID,
	}
}
