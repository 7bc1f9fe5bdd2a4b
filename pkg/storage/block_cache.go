package storage

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// BlockCache wraps a ReadableBlockStorage with a size-bounded cache keyed by
// block index, evicting both by capacity (ristretto's cost-bounded TinyLFU
// admission with sampled-LFU eviction, which is not strict LRU) and by
// per-entry idle time (every hit renews the entry's TTL). Cache hits return a
// copy of the cached bytes; misses read exactly one underlying block.
//
// This mirrors the original implementation's use of a TinyLFU cache with a
// time-to-idle policy (mini_moka in the Rust source); ristretto is Go's
// equivalent TinyLFU-admission cache.
type BlockCache struct {
	inner        ReadableBlockStorage
	cache        *ristretto.Cache[uint64, []byte]
	capacityCost int64
	idle         time.Duration
}

// NewBlockCache bounds the cache to approximately capacityBlocks full-sized
// blocks, evicting entries idle for longer than timeToIdle.
func NewBlockCache(inner ReadableBlockStorage, capacityBlocks uint64, timeToIdle time.Duration) (*BlockCache, error) {
	maxCost := int64(capacityBlocks * inner.BlockSize())
	if maxCost <= 0 {
		maxCost = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: int64(capacityBlocks) * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
		// Costs are block bytes only, so MaxCost bounds the block count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, &IOError{Op: "block cache init", Err: err}
	}
	return &BlockCache{inner: inner, cache: cache, capacityCost: maxCost, idle: timeToIdle}, nil
}

func (c *BlockCache) BlockSize() uint64               { return c.inner.BlockSize() }
func (c *BlockCache) BlockCount() uint64               { return c.inner.BlockCount() }
func (c *BlockCache) NthBlockSize(index uint64) uint64 { return c.inner.NthBlockSize(index) }
func (c *BlockCache) Size() uint64                     { return c.inner.Size() }

func (c *BlockCache) ReadBlock(index uint64, buf []byte) error {
	if cached, ok := c.cache.Get(index); ok {
		copy(buf, cached)
		// Renew the TTL so that expiry counts from the last access.
		c.cache.SetWithTTL(index, cached, int64(len(cached)), c.idle)
		return nil
	}

	if err := c.inner.ReadBlock(index, buf); err != nil {
		return err
	}

	stored := make([]byte, len(buf))
	copy(stored, buf)
	c.cache.SetWithTTL(index, stored, int64(len(stored)), c.idle)
	return nil
}

// Close releases cache resources.
func (c *BlockCache) Close() { c.cache.Close() }
