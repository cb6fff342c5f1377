package services

import (
	"context"
	"time"

	"campuschain/internal/cache"
	"campuschain/internal/core"
)

// MerchantDirectory fronts the merchant registry with a short lived LRU.
// Registry entries are only ever added, so a stale hit is still correct.
type MerchantDirectory struct {
	store MerchantLookup
	cache *cache.LRUCache[core.Merchant]
}

func NewMerchantDirectory(store MerchantLookup, size int, ttl time.Duration) *MerchantDirectory {
	return &MerchantDirectory{
		store: store,
		cache: cache.NewLRUCache[core.Merchant](size, ttl),
	}
}

func (d *MerchantDirectory) GetMerchant(ctx context.Context, principalID string) (core.Merchant, error) {
	if m, ok := d.cache.Get(principalID); ok {
		return m, nil
	}
	m, err := d.store.GetMerchant(ctx, principalID)
	if err != nil {
		return core.Merchant{}, err
	}
	d.cache.Set(principalID, m)
	return m, nil
}

// Cache exposes the underlying cache for registration with a cache.Manager.
func (d *MerchantDirectory) Cache() cache.Cleaner {
	return d.cache
}
