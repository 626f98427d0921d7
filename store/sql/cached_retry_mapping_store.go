package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-revenue-recovery/schedule"
)

const retryMappingCacheKeyPrefix = "go-revenue-recovery::retry_mapping::v1"

// CachedRetryMappingStore fronts a mapping resolver with a read-through
// cache. Mappings change rarely and are read on every scheduling decision,
// so cached reads keep the hot path off the database.
type CachedRetryMappingStore struct {
	base  schedule.MappingResolver
	cache repositorycache.CacheService
}

func NewCachedRetryMappingStore(
	base schedule.MappingResolver,
	cacheService repositorycache.CacheService,
) (*CachedRetryMappingStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base retry mapping resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: retry mapping cache service is required")
	}
	return &CachedRetryMappingStore{base: base, cache: cacheService}, nil
}

// RetryMappingCacheKey is the deterministic cache key contract for mapping
// reads: go-revenue-recovery::retry_mapping::v1::<merchant_id>.
func RetryMappingCacheKey(merchantID string) (string, error) {
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return "", fmt.Errorf("sqlstore: merchant id is required")
	}
	return retryMappingCacheKeyPrefix + "::" + url.PathEscape(merchantID), nil
}

type cachedMapping struct {
	Mapping schedule.Mapping
	Found   bool
}

func (s *CachedRetryMappingStore) MappingForMerchant(
	ctx context.Context,
	merchantID string,
) (schedule.Mapping, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return schedule.Mapping{}, false, fmt.Errorf("sqlstore: cached retry mapping store is not configured")
	}
	cacheKey, err := RetryMappingCacheKey(merchantID)
	if err != nil {
		return schedule.Mapping{}, false, err
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedMapping, error) {
		mapping, found, fetchErr := s.base.MappingForMerchant(ctx, merchantID)
		if fetchErr != nil {
			return cachedMapping{}, fetchErr
		}
		return cachedMapping{Mapping: mapping, Found: found}, nil
	})
	if err != nil {
		return schedule.Mapping{}, false, err
	}
	return entry.Mapping, entry.Found, nil
}

// Invalidate drops the cached mapping entry, typically after an upsert.
func (s *CachedRetryMappingStore) Invalidate(ctx context.Context, merchantID string) error {
	if s == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached retry mapping store is not configured")
	}
	cacheKey, err := RetryMappingCacheKey(merchantID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ schedule.MappingResolver = (*CachedRetryMappingStore)(nil)
