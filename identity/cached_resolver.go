package identity

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-oracle/core"
)

const (
	roleCacheKeyPrefix = "go-oracle::role::v1"
	urlCacheKeyPrefix  = "go-oracle::role_url::v1"
)

// CachedResolver memoizes role and URL lookups of a slower resolver, such as
// one backed by on-chain reads.
type CachedResolver struct {
	roles core.RoleResolver
	urls  core.URLResolver
	cache repositorycache.CacheService
}

func NewCachedResolver(
	roles core.RoleResolver,
	urls core.URLResolver,
	cacheService repositorycache.CacheService,
) (*CachedResolver, error) {
	if roles == nil && urls == nil {
		return nil, fmt.Errorf("identity: a role or url resolver is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("identity: cache service is required")
	}
	return &CachedResolver{roles: roles, urls: urls, cache: cacheService}, nil
}

// RoleCacheKey is go-oracle::role::v1::<lowercased address>.
func RoleCacheKey(address string) string {
	normalized := strings.ToLower(strings.TrimSpace(address))
	return roleCacheKeyPrefix + "::" + url.PathEscape(normalized)
}

// URLCacheKey is go-oracle::role_url::v1::<role>::<chain_id>::<escrow>.
func URLCacheKey(role core.Role, chainID int64, escrowAddress string) string {
	segments := []string{
		urlCacheKeyPrefix,
		url.PathEscape(string(role)),
		strconv.FormatInt(chainID, 10),
		url.PathEscape(strings.ToLower(strings.TrimSpace(escrowAddress))),
	}
	return strings.Join(segments, "::")
}

func (r *CachedResolver) ResolveRole(ctx context.Context, address string) (core.Role, error) {
	if r == nil || r.roles == nil || r.cache == nil {
		return "", fmt.Errorf("identity: cached role resolver is not configured")
	}
	return repositorycache.GetOrFetch(ctx, r.cache, RoleCacheKey(address), func(ctx context.Context) (core.Role, error) {
		return r.roles.ResolveRole(ctx, address)
	})
}

func (r *CachedResolver) ResolveURL(ctx context.Context, role core.Role, chainID int64, escrowAddress string) (string, error) {
	if r == nil || r.urls == nil || r.cache == nil {
		return "", fmt.Errorf("identity: cached url resolver is not configured")
	}
	key := URLCacheKey(role, chainID, escrowAddress)
	return repositorycache.GetOrFetch(ctx, r.cache, key, func(ctx context.Context) (string, error) {
		return r.urls.ResolveURL(ctx, role, chainID, escrowAddress)
	})
}

// Forget drops a cached role binding.
func (r *CachedResolver) Forget(ctx context.Context, address string) error {
	if r == nil || r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, RoleCacheKey(address))
}

var (
	_ core.RoleResolver = (*CachedResolver)(nil)
	_ core.URLResolver  = (*CachedResolver)(nil)
)
