package tempaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// grantCacheEntry is the redis encoding of a grant. Marshalling an
// AccessGrant directly would drop every json:"-" column, so a cache-hit Get
// would hand back a grant with no credential hash or version; the entry
// carries those fields explicitly.
type grantCacheEntry struct {
	Grant            *AccessGrant `json:"grant"`
	CredentialHash   string       `json:"credentialHash"`
	Version          int64        `json:"version"`
	ExpiryNotifiedAt *time.Time   `json:"expiryNotifiedAt,omitempty"`
}

func newGrantCacheEntry(grant *AccessGrant) grantCacheEntry {
	return grantCacheEntry{
		Grant:            grant,
		CredentialHash:   grant.CredentialHash,
		Version:          grant.Version,
		ExpiryNotifiedAt: grant.ExpiryNotifiedAt,
	}
}

func (e grantCacheEntry) restore() *AccessGrant {
	grant := *e.Grant
	grant.CredentialHash = e.CredentialHash
	grant.Version = e.Version
	grant.ExpiryNotifiedAt = e.ExpiryNotifiedAt
	return &grant
}

// grantCacheKey generates the redis key for a single grant.
func (s *GrantStore) grantCacheKey(id string) string {
	return fmt.Sprintf("%sgrant:%s", s.cachePrefix, id)
}

// listCacheKey generates the redis key for a filtered list.
func (s *GrantStore) listCacheKey(filter GrantFilter) string {
	return fmt.Sprintf("%sgrants:%s:%s:%s", s.cachePrefix, filter.Role, filter.Status, filter.Search)
}

// cachedGrant checks the cache for a grant.
func (s *GrantStore) cachedGrant(ctx context.Context, id string) (*AccessGrant, bool) {
	if s.redisClient == nil {
		return nil, false
	}

	val, err := s.redisClient.Get(ctx, s.grantCacheKey(id)).Result()
	if err != nil {
		return nil, false
	}
	var entry grantCacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil || entry.Grant == nil {
		return nil, false
	}
	return entry.restore(), true
}

// cacheGrant stores a grant in the cache.
func (s *GrantStore) cacheGrant(ctx context.Context, grant *AccessGrant) {
	if s.redisClient == nil {
		return
	}

	data, err := json.Marshal(newGrantCacheEntry(grant))
	if err != nil {
		return
	}
	s.redisClient.Set(ctx, s.grantCacheKey(grant.ID), data, s.cacheTTL)
}

// cachedList checks the cache for a filtered list result.
func (s *GrantStore) cachedList(ctx context.Context, filter GrantFilter) ([]AccessGrant, bool) {
	if s.redisClient == nil {
		return nil, false
	}
	// Time-derived status filters go stale the moment the clock passes an
	// expiry; only cache filterless and revocation-based lookups.
	if filter.Status == StatusActive || filter.Status == StatusExpired {
		return nil, false
	}

	val, err := s.redisClient.Get(ctx, s.listCacheKey(filter)).Result()
	if err != nil {
		return nil, false
	}
	var entries []grantCacheEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, false
	}
	grants := make([]AccessGrant, 0, len(entries))
	for _, entry := range entries {
		if entry.Grant == nil {
			return nil, false
		}
		grants = append(grants, *entry.restore())
	}
	return grants, true
}

// cacheList stores a filtered list result.
func (s *GrantStore) cacheList(ctx context.Context, filter GrantFilter, grants []AccessGrant) {
	if s.redisClient == nil {
		return
	}
	if filter.Status == StatusActive || filter.Status == StatusExpired {
		return
	}

	entries := make([]grantCacheEntry, 0, len(grants))
	for i := range grants {
		entries = append(entries, newGrantCacheEntry(&grants[i]))
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	s.redisClient.Set(ctx, s.listCacheKey(filter), data, s.cacheTTL)
}

// invalidateGrant drops the cached grant and all cached lists after any
// mutation.
func (s *GrantStore) invalidateGrant(ctx context.Context, id string) {
	if s.redisClient == nil {
		return
	}

	s.redisClient.Del(ctx, s.grantCacheKey(id))

	pattern := s.cachePrefix + "grants:*"
	keys, err := s.redisClient.Keys(ctx, pattern).Result()
	if err != nil && err != redis.Nil {
		return
	}
	if len(keys) > 0 {
		s.redisClient.Del(ctx, keys...)
	}
}
