package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/saeid-a/minicoachy/internal/cache"
	"github.com/saeid-a/minicoachy/internal/logger"
	"github.com/saeid-a/minicoachy/internal/models"
	"github.com/saeid-a/minicoachy/internal/policy"
)

const listVersionTTL = 24 * time.Hour

// sessionListCache stores scoped session listings. Every invalidation
// rewrites the scope's version key before dropping the listing, and a
// listing is only stored if its version is unchanged since the read began.
type sessionListCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func newSessionListCache(c cache.Cache, ttl time.Duration) sessionListCache {
	if c == nil {
		c = cache.NopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultSessionCacheTTL
	}
	return sessionListCache{cache: c, ttl: ttl}
}

func versionKey(key string) string {
	return key + ":version"
}

func (l sessionListCache) load(ctx context.Context, key string) ([]models.SessionDetail, bool) {
	payload, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("session cache read failed", map[string]any{"key": key, "error": err})
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var details []models.SessionDetail
	if err := json.Unmarshal(payload, &details); err != nil {
		logger.Warn("session cache entry unreadable", map[string]any{"key": key, "error": err})
		return nil, false
	}
	return details, true
}

// version returns the scope's current version token. ok is false when the
// version cannot be read, in which case nothing may be stored.
func (l sessionListCache) version(ctx context.Context, key string) (string, bool) {
	v, _, err := l.cache.Get(ctx, versionKey(key))
	if err != nil {
		logger.Warn("session cache version read failed", map[string]any{"key": key, "error": err})
		return "", false
	}
	return string(v), true
}

// storeIfCurrent writes details unless key was invalidated after seen was
// read.
func (l sessionListCache) storeIfCurrent(ctx context.Context, key, seen string, details []models.SessionDetail) {
	current, ok := l.version(ctx, key)
	if !ok || current != seen {
		return
	}
	payload, err := json.Marshal(details)
	if err != nil {
		logger.Warn("session cache encode failed", map[string]any{"key": key, "error": err})
		return
	}
	if err := l.cache.Set(ctx, key, payload, l.ttl); err != nil {
		logger.Warn("session cache write failed", map[string]any{"key": key, "error": err})
	}
}

// invalidate drops every cached scope that could list the given sessions. It
// runs after commit and survives cancellation of the request context.
func (l sessionListCache) invalidate(ctx context.Context, sessions ...*models.Session) {
	seen := make(map[string]struct{})
	keys := make([]string, 0, 4)
	for _, session := range sessions {
		if session == nil {
			continue
		}
		for _, scope := range policy.AffectedScopes(session) {
			key := scope.CacheKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidationTimeout)
	defer cancel()

	token := []byte(uuid.NewString())
	for _, key := range keys {
		if err := l.cache.Set(ctx, versionKey(key), token, listVersionTTL); err != nil {
			logger.Error("session cache version bump failed", map[string]any{"key": key, "error": err})
		}
	}
	if err := l.cache.Delete(ctx, keys...); err != nil {
		logger.Error("session cache invalidation failed", map[string]any{"keys": keys, "error": err})
	}
}
