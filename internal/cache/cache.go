package cache

import (
	"context"
	"strings"
	"time"
)

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
}

// Key kinds used by the gateway.
const (
	KindStudyExists = "study-exists"
	KindThumbnail   = "thumbnail"
	KindRegistry    = "registry"
)

// CacheKey builds a namespaced cache key
func CacheKey(kind string, parts ...string) string {
	return kind + ":" + strings.Join(parts, ":")
}
