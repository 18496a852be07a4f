package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kb-service/config"
	"github.com/kb-service/models"
	"github.com/kb-service/services"
)

const (
	// CacheKeyPrefix namespaces all retrieval cache keys.
	CacheKeyPrefix = "kb_retrieval"

	// DefaultCacheTTL is the fallback TTL (5 minutes).
	DefaultCacheTTL = 5 * 60

	// MaxCacheTTL caps configured TTLs (24 hours).
	MaxCacheTTL = 24 * 60 * 60
)

// cacheServiceImpl implements CacheService using Redis with an in-memory
// fallback when Redis is unreachable.
type cacheServiceImpl struct {
	memCache map[string]cacheEntry
	mu       sync.RWMutex

	redis *redis.Client

	config   *config.RedisConfig
	enabled  bool
	useRedis bool
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewCacheService creates a cache backed by Redis when reachable, in-memory
// otherwise. A disabled config yields a no-op cache.
func NewCacheService(cfg *config.RedisConfig) (services.CacheService, error) {
	if cfg == nil || !cfg.EnableRetrievalCache {
		return &cacheServiceImpl{enabled: false}, nil
	}

	svc := &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		config:   cfg,
		enabled:  true,
		useRedis: false,
	}

	if cfg.Host != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err == nil {
			svc.redis = redisClient
			svc.useRedis = true
		}
		// If Redis fails, fall back to in-memory (no error).
	}

	return svc, nil
}

// NewCacheServiceWithRedis creates a cache over an existing Redis client.
func NewCacheServiceWithRedis(redisClient *redis.Client, cfg *config.RedisConfig) services.CacheService {
	if redisClient == nil || cfg == nil || !cfg.EnableRetrievalCache {
		return &cacheServiceImpl{
			memCache: make(map[string]cacheEntry),
			config:   cfg,
			enabled:  cfg != nil && cfg.EnableRetrievalCache,
			useRedis: false,
		}
	}

	return &cacheServiceImpl{
		memCache: make(map[string]cacheEntry),
		redis:    redisClient,
		config:   cfg,
		enabled:  true,
		useRedis: true,
	}
}

func (s *cacheServiceImpl) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.enabled {
		return false, nil
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		data, err := s.redis.Get(ctx, prefixedKey).Bytes()
		if err == nil {
			if err := json.Unmarshal(data, dest); err != nil {
				// Invalid cache data - delete it.
				s.redis.Del(ctx, prefixedKey)
				return false, nil
			}
			return true, nil
		}
		if err != redis.Nil {
			// Redis error - fall back to memory cache.
			return s.getFromMemCache(prefixedKey, dest)
		}
		return false, nil
	}

	return s.getFromMemCache(prefixedKey, dest)
}

func (s *cacheServiceImpl) getFromMemCache(prefixedKey string, dest interface{}) (bool, error) {
	s.mu.RLock()
	entry, exists := s.memCache[prefixedKey]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.memCache, prefixedKey)
		s.mu.Unlock()
		return false, nil
	}

	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

func (s *cacheServiceImpl) Set(ctx context.Context, key string, value interface{}, ttlSeconds int) error {
	if !s.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for caching: %w", err)
	}

	if ttlSeconds <= 0 && s.config != nil {
		ttlSeconds = s.config.RetrievalCacheTTL
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultCacheTTL
	}
	if ttlSeconds > MaxCacheTTL {
		ttlSeconds = MaxCacheTTL
	}
	ttl := time.Duration(ttlSeconds) * time.Second

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		if err := s.redis.Set(ctx, prefixedKey, data, ttl).Err(); err != nil {
			s.setInMemCache(prefixedKey, data, ttl)
		}
		return nil
	}

	s.setInMemCache(prefixedKey, data, ttl)
	return nil
}

func (s *cacheServiceImpl) setInMemCache(prefixedKey string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	s.memCache[prefixedKey] = cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

func (s *cacheServiceImpl) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}

	prefixedKey := s.prefixKey(key)

	if s.useRedis && s.redis != nil {
		s.redis.Del(ctx, prefixedKey)
	}

	s.mu.Lock()
	delete(s.memCache, prefixedKey)
	s.mu.Unlock()
	return nil
}

func (s *cacheServiceImpl) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// IsUsingRedis reports whether the Redis backend is active.
func (s *cacheServiceImpl) IsUsingRedis() bool {
	return s.useRedis
}

func (s *cacheServiceImpl) prefixKey(key string) string {
	return fmt.Sprintf("%s:%s", CacheKeyPrefix, key)
}

// HashQuery hashes a query string for use in cache keys.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:16])
}

// ============================================
// CachedRetriever - Wrapper with Caching
// ============================================

// CachedRetriever wraps a Retriever with result caching. Cache failures
// degrade silently to the inner retriever.
type CachedRetriever struct {
	delegate services.Retriever
	cache    services.CacheService
	ttl      int
}

func NewCachedRetriever(delegate services.Retriever, cache services.CacheService, ttlSeconds int) *CachedRetriever {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultCacheTTL
	}
	return &CachedRetriever{
		delegate: delegate,
		cache:    cache,
		ttl:      ttlSeconds,
	}
}

func (r *CachedRetriever) Retrieve(ctx context.Context, query string, opts models.SearchOptions) ([]models.RetrievedChunk, error) {
	cacheKey := retrievalCacheKey(query, opts)

	var cached []models.RetrievedChunk
	if hit, err := r.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	chunks, err := r.delegate.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	_ = r.cache.Set(ctx, cacheKey, chunks, r.ttl)
	return chunks, nil
}

func retrievalCacheKey(query string, opts models.SearchOptions) string {
	keyData := fmt.Sprintf("retrieve:%s:%d:%.4f:%t", query, opts.TopK, opts.ScoreThreshold, opts.UseHybrid)
	return HashQuery(keyData)
}
