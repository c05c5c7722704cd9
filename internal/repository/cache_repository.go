package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

const (
	defaultCacheNamespace = "timetable"
	defaultCacheMaxTTL    = time.Hour
	unlinkBatchSize       = 200
)

// CacheRepositoryConfig scopes the keys this service owns in a shared Redis.
type CacheRepositoryConfig struct {
	// Namespace prefixes every key, e.g. "timetable" gives "timetable:recommend:inst-1:...".
	Namespace string
	// MaxTTL caps entry lifetime. Recommendations depend on template success rates, so no entry lives forever.
	MaxTTL time.Duration
	// ListLimit trims pushed lists to their newest entries. Zero keeps everything.
	ListLimit int64
}

// CacheRepository stores recommendation results and the outgoing conflict notification list in Redis.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
	cfg    CacheRepositoryConfig
}

// NewCacheRepository constructs the repository. A nil client turns reads into misses and writes into no-ops.
func NewCacheRepository(client *redis.Client, logger *zap.Logger, cfg CacheRepositoryConfig) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Namespace = strings.Trim(cfg.Namespace, ":")
	if cfg.Namespace == "" {
		cfg.Namespace = defaultCacheNamespace
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = defaultCacheMaxTTL
	}
	return &CacheRepository{client: client, logger: logger, cfg: cfg}
}

func (r *CacheRepository) key(k string) string {
	return r.cfg.Namespace + ":" + k
}

func (r *CacheRepository) ttl(requested time.Duration) time.Duration {
	if requested <= 0 || requested > r.cfg.MaxTTL {
		return r.cfg.MaxTTL
	}
	return requested
}

// Get decodes the entry into dest. An undecodable entry is dropped and reported as a miss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	full := r.key(key)
	raw, err := r.client.Get(ctx, full).Bytes()
	if err == redis.Nil {
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache read %s: %w", full, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		r.logger.Warn("dropping undecodable cache entry", zap.String("key", full), zap.Error(err))
		_ = r.client.Unlink(ctx, full).Err()
		return appErrors.ErrCacheMiss
	}
	return nil
}

// Set stores value as JSON. The TTL is capped at the configured maximum.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	full := r.key(key)
	if err := r.client.Set(ctx, full, payload, r.ttl(ttl)).Err(); err != nil {
		return fmt.Errorf("cache write %s: %w", full, err)
	}
	return nil
}

// DeleteByPattern unlinks every namespaced key matching pattern, in batches.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}
	match := r.key(pattern)
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, unlinkBatchSize).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := r.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache unlink %s: %w", match, err)
			}
			removed += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	if removed > 0 {
		r.logger.Debug("recommendation cache invalidated", zap.String("pattern", match), zap.Int("count", removed))
	}
	return nil
}

// Push prepends a JSON payload to the list at key and trims it to ListLimit.
func (r *CacheRepository) Push(ctx context.Context, key string, value interface{}) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode list entry %s: %w", key, err)
	}
	full := r.key(key)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, full, payload)
	if r.cfg.ListLimit > 0 {
		pipe.LTrim(ctx, full, 0, r.cfg.ListLimit-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache push %s: %w", full, err)
	}
	return nil
}

// Enabled reports whether a Redis client is configured.
func (r *CacheRepository) Enabled() bool {
	return r.client != nil
}

// Close releases the Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
