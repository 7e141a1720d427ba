package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

// Cache stores enrichment results between lookups of the same address.
type Cache interface {
	// Get returns the cached result and whether it was found and fresh.
	Get(ctx context.Context, ip string) (*Result, bool, error)
	Set(ctx context.Context, ip string, r *Result) error
	Close() error
}

// Cached wraps a Provider with a Cache. Only successful, non-empty lookups are stored,
// so rate limited answers are retried on the next observation.
type Cached struct {
	next  Provider
	cache Cache
}

// NewCached returns next decorated with cache.
func NewCached(next Provider, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

// Lookup implements Provider.
func (c *Cached) Lookup(ctx context.Context, ip string) (*Result, error) {
	if r, ok, err := c.cache.Get(ctx, ip); err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("Enrichment cache read failed")
	} else if ok {
		return r, nil
	}

	r, err := c.next.Lookup(ctx, ip)
	if err != nil || r.Empty() {
		return r, err
	}

	if err := c.cache.Set(ctx, ip, r); err != nil {
		log.Warn().Err(err).Str("ip", ip).Msg("Enrichment cache write failed")
	}

	return r, nil
}

const redisKeyPrefix = "seeker:enrich:"

// RedisCache keeps results in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to the Redis URL (redis://host:6379/0) and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, ip string) (*Result, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+ip).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, err
	}

	return &r, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, ip string, r *Result) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+ip, data, c.ttl).Err()
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

const bucketEnrich = "enrich"

// boltEntry is the stored value of BoltCache.
type boltEntry struct {
	Result   *Result `json:"result"`
	StoredAt int64   `json:"stored_at"`
}

// BoltCache keeps results in a local bbolt file. Expired entries are treated as misses.
type BoltCache struct {
	db  *bbolt.DB
	now func() time.Time
	ttl time.Duration
}

// NewBoltCache opens (or creates) the cache file at path.
func NewBoltCache(path string, ttl time.Duration) (*BoltCache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketEnrich))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltCache{db: db, ttl: ttl, now: time.Now}, nil
}

// Get implements Cache.
func (c *BoltCache) Get(_ context.Context, ip string) (*Result, bool, error) {
	var entry *boltEntry

	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketEnrich)).Get([]byte(ip))
		if data == nil {
			return nil
		}
		entry = &boltEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil || entry == nil {
		return nil, false, err
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(entry.StoredAt, 0)) > c.ttl {
		return nil, false, nil
	}

	return entry.Result, true, nil
}

// Set implements Cache.
func (c *BoltCache) Set(_ context.Context, ip string, r *Result) error {
	data, err := json.Marshal(boltEntry{Result: r, StoredAt: c.now().Unix()})
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketEnrich)).Put([]byte(ip), data)
	})
}

// Close implements Cache.
func (c *BoltCache) Close() error {
	return c.db.Close()
}
