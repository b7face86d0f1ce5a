package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	platformredis "civreg/internal/platform/redis"
	id "civreg/pkg/domain"
)

// RedisRecordCache is a read-through cache for canonical identity records.
// Identity records are written once at issuance, so stale reads are not a
// correctness concern; the TTL exists to bound retention of identity data in
// the cache tier.
type RedisRecordCache struct {
	client *platformredis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewRedisRecordCache(client *platformredis.Client, ttl time.Duration, log *slog.Logger) *RedisRecordCache {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRecordCache{client: client, ttl: ttl, log: log.With("component", "identity_cache")}
}

func cacheKey(nationalID id.NationalID) string {
	return "civreg:identity:" + nationalID.String()
}

type cachedRecord struct {
	NationalID  string    `json:"national_id"`
	FullName    string    `json:"full_name"`
	DateOfBirth string    `json:"date_of_birth"`
	Gender      string    `json:"gender"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Get returns the cached record if present. Cache errors degrade to a miss;
// the caller falls through to the store.
func (c *RedisRecordCache) Get(ctx context.Context, nationalID id.NationalID) (*Record, bool) {
	raw, err := c.client.Get(ctx, cacheKey(nationalID)).Bytes()
	if err != nil {
		return nil, false
	}
	var cached cachedRecord
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.log.WarnContext(ctx, "corrupt cached identity record", "error", err)
		return nil, false
	}
	return &Record{
		NationalID:  id.NationalID(cached.NationalID),
		FullName:    cached.FullName,
		DateOfBirth: cached.DateOfBirth,
		Gender:      cached.Gender,
		IssuedAt:    cached.IssuedAt,
	}, true
}

// Set stores the record with the configured TTL. Failures are logged and
// dropped; the cache is an optimization, never a source of truth.
func (c *RedisRecordCache) Set(ctx context.Context, record *Record) {
	raw, err := json.Marshal(cachedRecord{
		NationalID:  record.NationalID.String(),
		FullName:    record.FullName,
		DateOfBirth: record.DateOfBirth,
		Gender:      record.Gender,
		IssuedAt:    record.IssuedAt,
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(record.NationalID), raw, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "cache identity record", "error", err)
	}
}
