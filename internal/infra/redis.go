package infra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps a go-redis client with the specific cache/lock vocabulary
// this service needs: idempotency locks + result cache, processed-event
// dedup, timeout records, and PayPal cert caching. A thin wrapper rather than
// exposing *redis.Client everywhere keeps every namespace and TTL documented
// in one place.
type RedisClient struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewRedisClient dials a Redis instance at url (a redis:// DSN).
func NewRedisClient(url string, logger *slog.Logger) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	return &RedisClient{rdb: rdb, logger: logger}, nil
}

// Ping verifies connectivity to Redis.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

// --- Idempotency engine primitives (§4.2) ---

// AcquireLock attempts a set-if-absent at lock:{key} with the given TTL.
// Returns false if another caller already holds it.
func (c *RedisClient) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, "lock:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock drops the lock, allowing the next caller (or retry) to proceed.
func (c *RedisClient) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, "lock:"+key).Err()
}

// GetResult looks up a cached idempotent result at result:{key}, unmarshaling
// it into dest. Returns found=false if no entry exists.
func (c *RedisClient) GetResult(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, "result:"+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get result %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal cached result %s: %w", key, err)
	}
	return true, nil
}

// PutResult caches a successful result at result:{key} for ttl (24h per §4.2).
func (c *RedisClient) PutResult(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", key, err)
	}
	return c.rdb.Set(ctx, "result:"+key, raw, ttl).Err()
}

// --- Processed-event dedup (§4.5 webhook consumer) ---

// ProcessedEventKey builds the processed:{provider}:{providerEventId} key.
func ProcessedEventKey(provider, providerEventID string) string {
	return fmt.Sprintf("processed:%s:%s", provider, providerEventID)
}

// IsProcessed reports whether a provider event has already been dispatched.
func (c *RedisClient) IsProcessed(ctx context.Context, provider, providerEventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, ProcessedEventKey(provider, providerEventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records a provider event as dispatched, TTL 30d.
func (c *RedisClient) MarkProcessed(ctx context.Context, provider, providerEventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, ProcessedEventKey(provider, providerEventID), "1", ttl).Err()
}

// --- Timeout records (§4.5 primary timeout path) ---

const timeoutKeyPrefix = "payments:timeout:"

// TimeoutRecord is the value stored at payments:timeout:{paymentId}.
type TimeoutRecord struct {
	PaymentID string    `json:"paymentId"`
	OrderID   string    `json:"orderId"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ScheduleTimeout writes a timeout record with TTL = ceil((expiresAt-now)/1s).
// When the key expires, the cache's keyspace-notification channel announces
// it and the timeout listener dispatches HandlePaymentTimeout.
func (c *RedisClient) ScheduleTimeout(ctx context.Context, rec TimeoutRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal timeout record: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	} else {
		ttl = ((ttl + time.Second - 1) / time.Second) * time.Second
	}
	return c.rdb.Set(ctx, timeoutKeyPrefix+rec.PaymentID, raw, ttl).Err()
}

// TimeoutKeyPaymentID extracts the payment ID suffix from an expired key
// event, or "" if the key does not match the payments:timeout: prefix.
func TimeoutKeyPaymentID(key string) string {
	if len(key) <= len(timeoutKeyPrefix) || key[:len(timeoutKeyPrefix)] != timeoutKeyPrefix {
		return ""
	}
	return key[len(timeoutKeyPrefix):]
}

// SubscribeExpired opens a PSUBSCRIBE on the keyspace-notification pattern
// for expired keys. The caller drains the returned channel; it closes when
// ctx is canceled or the subscription fails.
func (c *RedisClient) SubscribeExpired(ctx context.Context) <-chan *redis.Message {
	pubsub := c.rdb.PSubscribe(ctx, "__keyevent@*__:expired")
	go func() {
		<-ctx.Done()
		_ = pubsub.Close()
	}()
	return pubsub.Channel()
}

// --- PayPal certificate cache (§4.5 webhook ingress) ---

// PayPalCertCacheKey hashes a cert URL per the 12h cache keying spec.
func PayPalCertCacheKey(certURL string) string {
	sum := sha256.Sum256([]byte(certURL))
	return "paypal_cert:" + hex.EncodeToString(sum[:])
}

// GetCachedCert returns a cached PayPal certificate PEM, if present.
func (c *RedisClient) GetCachedCert(ctx context.Context, certURL string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, PayPalCertCacheKey(certURL)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get cached cert: %w", err)
	}
	return val, true, nil
}

// PutCachedCert stores a PayPal certificate PEM for 12h.
func (c *RedisClient) PutCachedCert(ctx context.Context, certURL, pem string) error {
	return c.rdb.Set(ctx, PayPalCertCacheKey(certURL), pem, 12*time.Hour).Err()
}

// --- FX rate cache (§6 Exchange port) ---

// FXCacheKey builds the fx:BASE:TARGET key.
func FXCacheKey(base, target string) string {
	return fmt.Sprintf("fx:%s:%s", base, target)
}

// FXRate is the cached exchange-rate record.
type FXRate struct {
	Rate          float64   `json:"rate"`
	TimestampDate string    `json:"timestampDate"`
	CachedAt      time.Time `json:"cachedAt"`
}

// GetCachedFXRate returns a cached rate, even if stale, along with whether
// it is still within the 60s freshness TTL.
func (c *RedisClient) GetCachedFXRate(ctx context.Context, base, target string) (*FXRate, bool, error) {
	raw, err := c.rdb.Get(ctx, FXCacheKey(base, target)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached fx rate: %w", err)
	}
	var rate FXRate
	if err := json.Unmarshal(raw, &rate); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached fx rate: %w", err)
	}
	fresh := time.Since(rate.CachedAt) < 60*time.Second
	return &rate, fresh, nil
}

// PutCachedFXRate stores a rate with a 24h Redis TTL; freshness is judged by
// CachedAt rather than that TTL, so a stale value still in the cache can
// serve as the stale-on-failure fallback.
func (c *RedisClient) PutCachedFXRate(ctx context.Context, base, target string, rate FXRate) error {
	raw, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("marshal fx rate: %w", err)
	}
	return c.rdb.Set(ctx, FXCacheKey(base, target), raw, 24*time.Hour).Err()
}
