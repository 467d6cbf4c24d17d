package guard

import (
	"context"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/domain"
)

const (
	lockTTL   = 30 * time.Second
	resultTTL = 24 * time.Hour
)

// ResultCache is the slice of infra.RedisClient the idempotency engine
// needs. Declared here, satisfied structurally by *infra.RedisClient, so
// unit tests can supply a hand-written fake instead of a live Redis server.
type ResultCache interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	GetResult(ctx context.Context, key string, dest any) (bool, error)
	PutResult(ctx context.Context, key string, value any, ttl time.Duration) error
}

// IdempotencyEngine is the distributed lock + cached-result wrapper every
// mutating use case runs through (§4.2). A cache namespace, not a per-process
// map: the lock and the result are visible to every instance in the fleet.
type IdempotencyEngine struct {
	cache ResultCache
}

// NewIdempotencyEngine wires the engine onto a shared result cache.
func NewIdempotencyEngine(cache ResultCache) *IdempotencyEngine {
	return &IdempotencyEngine{cache: cache}
}

// Run executes the lock-guarded, result-cached algorithm:
//  1. a cached result under the key short-circuits fn entirely;
//  2. otherwise a set-if-absent lock makes this call the sole executor;
//  3. fn's result is cached on success and the lock released; on error the
//     lock is released but nothing is cached, so a retry may legitimately
//     run fn again.
//
// dest must be a pointer; on a cache hit Run unmarshals the cached result
// into it instead of invoking fn.
func (e *IdempotencyEngine) Run(ctx context.Context, key string, dest any, fn func(ctx context.Context) (any, error)) error {
	if found, err := e.cache.GetResult(ctx, key, dest); err != nil {
		return domain.ErrInternal("idempotency cache lookup failed", err)
	} else if found {
		return nil
	}

	acquired, err := e.cache.AcquireLock(ctx, key, lockTTL)
	if err != nil {
		return domain.ErrInternal("idempotency lock acquisition failed", err)
	}
	if !acquired {
		return domain.ErrInProgress(key)
	}
	defer func() { _ = e.cache.ReleaseLock(ctx, key) }()

	result, err := fn(ctx)
	if err != nil {
		return err
	}

	if err := e.cache.PutResult(ctx, key, result, resultTTL); err != nil {
		return domain.ErrInternal("idempotency result cache write failed", err)
	}

	// Round-trip through JSON so dest reflects exactly what a future cache
	// hit would unmarshal, keeping the fresh and cached paths consistent.
	if found, err := e.cache.GetResult(ctx, key, dest); err != nil || !found {
		return domain.ErrInternal("idempotency result readback failed", err)
	}
	return nil
}
