// Package idempotency implements the idempotency cache (C3): persisting
// request→response bindings keyed by (tenant, idempotency-key) with TTL, so
// that repeated submissions of the same request return the first response.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/richtunnel/partnerstestapi/internal/store"
	"github.com/richtunnel/partnerstestapi/internal/telemetry"
)

// DefaultTTL is applied when a caller does not specify one.
const DefaultTTL = 24 * time.Hour

const redisKeyPrefix = "idempotency:"

// cachedBinding is the JSON shape stored in Redis.
type cachedBinding struct {
	Fingerprint string `json:"fingerprint"`
	Method      string `json:"method"`
	Path        string `json:"path"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
}

// Result is returned by Lookup.
type Result struct {
	Hit      bool
	Conflict bool
	Status   int
	Body     []byte
}

// Cache resolves idempotency bindings using Redis as a hot path with
// Postgres as the durable fallback, the same two-tier shape the alert
// deduplicator uses.
type Cache struct {
	rdb    *redis.Client
	db     store.DBTX
	logger *slog.Logger
}

// New creates a Cache.
func New(rdb *redis.Client, dbtx store.DBTX, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, db: dbtx, logger: logger}
}

func redisKey(tenant, key string) string {
	return redisKeyPrefix + tenant + ":" + key
}

// Lookup implements lookup(tenant, key, method, path, request_body) ->
// {hit, conflict, cached_response}.
func (c *Cache) Lookup(ctx context.Context, tenant, key, method, path string, body []byte) (Result, error) {
	fingerprint, err := Fingerprint(body)
	if err != nil {
		return Result{}, fmt.Errorf("computing idempotency fingerprint: %w", err)
	}

	rk := redisKey(tenant, key)
	val, err := c.rdb.Get(ctx, rk).Bytes()
	if err == nil {
		var cb cachedBinding
		if jerr := json.Unmarshal(val, &cb); jerr == nil {
			return c.compare(cb, method, path, fingerprint), nil
		}
		c.logger.Warn("invalid idempotency cache entry", "key", rk)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("idempotency cache lookup failed, falling back to database", "error", err)
	}

	cb, found, err := c.lookupDB(ctx, tenant, key)
	if err != nil {
		return Result{}, fmt.Errorf("idempotency database lookup: %w", err)
	}
	if !found {
		return Result{Hit: false}, nil
	}

	c.warmCache(ctx, rk, cb)
	return c.compare(cb, method, path, fingerprint), nil
}

func (c *Cache) compare(cb cachedBinding, method, path, fingerprint string) Result {
	if cb.Method != method || cb.Path != path || cb.Fingerprint != fingerprint {
		telemetry.IdempotencyConflictsTotal.Inc()
		return Result{Conflict: true}
	}
	telemetry.IdempotencyHitsTotal.Inc()
	return Result{Hit: true, Status: cb.Status, Body: cb.Body}
}

func (c *Cache) lookupDB(ctx context.Context, tenant, key string) (cachedBinding, bool, error) {
	var cb cachedBinding
	query := `SELECT fingerprint, method, path, response_status, response_body
		FROM idempotency_bindings
		WHERE tenant = $1 AND idempotency_key = $2 AND expires_at > now()`
	err := c.db.QueryRow(ctx, query, tenant, key).Scan(&cb.Fingerprint, &cb.Method, &cb.Path, &cb.Status, &cb.Body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cachedBinding{}, false, nil
		}
		return cachedBinding{}, false, err
	}
	return cb, true, nil
}

// Store implements store(tenant, key, method, path, request_body, status,
// response_body, ttl). Persistence failures are logged but MUST NOT roll
// back the user-visible response that has already been sent.
func (c *Cache) Store(ctx context.Context, tenant, key, method, path string, body []byte, status int, responseBody []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fingerprint, err := Fingerprint(body)
	if err != nil {
		c.logger.Error("failed to compute idempotency fingerprint for store", "error", err)
		return
	}

	expiresAt := time.Now().Add(ttl)
	query := `INSERT INTO idempotency_bindings (tenant, idempotency_key, fingerprint, method, path, response_status, response_body, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (tenant, idempotency_key) DO NOTHING`
	if _, err := c.db.Exec(ctx, query, tenant, key, fingerprint, method, path, status, responseBody, expiresAt); err != nil {
		c.logger.Error("failed to persist idempotency binding", "error", err, "tenant", tenant)
	}

	cb := cachedBinding{Fingerprint: fingerprint, Method: method, Path: path, Status: status, Body: responseBody}
	c.warmCache(ctx, redisKey(tenant, key), cb)
}

func (c *Cache) warmCache(ctx context.Context, rk string, cb cachedBinding) {
	b, err := json.Marshal(cb)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, rk, b, DefaultTTL).Err(); err != nil {
		c.logger.Warn("failed to warm idempotency cache", "error", err, "key", rk)
	}
}
