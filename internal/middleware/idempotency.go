package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyKeyHeader carries a client chosen key for operator POSTs.
const IdempotencyKeyHeader = "Idempotency-Key"

// MaxIdempotencyKeyLength bounds the header value.
const MaxIdempotencyKeyLength = 64

// DefaultIdempotencyTTL is how long a captured response is replayed.
const DefaultIdempotencyTTL = 24 * time.Hour

// CachedResponse is a captured 2xx response.
type CachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache stores captured responses by scoped key. Get returns
// (nil, nil) on a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

type idempotencyKeyCtx struct{}

// GetIdempotencyKey returns the request's Idempotency-Key, if one was accepted.
func GetIdempotencyKey(ctx context.Context) string {
	return stringValue(ctx, idempotencyKeyCtx{})
}

// Idempotency replays the first 2xx response for a repeated Idempotency-Key.
// Keys are scoped to the operator, method and path, so two operators never
// share a response. Requests without the header run normally. Cache errors
// are logged and the request runs uncached.
func Idempotency(cache ResponseCache, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > MaxIdempotencyKeyLength {
				writeJSONError(w, r, http.StatusBadRequest, "validation_error", "Idempotency-Key exceeds 64 characters")
				return
			}

			ctx := context.WithValue(r.Context(), idempotencyKeyCtx{}, key)
			r = r.WithContext(ctx)
			scoped := GetOperatorID(ctx) + "|" + r.Method + "|" + r.URL.Path + "|" + key

			cached, err := cache.Get(ctx, scoped)
			if err != nil {
				slog.WarnContext(ctx, "idempotency cache unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if cached != nil {
				slog.InfoContext(ctx, "replaying cached response", "idempotency_key", key, "status", cached.Status)
				if cached.ContentType != "" {
					w.Header().Set("Content-Type", cached.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			bc := &bodyCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(bc, r)
			if bc.status < 200 || bc.status >= 300 {
				return
			}
			resp := &CachedResponse{
				Status:      bc.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        bc.body.Bytes(),
			}
			if err := cache.Put(ctx, scoped, resp, ttl); err != nil {
				slog.WarnContext(ctx, "failed to cache response", "idempotency_key", key, "error", err)
			}
		})
	}
}

// bodyCapture tees the response body.
type bodyCapture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bodyCapture) WriteHeader(code int) {
	if !b.wroteHeader {
		b.status = code
		b.wroteHeader = true
	}
	b.ResponseWriter.WriteHeader(code)
}

func (b *bodyCapture) Write(p []byte) (int, error) {
	b.wroteHeader = true
	b.body.Write(p)
	return b.ResponseWriter.Write(p)
}

func (b *bodyCapture) Unwrap() http.ResponseWriter {
	return b.ResponseWriter
}

// InMemoryResponseCache is a ResponseCache for a single instance.
type InMemoryResponseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	resp    CachedResponse
	expires time.Time
}

// NewInMemoryResponseCache creates an empty cache.
func NewInMemoryResponseCache() *InMemoryResponseCache {
	return &InMemoryResponseCache{entries: make(map[string]cacheEntry), now: time.Now}
}

// Get implements ResponseCache.
func (c *InMemoryResponseCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

// Put implements ResponseCache. The first response for a key wins.
func (c *InMemoryResponseCache) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && c.now().Before(e.expires) {
		return nil
	}
	c.entries[key] = cacheEntry{resp: *resp, expires: c.now().Add(ttl)}
	return nil
}

// redisIdempotencyPrefix namespaces cached responses.
const redisIdempotencyPrefix = "idempotency:"

// RedisResponseCache shares captured responses across instances.
type RedisResponseCache struct {
	client redis.UniversalClient
}

// NewRedisResponseCache creates a cache over client.
func NewRedisResponseCache(client redis.UniversalClient) *RedisResponseCache {
	return &RedisResponseCache{client: client}
}

// Get implements ResponseCache.
func (c *RedisResponseCache) Get(ctx context.Context, key string) (*CachedResponse, error) {
	raw, err := c.client.Get(ctx, redisIdempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp CachedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Put implements ResponseCache with SET NX so the first response wins.
func (c *RedisResponseCache) Put(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.SetNX(ctx, redisIdempotencyPrefix+key, raw, ttl).Err()
}
