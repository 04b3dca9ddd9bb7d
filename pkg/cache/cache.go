// Package cache provides the shared TTL cache and rate limiter used by the
// embedder, retrieval engine, and HTTP middleware. Redis backs production;
// an in-memory implementation backs tests and single-node setups.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Standard TTLs. Embeddings are content-addressed and long-lived; search
// results and query rewrites go stale with the corpus.
const (
	EmbeddingTTL = 24 * time.Hour
	SearchTTL    = time.Hour
	RewriteTTL   = time.Hour
)

// Cache is a byte-oriented TTL cache. Get returns ok=false on a miss; a
// backend failure is reported as a miss plus the error so callers can treat
// the cache as best-effort.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// RateLimit counts a hit against key within the window and reports
	// whether the caller is still under limit.
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	// Keys reports the number of stored keys, for admin stats.
	Keys(ctx context.Context) (int64, error)

	// Reset drops every key, including rate-limit counters.
	Reset(ctx context.Context) error

	Close() error
}

// RateLimitResult is the outcome of one rate-limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
}

// EmbeddingKey addresses a cached embedding by model and content digest.
func EmbeddingKey(model, text string) string {
	return "embedding:" + model + ":" + digest(text)
}

// SearchKey addresses a cached search result set by the request shape. seed
// is the query-vector digest for vector-bearing modes and the query text for
// keyword mode.
func SearchKey(seed, mode string, limit int, filtered bool) string {
	return "search:" + digest(fmt.Sprintf("%s|%s|%d|%t", seed, mode, limit, filtered))
}

// VectorDigest fingerprints an embedding for cache addressing.
func VectorDigest(vector []float32) string {
	buf := make([]byte, 0, len(vector)*4)
	var word [4]byte
	for _, v := range vector {
		binary.LittleEndian.PutUint32(word[:], math.Float32bits(v))
		buf = append(buf, word[:]...)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// RewriteKey addresses a cached query rewrite (HyDE or multi-query) by
// strategy and query digest.
func RewriteKey(strategy, query string) string {
	return "query-rewrite:" + strategy + ":" + digest(query)
}

// RateLimitKey addresses a per-client rate-limit counter.
func RateLimitKey(clientID string) string {
	return "rate-limit:" + digest(clientID)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
