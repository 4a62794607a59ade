// Package semcache caches SQL agent answers in Redis and looks them up by
// embedding similarity of the question.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samsaffron/enrich/internal/embedding"
	"go.uber.org/zap"
)

const (
	// KeyPrefix starts every cache entry key.
	KeyPrefix = "llmcache"

	// DefaultThreshold is the largest cosine distance that counts as a hit.
	DefaultThreshold = 0.03

	scanCount = 100
)

// Entry is one cached answer as returned by History.
type Entry struct {
	Key       string `json:"key"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	LLMString string `json:"llm_string"`
}

// Stats reports lookup outcomes since the cache was created.
type Stats struct {
	Hits   int64 `json:"cache_hits"`
	Misses int64 `json:"cache_misses"`
}

// Cache is a semantic cache over a Redis database.
type Cache struct {
	rdb       redis.UniversalClient
	embedder  embedding.EmbeddingProvider
	threshold float64
	logger    *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. A threshold <= 0 uses DefaultThreshold.
func New(rdb redis.UniversalClient, embedder embedding.EmbeddingProvider, threshold float64, logger *zap.Logger) *Cache {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{rdb: rdb, embedder: embedder, threshold: threshold, logger: logger}
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// llmPrefix scopes entries to one model configuration.
func llmPrefix(llmString string) string {
	sum := sha256.Sum256([]byte(llmString))
	return KeyPrefix + ":" + hex.EncodeToString(sum[:8])
}

// Lookup returns the cached answer closest to question when its distance is
// within the threshold.
func (c *Cache) Lookup(ctx context.Context, question, llmString string) (string, bool, error) {
	vec, err := embedding.EmbedText(ctx, c.embedder, question)
	if err != nil {
		return "", false, fmt.Errorf("embed question: %w", err)
	}

	best := math.Inf(1)
	var answer string
	err = c.scan(ctx, llmPrefix(llmString)+":*", func(key string) error {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		if fields["llm_string"] != llmString {
			return nil
		}
		stored, err := decodeVector([]byte(fields["vector"]))
		if err != nil || len(stored) != len(vec) {
			c.logger.Debug("skipping cache entry", zap.String("key", key), zap.Error(err))
			return nil
		}
		if d := embedding.CosineDistance(vec, stored); d < best {
			best = d
			answer = fields["response"]
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	if best <= c.threshold {
		c.hits.Add(1)
		c.logger.Debug("semantic cache hit", zap.Float64("distance", best))
		return answer, true, nil
	}
	c.misses.Add(1)
	return "", false, nil
}

// Update stores answer for question under the llmString scope.
func (c *Cache) Update(ctx context.Context, question, answer, llmString string) error {
	vec, err := embedding.EmbedText(ctx, c.embedder, question)
	if err != nil {
		return fmt.Errorf("embed question: %w", err)
	}
	key := llmPrefix(llmString) + ":" + uuid.NewString()
	err = c.rdb.HSet(ctx, key, map[string]interface{}{
		"prompt":     question,
		"response":   answer,
		"llm_string": llmString,
		"vector":     encodeVector(vec),
	}).Err()
	if err != nil {
		return fmt.Errorf("store cache entry: %w", err)
	}
	return nil
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Clear deletes every cache entry and returns how many keys were removed.
// Other keys in the database are left alone.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	var batch []string
	var deleted int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("delete cache entries: %w", err)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}
	err := c.scan(ctx, KeyPrefix+":*", func(key string) error {
		batch = append(batch, key)
		if len(batch) >= scanCount {
			return flush()
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	c.logger.Info("semantic cache cleared", zap.Int64("keys", deleted))
	return deleted, nil
}

// Keys lists keys matching pattern ("*" when empty), sorted.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	err := c.scan(ctx, pattern, func(key string) error {
		keys = append(keys, key)
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// Size returns the number of keys in the database.
func (c *Cache) Size(ctx context.Context) (int64, error) {
	return c.rdb.DBSize(ctx).Result()
}

// History lists every cache entry without its vector.
func (c *Cache) History(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := c.scan(ctx, KeyPrefix+":*", func(key string) error {
		fields, err := c.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read %s: %w", key, err)
		}
		entries = append(entries, Entry{
			Key:       key,
			Prompt:    fields["prompt"],
			Response:  fields["response"],
			LLMString: fields["llm_string"],
		})
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, err
}

func (c *Cache) scan(ctx context.Context, match string, fn func(key string) error) error {
	iter := c.rdb.Scan(ctx, 0, match, scanCount).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", match, err)
	}
	return nil
}

var errBadVector = errors.New("vector length is not a multiple of 4")

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(f)))
	}
	return buf
}

func decodeVector(b []byte) ([]float64, error) {
	if len(b)%4 != 0 {
		return nil, errBadVector
	}
	v := make([]float64, len(b)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return v, nil
}
