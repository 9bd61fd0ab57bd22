package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ingestd",
		Subsystem: "embeddings",
		Name:      "cache_lookups_total",
		Help:      "Embedding cache lookups by result (hit or miss).",
	},
	[]string{"result"},
)

// DefaultCacheSize is the number of vectors CachedEmbedder keeps.
const DefaultCacheSize = 1024

// CachedEmbedder memoizes vectors per text. Retrieval embeds the same
// label and question texts repeatedly; chunk texts rarely repeat, so only
// misses reach the wrapped provider.
type CachedEmbedder struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU cache of size entries.
func NewCachedEmbedder(inner Provider, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed serves cached vectors and embeds the misses in one call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return c.inner.Embed(ctx, texts)
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	cacheLookups.WithLabelValues("hit").Add(float64(len(texts) - len(missTexts)))
	cacheLookups.WithLabelValues("miss").Add(float64(len(missTexts)))
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if err := checkVectors(fresh, len(missTexts), 0); err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(cacheKey(texts[idx]), fresh[j])
	}
	return results, nil
}

// Dimension passes through to the wrapped provider.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Close closes the wrapped provider.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}
