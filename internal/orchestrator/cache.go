package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/timvw/park-patrol/internal/model"
)

// DefaultCacheSize bounds the number of cached extractions.
const DefaultCacheSize = 128

// ExtractionCache caches sign extractions keyed by image hash and vision
// provider. Re-checking the same photo (e.g. after changing the vehicle type)
// then skips the vision call entirely.
//
// Entries expire after the TTL. The whole cache is purged when the vision
// provider is switched, since a different engine may read the sign
// differently.
type ExtractionCache struct {
	lru *expirable.LRU[string, model.SignExtraction]
}

// NewExtractionCache creates a cache holding up to size entries for ttl.
// A TTL of 0 disables caching.
func NewExtractionCache(size int, ttl time.Duration) *ExtractionCache {
	if ttl <= 0 {
		return &ExtractionCache{}
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &ExtractionCache{lru: expirable.NewLRU[string, model.SignExtraction](size, nil, ttl)}
}

// Enabled reports whether the cache stores anything.
func (c *ExtractionCache) Enabled() bool {
	return c != nil && c.lru != nil
}

// Lookup returns the cached extraction for image as read by provider.
func (c *ExtractionCache) Lookup(image []byte, provider string) (model.SignExtraction, bool) {
	if !c.Enabled() {
		return model.SignExtraction{}, false
	}
	return c.lru.Get(cacheKey(image, provider))
}

// Store saves an extraction for image as read by provider.
func (c *ExtractionCache) Store(image []byte, provider string, ext model.SignExtraction) {
	if !c.Enabled() {
		return
	}
	c.lru.Add(cacheKey(image, provider), ext)
}

// Purge drops every entry.
func (c *ExtractionCache) Purge() {
	if !c.Enabled() {
		return
	}
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *ExtractionCache) Len() int {
	if !c.Enabled() {
		return 0
	}
	return c.lru.Len()
}

// cacheKey returns provider + hex-encoded SHA256 of the image.
func cacheKey(image []byte, provider string) string {
	h := sha256.Sum256(image)
	return provider + ":" + hex.EncodeToString(h[:])
}
