package cache

import (
	"sync"
	"time"

	"harmonia/pkg/models"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Value      interface{}
	Expiration time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expiration)
}

// MemoryCache implements a simple in-memory cache
type MemoryCache struct {
	items map[string]*CacheEntry
	mutex sync.RWMutex
	ttl   time.Duration
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	cache := &MemoryCache{
		items: make(map[string]*CacheEntry),
		mutex: sync.RWMutex{},
		ttl:   ttl,
	}

	// Start cleanup goroutine
	go cache.cleanupExpired()

	return cache
}

// Set stores a value in the cache
func (c *MemoryCache) Set(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items[key] = &CacheEntry{
		Value:      value,
		Expiration: time.Now().Add(c.ttl),
	}
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() {
		return nil, false
	}

	return entry.Value, true
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheEntry)
}

// Size returns the number of items in the cache
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// cleanupExpired removes expired entries periodically
func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute * 5) // Cleanup every 5 minutes
	defer ticker.Stop()

	for range ticker.C {
		c.mutex.Lock()
		for key, entry := range c.items {
			if entry.IsExpired() {
				delete(c.items, key)
			}
		}
		c.mutex.Unlock()
	}
}

// SongCache caches song listings keyed by query so hot catalog reads skip
// the database.
type SongCache struct {
	*MemoryCache
}

// NewSongCache creates a new song cache
func NewSongCache() *SongCache {
	return &SongCache{
		MemoryCache: NewMemoryCache(15 * time.Minute),
	}
}

// SetSongs caches a slice of songs
func (sc *SongCache) SetSongs(key string, songs []models.Song) {
	sc.Set(key, songs)
}

// GetSongs retrieves cached songs
func (sc *SongCache) GetSongs(key string) ([]models.Song, bool) {
	value, exists := sc.Get(key)
	if !exists {
		return nil, false
	}

	songs, ok := value.([]models.Song)
	return songs, ok
}

// URLCache caches resolved audio URLs keyed by song id. Resolution results
// are stable for a song, so a short TTL keeps the play path cheap without
// risking stale paths after re-uploads.
type URLCache struct {
	*MemoryCache
}

// NewURLCache creates a new resolved URL cache
func NewURLCache() *URLCache {
	return &URLCache{
		MemoryCache: NewMemoryCache(5 * time.Minute),
	}
}

// SetURL caches a resolved URL for a song id
func (uc *URLCache) SetURL(songID, url string) {
	uc.Set(songID, url)
}

// GetURL retrieves a cached URL
func (uc *URLCache) GetURL(songID string) (string, bool) {
	value, exists := uc.Get(songID)
	if !exists {
		return "", false
	}

	url, ok := value.(string)
	return url, ok
}
