package table

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL bounds how long a parsed upload is reused.
const DefaultTTL = 2 * time.Hour

type cacheEntry struct {
	frame    *Frame
	inserted time.Time
}

// Cache holds loaded frames keyed by upload identity. Entries older than the
// TTL are evicted when read and swept on every insert; evicted frames are
// closed.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cache) Get(key string) (*Frame, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.now().Sub(e.inserted) > c.ttl {
		delete(c.entries, key)
		c.mu.Unlock()
		e.frame.Close()
		return nil, false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.frame, true
}

func (c *Cache) Put(key string, f *Frame) {
	c.mu.Lock()
	now := c.now()
	stale := c.expired(now)
	if old, ok := c.entries[key]; ok && old.frame != f {
		stale = append(stale, old.frame)
	}
	c.entries[key] = cacheEntry{frame: f, inserted: now}
	c.mu.Unlock()

	closeFrames(stale)
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		e.frame.Close()
	}
}

// Sweep evicts every expired entry.
func (c *Cache) Sweep() {
	c.mu.Lock()
	stale := c.expired(c.now())
	c.mu.Unlock()
	closeFrames(stale)
}

// expired removes entries past the TTL and returns their frames. c.mu must be
// held.
func (c *Cache) expired(now time.Time) []*Frame {
	var stale []*Frame
	for key, e := range c.entries {
		if now.Sub(e.inserted) > c.ttl {
			delete(c.entries, key)
			stale = append(stale, e.frame)
		}
	}
	return stale
}

func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func closeFrames(frames []*Frame) {
	for _, f := range frames {
		f.Close()
	}
}

// UploadKey identifies one upload within one session.
func UploadKey(sessionID, name string, data []byte) string {
	sum := sha256.Sum256(data)
	return sessionID + "/" + name + "/" + hex.EncodeToString(sum[:])
}

// CachedLoader parses uploads through Load, copies them into a Frame and
// reuses the frame for the cache TTL.
type CachedLoader struct {
	cache *Cache
}

func NewCachedLoader(cache *Cache) *CachedLoader {
	return &CachedLoader{cache: cache}
}

// Load returns the frame for the upload and its cache key. hit reports whether
// parsing was skipped.
func (l *CachedLoader) Load(ctx context.Context, sessionID, name string, data []byte) (f *Frame, key string, hit bool, err error) {
	key = UploadKey(sessionID, name, data)
	if f, ok := l.cache.Get(key); ok {
		return f, key, true, nil
	}
	t, err := Load(name, data)
	if err != nil {
		return nil, key, false, err
	}
	f, err = OpenFrame(ctx, t)
	if err != nil {
		return nil, key, false, err
	}
	l.cache.Put(key, f)
	return f, key, false, nil
}

// Forget drops a previous upload, e.g. when the session uploads a new file.
func (l *CachedLoader) Forget(key string) {
	l.cache.Delete(key)
}

// Sweep evicts expired uploads.
func (l *CachedLoader) Sweep() {
	l.cache.Sweep()
}
