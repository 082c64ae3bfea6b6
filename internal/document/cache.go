package document

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/howard-nolan/docchat/internal/metrics"
)

// LoadFunc fetches the raw bytes for a stored name (normally Store.Open).
type LoadFunc func(storedName string) ([]byte, error)

// TextCache remembers extracted text per stored name, so asking several
// questions about the same upload only parses the PDF once. Concurrent
// misses for the same name share a single extraction.
type TextCache struct {
	extractor  Extractor
	maxEntries int
	metrics    *metrics.Metrics

	mu      sync.Mutex
	entries map[string]string
	order   []string // insertion order, oldest first
	gens    map[string]uint64 // bumped by Evict; stale loads are not stored

	group singleflight.Group
}

// NewTextCache wraps ex with a cache of at most maxEntries documents.
// maxEntries <= 0 disables caching but still collapses concurrent
// extractions of the same document. m may be nil.
func NewTextCache(ex Extractor, maxEntries int, m *metrics.Metrics) *TextCache {
	return &TextCache{
		extractor:  ex,
		maxEntries: maxEntries,
		metrics:    m,
		entries:    make(map[string]string),
		gens:       make(map[string]uint64),
	}
}

// Text returns the extracted text of storedName, loading and extracting it
// on a miss. Errors from load and from the extractor are returned as-is.
// If ctx ends first Text returns ctx.Err(), but the extraction keeps going
// for the other callers and still fills the cache.
func (c *TextCache) Text(ctx context.Context, storedName string, load LoadFunc) (string, error) {
	c.mu.Lock()
	text, ok := c.entries[storedName]
	gen := c.gens[storedName]
	c.mu.Unlock()

	if ok {
		c.hit()
		return text, nil
	}
	c.miss()

	// Detached from ctx: each caller sharing this flight stops waiting on
	// its own ctx instead.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(storedName, func() (any, error) {
		data, err := load(storedName)
		if err != nil {
			return "", err
		}

		start := time.Now()
		text, err := c.extractor.Extract(shared, data)
		if c.metrics != nil {
			c.metrics.ExtractDuration.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return "", err
		}

		c.store(storedName, text, gen)
		return text, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Evict drops storedName from the cache. Extractions already in flight
// when Evict runs won't repopulate it.
func (c *TextCache) Evict(storedName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[storedName]++
	if _, ok := c.entries[storedName]; !ok {
		return
	}
	delete(c.entries, storedName)
	for i, name := range c.order {
		if name == storedName {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of cached documents.
func (c *TextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TextCache) store(name, text string, gen uint64) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gens[name] {
		return
	}
	if _, ok := c.entries[name]; ok {
		return
	}
	for len(c.order) >= c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[name] = text
	c.order = append(c.order, name)
}

func (c *TextCache) contains(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[name]
	return ok
}

func (c *TextCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *TextCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}
