package fetcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/NamanBalaji/hlsdl/internal/fragment"
	"github.com/NamanBalaji/hlsdl/internal/logger"
	"github.com/NamanBalaji/hlsdl/internal/metrics"
	"github.com/NamanBalaji/hlsdl/pkg/protocol"
)

type keyEntry struct {
	mu  sync.Mutex
	key []byte
}

// KeyCache maps key URIs to key bytes for one download run. Concurrent
// lookups of the same URI share a single fetch.
type KeyCache struct {
	client  protocol.Fetcher
	headers map[string]string
	metrics *metrics.Recorder

	mu      sync.Mutex
	entries map[string]*keyEntry
}

func NewKeyCache(client protocol.Fetcher, headers map[string]string, rec *metrics.Recorder) *KeyCache {
	return &KeyCache{
		client:  client,
		headers: headers,
		metrics: rec,
		entries: make(map[string]*keyEntry),
	}
}

// Get returns the key stored at uri, fetching it on first use.
func (c *KeyCache) Get(ctx context.Context, uri string) ([]byte, error) {
	c.mu.Lock()
	e, ok := c.entries[uri]
	if !ok {
		e = &keyEntry{}
		c.entries[uri] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.key != nil {
		return e.key, nil
	}

	logger.Debugf("Fetching decryption key %s", uri)

	key, _, err := c.client.Fetch(ctx, uri, protocol.FetchOptions{Headers: c.headers})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fragment.ErrKeyFetch, err)
	}

	if len(key) != 16 {
		return nil, fmt.Errorf("%w: got %d bytes from %s", fragment.ErrInvalidKey, len(key), uri)
	}

	c.metrics.KeyFetched()
	e.key = key

	return key, nil
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries {
		e.mu.Lock()
		if e.key != nil {
			n++
		}
		e.mu.Unlock()
	}

	return n
}
