// Package groupcache resolves Signal's opaque internal group identifier
// to its externally addressable public group id, caching results in a
// bounded LRU so repeat sends and inbound messages for an active group
// avoid refetching the gateway's group list on every message.
package groupcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// Fetcher fetches the full group list for account from the gateway and
// returns the public id matching internalID, or an error if no group
// descriptor matches. Implemented by internal/gateway.Client in
// production; faked in tests.
type Fetcher interface {
	FetchGroupID(ctx context.Context, account, internalID string) (string, error)
}

// Cache is an LRU cache mapping internal group ids to public group ids.
// All cache state is protected by a single mutex; the network fetch on
// a miss happens outside the lock, so concurrent misses for the same
// id may duplicate the fetch — acceptable, since the fetch is
// idempotent and misses are rare once a group is warm.
type Cache struct {
	fetcher Fetcher
	account string
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type entry struct {
	internalID string
	publicID   string
}

// New builds a Cache bounded to maxSize entries. maxSize <= 0 is
// treated as 1 so the cache always has room for at least one group.
func New(fetcher Fetcher, account string, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		fetcher: fetcher,
		account: account,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Resolve translates internalID to its public group id. On a cache hit
// the entry is promoted to most-recently-used. On a miss, it fetches
// from the gateway, inserts into the cache (evicting the
// least-recently-used entry if at capacity), and returns the result.
func (c *Cache) Resolve(ctx context.Context, internalID string) (string, error) {
	if publicID, ok := c.lookup(internalID); ok {
		return publicID, nil
	}

	publicID, err := c.fetcher.FetchGroupID(ctx, c.account, internalID)
	if err != nil {
		return "", fmt.Errorf("resolve group %s: %w", internalID, err)
	}

	c.insert(internalID, publicID)
	return publicID, nil
}

// lookup returns the cached public id for internalID, promoting it to
// most-recently-used on a hit.
func (c *Cache) lookup(internalID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[internalID]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).publicID, true
}

// insert adds or overwrites internalID's mapping, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) insert(internalID, publicID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[internalID]; ok {
		el.Value.(*entry).publicID = publicID
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		lru := c.order.Back()
		if lru != nil {
			c.order.Remove(lru)
			delete(c.entries, lru.Value.(*entry).internalID)
		}
	}

	el := c.order.PushFront(&entry{internalID: internalID, publicID: publicID})
	c.entries[internalID] = el
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
