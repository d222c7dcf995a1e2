package store

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultClientTTL = 5 * time.Minute

// CachedStore keeps recently seen client registrations in memory so repeated handshakes
// skip the database. File operations pass straight through.
type CachedStore struct {
	MetadataStore
	clients *expirable.LRU[string, ClientRecord]
}

// NewCachedStore wraps inner. A size of zero or less disables the cache.
func NewCachedStore(inner MetadataStore, size int, ttl time.Duration) MetadataStore {
	if size <= 0 {
		return inner
	}
	if ttl <= 0 {
		ttl = defaultClientTTL
	}
	return &CachedStore{
		MetadataStore: inner,
		clients:       expirable.NewLRU[string, ClientRecord](size, nil, ttl),
	}
}

func (c *CachedStore) GetClient(ctx context.Context, id string) (*ClientRecord, error) {
	if rec, ok := c.clients.Get(id); ok {
		return &rec, nil
	}
	rec, err := c.MetadataStore.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	c.clients.Add(id, *rec)
	return rec, nil
}

func (c *CachedStore) RegisterClient(ctx context.Context, id, publicKey string) error {
	c.clients.Remove(id)
	return c.MetadataStore.RegisterClient(ctx, id, publicKey)
}

func (c *CachedStore) TouchClient(ctx context.Context, id string, at time.Time) error {
	c.clients.Remove(id)
	return c.MetadataStore.TouchClient(ctx, id, at)
}

func (c *CachedStore) UnregisterClient(ctx context.Context, id string) error {
	c.clients.Remove(id)
	return c.MetadataStore.UnregisterClient(ctx, id)
}
