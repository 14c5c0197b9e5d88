// Package cache keeps recently aggregated conversation details in memory and
// drops them when an invalidation event names their conversation.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"github.com/vedran77/parley/internal/domain"
	"github.com/vedran77/parley/internal/metrics"
)

// DetailsProvider builds details from the store.
type DetailsProvider interface {
	AggregateFor(ctx context.Context, conv domain.Conversation, viewerID uuid.UUID, includeMessages bool, previewLimit int) (*domain.ConversationDetails, error)
}

type detailsKey struct {
	conversationID  uuid.UUID
	viewerID        uuid.UUID
	includeMessages bool
	previewLimit    int
}

type DetailsCache struct {
	provider DetailsProvider
	entries  *lru.Cache
	log      zerolog.Logger

	// generation moves on every invalidation so a fill that raced with one
	// is not stored. fillMu orders fills against invalidations.
	generation atomic.Uint64
	fillMu     sync.RWMutex

	idxMu sync.Mutex
	index map[uuid.UUID]map[detailsKey]struct{}
}

func NewDetailsCache(provider DetailsProvider, size int, log zerolog.Logger) (*DetailsCache, error) {
	c := &DetailsCache{
		provider: provider,
		log:      log.With().Str("component", "cache").Logger(),
		index:    make(map[uuid.UUID]map[detailsKey]struct{}),
	}
	entries, err := lru.NewWithEvict(size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// AggregateFor serves details from the cache, filling it on a miss.
func (c *DetailsCache) AggregateFor(ctx context.Context, conv domain.Conversation, viewerID uuid.UUID, includeMessages bool, previewLimit int) (*domain.ConversationDetails, error) {
	key := detailsKey{
		conversationID:  conv.ID,
		viewerID:        viewerID,
		includeMessages: includeMessages,
		previewLimit:    previewLimit,
	}
	if v, ok := c.entries.Get(key); ok {
		metrics.RecordCacheHit()
		return cloneDetails(v.(*domain.ConversationDetails)), nil
	}
	metrics.RecordCacheMiss()

	gen := c.generation.Load()
	details, err := c.provider.AggregateFor(ctx, conv, viewerID, includeMessages, previewLimit)
	if err != nil {
		return nil, err
	}

	c.fillMu.RLock()
	defer c.fillMu.RUnlock()
	if c.generation.Load() != gen {
		return details, nil
	}
	// Index after Add so an eviction in between leaves at worst a dangling
	// index entry, never an unindexed cache entry.
	c.entries.Add(key, cloneDetails(details))
	c.idxMu.Lock()
	keys, ok := c.index[conv.ID]
	if !ok {
		keys = make(map[detailsKey]struct{})
		c.index[conv.ID] = keys
	}
	keys[key] = struct{}{}
	c.idxMu.Unlock()
	return details, nil
}

// Invalidate drops every cached view of the conversation.
func (c *DetailsCache) Invalidate(conversationID uuid.UUID) {
	c.fillMu.Lock()
	defer c.fillMu.Unlock()

	c.generation.Add(1)
	c.idxMu.Lock()
	keys := c.index[conversationID]
	delete(c.index, conversationID)
	c.idxMu.Unlock()

	for key := range keys {
		c.entries.Remove(key)
	}
}

// Consume makes the cache an events.Sink. Invalidation is idempotent, so
// repeated deliveries are harmless.
func (c *DetailsCache) Consume(_ context.Context, evt domain.Event) error {
	c.Invalidate(evt.ConversationID)
	c.log.Debug().
		Str("type", string(evt.Type)).
		Str("conversation_id", evt.ConversationID.String()).
		Msg("Invalidated conversation details")
	return nil
}

func (c *DetailsCache) Len() int {
	return c.entries.Len()
}

func (c *DetailsCache) onEvict(k, _ interface{}) {
	key := k.(detailsKey)
	c.idxMu.Lock()
	defer c.idxMu.Unlock()
	if keys, ok := c.index[key.conversationID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.index, key.conversationID)
		}
	}
}

func cloneDetails(d *domain.ConversationDetails) *domain.ConversationDetails {
	out := *d
	if d.Messages != nil {
		out.Messages = append([]domain.Message(nil), d.Messages...)
	}
	if d.UnreadCount != nil {
		n := *d.UnreadCount
		out.UnreadCount = &n
	}
	return &out
}
