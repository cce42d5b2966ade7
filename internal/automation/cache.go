package automation

import (
	"context"
	"sync"
	"time"
)

// CachedRuleStore keeps rule reads in memory for a short TTL. Admin writes
// call Invalidate so edits show up on the next turn.
type CachedRuleStore struct {
	next RuleStore
	ttl  time.Duration
	now  func() time.Time

	mu         sync.Mutex
	generation uint64
	chatbot    cacheEntry[*Chatbot]
	responses  map[uint]cacheEntry[[]AutoResponse]
	flows      map[uint]cacheEntry[[]Flow]
	graphs     map[uint]cacheEntry[*FlowGraph]
}

type cacheEntry[V any] struct {
	value   V
	expires time.Time
	ok      bool
}

func (c cacheEntry[V]) fresh(now time.Time) bool {
	return c.ok && now.Before(c.expires)
}

func NewCachedRuleStore(next RuleStore, ttl time.Duration) *CachedRuleStore {
	c := &CachedRuleStore{next: next, ttl: ttl, now: time.Now}
	c.reset()
	return c
}

func (c *CachedRuleStore) reset() {
	c.chatbot = cacheEntry[*Chatbot]{}
	c.responses = make(map[uint]cacheEntry[[]AutoResponse])
	c.flows = make(map[uint]cacheEntry[[]Flow])
	c.graphs = make(map[uint]cacheEntry[*FlowGraph])
}

// Invalidate drops every cached entry. Loads already in flight are not stored.
func (c *CachedRuleStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.reset()
}

func (c *CachedRuleStore) ActiveChatbot(ctx context.Context) (*Chatbot, error) {
	return load(c, func() *cacheEntry[*Chatbot] { return &c.chatbot },
		func() (*Chatbot, error) { return c.next.ActiveChatbot(ctx) })
}

func (c *CachedRuleStore) AutoResponses(ctx context.Context, chatbotID uint) ([]AutoResponse, error) {
	return loadKeyed(c, func() map[uint]cacheEntry[[]AutoResponse] { return c.responses }, chatbotID,
		func() ([]AutoResponse, error) { return c.next.AutoResponses(ctx, chatbotID) })
}

func (c *CachedRuleStore) Flows(ctx context.Context, chatbotID uint) ([]Flow, error) {
	return loadKeyed(c, func() map[uint]cacheEntry[[]Flow] { return c.flows }, chatbotID,
		func() ([]Flow, error) { return c.next.Flows(ctx, chatbotID) })
}

func (c *CachedRuleStore) FlowGraph(ctx context.Context, flowID uint) (*FlowGraph, error) {
	return loadKeyed(c, func() map[uint]cacheEntry[*FlowGraph] { return c.graphs }, flowID,
		func() (*FlowGraph, error) { return c.next.FlowGraph(ctx, flowID) })
}

// load serves slot from cache or fills it. Errors are never cached. slot is
// resolved under the lock because Invalidate swaps the maps.
func load[V any](c *CachedRuleStore, slot func() *cacheEntry[V], fetch func() (V, error)) (V, error) {
	c.mu.Lock()
	if e := *slot(); e.fresh(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	if gen == c.generation {
		*slot() = cacheEntry[V]{value: v, expires: c.now().Add(c.ttl), ok: true}
	}
	c.mu.Unlock()
	return v, nil
}

func loadKeyed[V any](c *CachedRuleStore, entries func() map[uint]cacheEntry[V], key uint, fetch func() (V, error)) (V, error) {
	c.mu.Lock()
	if e, found := entries()[key]; found && e.fresh(c.now()) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen := c.generation
	c.mu.Unlock()

	v, err := fetch()
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	if gen == c.generation {
		entries()[key] = cacheEntry[V]{value: v, expires: c.now().Add(c.ttl), ok: true}
	}
	c.mu.Unlock()
	return v, nil
}
