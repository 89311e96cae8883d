package tracker

import (
	"sync"

	"github.com/mantis2ado/mantis2ado/internal/identity"
	"github.com/mantis2ado/mantis2ado/internal/types"
)

// RunCache is the only state shared between issues of one migration run:
// work items already located by tag, and resolved identities. It is created
// per run and passed to the engine explicitly.
type RunCache struct {
	mu         sync.Mutex
	items      map[string]types.WorkItem
	Identities *identity.Cache
}

// NewRunCache returns an empty cache.
func NewRunCache() *RunCache {
	return &RunCache{
		items:      make(map[string]types.WorkItem),
		Identities: identity.NewCache(),
	}
}

// Item returns the cached work item for a migration tag.
func (c *RunCache) Item(tag string) (types.WorkItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[tag]
	return item, ok
}

// PutItem records the authoritative work item for a migration tag.
func (c *RunCache) PutItem(tag string, item types.WorkItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tag] = item
}

// Len returns the number of cached work items.
func (c *RunCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
