package inventory

import (
	"sort"
	"sync"

	"github.com/zgpcy/oci-cost-sync/internal/provider"
)

// cursor collects what one family pass observed. Listing goroutines record
// into it concurrently.
type cursor struct {
	mu       sync.Mutex
	observed map[string]provider.Resource
	failed   map[string]error
}

func newCursor() *cursor {
	return &cursor{
		observed: make(map[string]provider.Resource),
		failed:   make(map[string]error),
	}
}

func (c *cursor) observe(rs []provider.Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rs {
		c.observed[r.ID] = r
	}
}

func (c *cursor) fail(compartmentID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.failed[compartmentID]; !ok {
		c.failed[compartmentID] = err
	}
}

func (c *cursor) seen(id string) bool {
	_, ok := c.observed[id]
	return ok
}

func (c *cursor) compartmentFailed(id string) bool {
	_, ok := c.failed[id]
	return ok
}

// resources returns the observed resources ordered by id
func (c *cursor) resources() []provider.Resource {
	out := make([]provider.Resource, 0, len(c.observed))
	for _, r := range c.observed {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *cursor) failedCompartments() []string {
	out := make([]string, 0, len(c.failed))
	for id := range c.failed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
