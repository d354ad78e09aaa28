package plancache

import (
	"sync"

	"github.com/haricheung/dietplan/internal/types"
)

// Collection is the ordered, append-only set of plans generated during this
// process. Insertion order is the scan order used by matching.
type Collection struct {
	mu    sync.RWMutex
	plans []types.Plan
}

// NewCollection returns a collection pre-populated with seed, in order.
func NewCollection(seed ...types.Plan) *Collection {
	c := &Collection{}
	c.plans = append(c.plans, seed...)
	return c
}

// Len returns the number of stored plans.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

// Plans returns a copy of the stored plans in insertion order.
func (c *Collection) Plans() []types.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Append adds p at the end of the collection.
func (c *Collection) Append(p types.Plan) {
	c.mu.Lock()
	c.plans = append(c.plans, p)
	c.mu.Unlock()
}
