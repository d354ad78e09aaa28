// Package plancache answers diet plan queries from the in-process collection
// and falls back to generation on a miss.
package plancache

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/haricheung/dietplan/internal/bus"
	"github.com/haricheung/dietplan/internal/generation"
	"github.com/haricheung/dietplan/internal/match"
	"github.com/haricheung/dietplan/internal/types"
	"github.com/haricheung/dietplan/internal/validator"
)

// Generator produces raw plan text for a prompt mode. *generation.Adapter
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, mode generation.Mode, req generation.Request, nextID int) (string, error)
}

// Stats counts cache outcomes since construction.
type Stats struct {
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Generated int `json:"generated"`
	Updated   int `json:"updated"`
	Failures  int `json:"failures"`
}

// Cache is the plan cache. One operation runs at a time.
type Cache struct {
	mu   sync.Mutex // held for a whole operation, generation included
	coll *Collection
	gen  Generator
	tol  match.Tolerance
	b    *bus.Bus // nil-safe

	statsMu sync.Mutex
	stats   Stats
}

// New wires a cache over coll. b may be nil.
func New(coll *Collection, gen Generator, tol match.Tolerance, b *bus.Bus) *Cache {
	if coll == nil {
		coll = NewCollection()
	}
	return &Cache{coll: coll, gen: gen, tol: tol.WithDefaults(), b: b}
}

// Collection returns the collection the cache reads and appends to.
func (c *Cache) Collection() *Collection { return c.coll }

// FindOrGenerate returns the description of the first stored plan matching
// profile, or generates, stores and returns a new one.
//
// Expectations:
//   - Returns the first match's description without calling the generator on a hit
//   - On a miss calls the generator once in create mode with nextID = size+1
//   - Appends exactly one plan on a successful miss, with ID = size+1
//   - Overrides a differing model id and reports it as ModelID on the PlanGenerated event
//   - Appends nothing and returns the error when generation or validation fails
func (c *Cache) FindOrGenerate(ctx context.Context, profile types.Profile) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if plan, ok := match.Find(c.coll.Plans(), profile, c.tol); ok {
		c.incr(&c.stats.Hits)
		log.Printf("[CACHE] hit plan_id=%d name=%q", plan.ID, plan.Name)
		c.publish(types.EventCacheHit, types.CacheEvent{Profile: profile, PlanID: plan.ID, PlanName: plan.Name})
		return plan.Description, nil
	}

	c.incr(&c.stats.Misses)
	nextID := c.coll.Len() + 1
	log.Printf("[CACHE] miss, generating plan next_id=%d", nextID)
	c.publish(types.EventCacheMiss, types.CacheEvent{Profile: profile, PlanID: nextID, Mode: string(generation.ModeCreate)})

	start := time.Now()
	plan, err := c.generate(ctx, generation.ModeCreate, generation.Request{Profile: profile}, nextID)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		c.fail(profile, generation.ModeCreate, err, elapsed)
		return "", err
	}

	ev := types.CacheEvent{Profile: profile, PlanID: nextID, PlanName: plan.Name, Mode: string(generation.ModeCreate), ElapsedMs: elapsed}
	if plan.ID != nextID {
		log.Printf("[CACHE] WARNING: model returned id=%d, assigning id=%d", plan.ID, nextID)
		ev.ModelID = plan.ID
		plan.ID = nextID
	}
	c.coll.Append(plan)
	c.incr(&c.stats.Generated)
	log.Printf("[CACHE] stored plan_id=%d name=%q in %dms", plan.ID, plan.Name, elapsed)
	c.publish(types.EventPlanGenerated, ev)
	return plan.Description, nil
}

// Update regenerates a plan from the previous and current values. The
// collection is not consulted for matching and is never modified.
//
// Expectations:
//   - Calls the generator once in update mode with nextID = size+1
//   - Returns the parsed plan as produced by the model
//   - Leaves the collection unchanged on success and failure
func (c *Cache) Update(ctx context.Context, req types.UpdateRequest) (types.Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nextID := c.coll.Len() + 1
	log.Printf("[CACHE] update previous_id=%d next_id=%d", req.PreviousID, nextID)

	start := time.Now()
	plan, err := c.generate(ctx, generation.ModeUpdate, generation.RequestFromUpdate(req), nextID)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		c.fail(req.Current, generation.ModeUpdate, err, elapsed)
		return types.Plan{}, err
	}

	c.incr(&c.stats.Updated)
	c.publish(types.EventPlanUpdated, types.CacheEvent{
		Profile:   req.Current,
		PlanID:    plan.ID,
		PlanName:  plan.Name,
		Mode:      string(generation.ModeUpdate),
		ElapsedMs: elapsed,
	})
	return plan, nil
}

// Stats returns a snapshot of the outcome counters. It does not wait for an
// in-flight generation.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Cache) incr(n *int) {
	c.statsMu.Lock()
	*n++
	c.statsMu.Unlock()
}

func (c *Cache) generate(ctx context.Context, mode generation.Mode, req generation.Request, nextID int) (types.Plan, error) {
	raw, err := c.gen.Generate(ctx, mode, req, nextID)
	if err != nil {
		return types.Plan{}, err
	}
	return validator.Parse(raw)
}

func (c *Cache) fail(profile types.Profile, mode generation.Mode, err error, elapsed int64) {
	c.incr(&c.stats.Failures)
	log.Printf("[CACHE] %s failed: %v", mode, err)
	c.publish(types.EventGenerationFailed, types.CacheEvent{
		Profile:   profile,
		Mode:      string(mode),
		Error:     err.Error(),
		ElapsedMs: elapsed,
	})
}

func (c *Cache) publish(t types.EventType, ev types.CacheEvent) {
	c.b.Publish(types.Message{Type: t, Payload: ev})
}
