package plancache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haricheung/dietplan/internal/bus"
	"github.com/haricheung/dietplan/internal/generation"
	"github.com/haricheung/dietplan/internal/match"
	"github.com/haricheung/dietplan/internal/types"
	"github.com/haricheung/dietplan/internal/validator"
)

// stubGen records every call and answers with reply(mode, nextID).
type stubGen struct {
	mu    sync.Mutex
	calls []genCall
	reply func(mode generation.Mode, nextID int) (string, error)
}

type genCall struct {
	mode   generation.Mode
	req    generation.Request
	nextID int
}

func (s *stubGen) Generate(_ context.Context, mode generation.Mode, req generation.Request, nextID int) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, genCall{mode: mode, req: req, nextID: nextID})
	s.mu.Unlock()
	return s.reply(mode, nextID)
}

func (s *stubGen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// planJSON answers with a well-formed plan that matches query profile q.
func planJSON(id int, q types.Profile) string {
	return fmt.Sprintf(`{"id":%d,"name":"Plan %d","description":"Eat well #%d","age":%d,"forWeight":%g,"forHeight":%g,"caloricValue":%g,"forSex":%q,"dietType":%q}`,
		id, id, id, q.Age, q.Weight, q.Height, q.CaloricDemand, q.Sex, q.DietType)
}

func echoGen(q types.Profile) *stubGen {
	return &stubGen{reply: func(_ generation.Mode, nextID int) (string, error) {
		return planJSON(nextID, q), nil
	}}
}

func query() types.Profile {
	return types.Profile{Age: 30, Weight: 80, Height: 180, Sex: types.SexMale, DietType: types.DietKeto, CaloricDemand: 2500}
}

func stored(id int) types.Plan {
	return types.Plan{
		ID: id, Name: fmt.Sprintf("Stored %d", id), Description: fmt.Sprintf("stored #%d", id),
		Age: 30, ForWeight: 80, ForHeight: 180, CaloricValue: 2500,
		ForSex: types.SexMale, DietType: types.DietKeto,
	}
}

func TestFindOrGenerate_HitReturnsDescriptionWithoutGenerating(t *testing.T) {
	// Returns the first match's description without calling the generator on a hit
	g := echoGen(query())
	c := New(NewCollection(stored(1)), g, match.DefaultTolerance(), nil)
	desc, err := c.FindOrGenerate(context.Background(), query())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc != "stored #1" {
		t.Errorf("desc = %q", desc)
	}
	if g.count() != 0 {
		t.Errorf("generator calls = %d, want 0", g.count())
	}
	if c.Collection().Len() != 1 {
		t.Errorf("len = %d, want 1", c.Collection().Len())
	}
}

func TestFindOrGenerate_HitReturnsFirstInInsertionOrder(t *testing.T) {
	// When several plans match, the earliest inserted one wins
	c := New(NewCollection(stored(1), stored(2)), echoGen(query()), match.DefaultTolerance(), nil)
	desc, _ := c.FindOrGenerate(context.Background(), query())
	if desc != "stored #1" {
		t.Errorf("desc = %q, want stored #1", desc)
	}
}

func TestFindOrGenerate_MissGeneratesAndAppends(t *testing.T) {
	// On a miss calls the generator once in create mode with nextID = size+1
	// and appends exactly one plan with ID = size+1
	q := query()
	other := stored(1)
	other.ForSex = types.SexFemale
	g := echoGen(q)
	c := New(NewCollection(other), g, match.DefaultTolerance(), nil)

	desc, err := c.FindOrGenerate(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc != "Eat well #2" {
		t.Errorf("desc = %q", desc)
	}
	if g.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", g.count())
	}
	call := g.calls[0]
	if call.mode != generation.ModeCreate || call.nextID != 2 {
		t.Errorf("call = %+v, want create nextID=2", call)
	}
	if call.req.Profile != q || call.req.Previous != nil {
		t.Errorf("request = %+v", call.req)
	}
	plans := c.Collection().Plans()
	if len(plans) != 2 || plans[1].ID != 2 {
		t.Errorf("plans = %+v", plans)
	}
}

func TestFindOrGenerate_SecondIdenticalQueryHits(t *testing.T) {
	// A generated plan that matches its own query serves the next identical query
	g := echoGen(query())
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)
	first, _ := c.FindOrGenerate(context.Background(), query())
	second, _ := c.FindOrGenerate(context.Background(), query())
	if first != second {
		t.Errorf("first = %q, second = %q", first, second)
	}
	if g.count() != 1 {
		t.Errorf("generator calls = %d, want 1", g.count())
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 || s.Generated != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestFindOrGenerate_OverridesModelID(t *testing.T) {
	// Overrides a differing model id and reports it as ModelID on the PlanGenerated event
	q := query()
	q.DietType = types.DietVegan
	g := &stubGen{reply: func(generation.Mode, int) (string, error) { return planJSON(1, q), nil }}
	b := bus.New()
	tap := b.NewTap()
	c := New(NewCollection(stored(1)), g, match.DefaultTolerance(), b)

	if _, err := c.FindOrGenerate(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plans := c.Collection().Plans()
	if plans[1].ID != 2 {
		t.Errorf("stored id = %d, want 2", plans[1].ID)
	}

	var generated *types.CacheEvent
	for len(tap) > 0 {
		msg := <-tap
		if msg.Type == types.EventPlanGenerated {
			ev := msg.Payload.(types.CacheEvent)
			generated = &ev
		}
	}
	if generated == nil {
		t.Fatal("expected PlanGenerated event")
	}
	if generated.ModelID != 1 || generated.PlanID != 2 {
		t.Errorf("event = %+v, want model_id=1 plan_id=2", generated)
	}
}

func TestFindOrGenerate_FailuresAppendNothing(t *testing.T) {
	// Appends nothing and returns the error when generation or validation fails
	boom := errors.New("capability down")
	cases := []struct {
		name  string
		reply string
		err   error
		want  error
	}{
		{"transport", "", boom, boom},
		{"empty", "   ", nil, validator.ErrEmptyResponse},
		{"malformed", "not json at all", nil, validator.ErrMalformedResponse},
		{"null", "null", nil, validator.ErrDeserializationFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &stubGen{reply: func(generation.Mode, int) (string, error) { return tc.reply, tc.err }}
			c := New(NewCollection(), g, match.DefaultTolerance(), nil)
			_, err := c.FindOrGenerate(context.Background(), query())
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if c.Collection().Len() != 0 {
				t.Errorf("len = %d, want 0", c.Collection().Len())
			}
			if c.Stats().Failures != 1 {
				t.Errorf("failures = %d, want 1", c.Stats().Failures)
			}
		})
	}
}

func TestFindOrGenerate_ErrorMessagesAreCallerVisible(t *testing.T) {
	// Validation failures surface the fixed caller-visible messages
	g := &stubGen{reply: func(generation.Mode, int) (string, error) { return "", nil }}
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)
	_, err := c.FindOrGenerate(context.Background(), query())
	if err == nil || err.Error() != "Model returned empty response" {
		t.Errorf("err = %v", err)
	}
}

func TestFindOrGenerate_FailurePublishesEvent(t *testing.T) {
	b := bus.New()
	tap := b.NewTap()
	g := &stubGen{reply: func(generation.Mode, int) (string, error) { return "{oops", nil }}
	c := New(NewCollection(), g, match.DefaultTolerance(), b)
	_, _ = c.FindOrGenerate(context.Background(), query())
	var failed *types.CacheEvent
	for len(tap) > 0 {
		if msg := <-tap; msg.Type == types.EventGenerationFailed {
			ev := msg.Payload.(types.CacheEvent)
			failed = &ev
		}
	}
	if failed == nil {
		t.Fatal("expected GenerationFailed event")
	}
	if failed.Error != "Error through Json parsing plan" || failed.Mode != "create" {
		t.Errorf("event = %+v", failed)
	}
}

func TestFindOrGenerate_ConcurrentIdenticalQueriesGenerateOnce(t *testing.T) {
	// Concurrent calls on the same profile produce exactly one generation
	var calls atomic.Int32
	q := query()
	g := &stubGen{reply: func(_ generation.Mode, nextID int) (string, error) {
		calls.Add(1)
		return planJSON(nextID, q), nil
	}}
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.FindOrGenerate(context.Background(), q)
		}(i)
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("generations = %d, want 1", calls.Load())
	}
	if c.Collection().Len() != 1 {
		t.Errorf("len = %d, want 1", c.Collection().Len())
	}
	for i, r := range results {
		if r != "Eat well #1" {
			t.Errorf("results[%d] = %q", i, r)
		}
	}
}

func TestFindOrGenerate_IDsStayUniqueAcrossMisses(t *testing.T) {
	// Every stored plan gets a distinct id equal to its 1-based position
	g := &stubGen{}
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)
	for i, diet := range types.KnownDietTypes {
		q := query()
		q.DietType = diet
		g.reply = func(generation.Mode, int) (string, error) { return planJSON(1, q), nil }
		if _, err := c.FindOrGenerate(context.Background(), q); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	for i, p := range c.Collection().Plans() {
		if p.ID != i+1 {
			t.Errorf("plans[%d].ID = %d, want %d", i, p.ID, i+1)
		}
	}
}

func TestUpdate_GeneratesWithoutMutating(t *testing.T) {
	// Calls the generator once in update mode with nextID = size+1 and leaves
	// the collection unchanged
	q := query()
	g := echoGen(q)
	c := New(NewCollection(stored(1)), g, match.DefaultTolerance(), nil)
	req := types.UpdateRequest{PreviousID: 1, Current: q, PreviousWeight: 90, PreviousHeight: 180, PreviousCaloricDemand: 2800}

	plan, err := c.Update(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.ID != 2 || plan.Description != "Eat well #2" {
		t.Errorf("plan = %+v", plan)
	}
	if g.count() != 1 {
		t.Fatalf("generator calls = %d, want 1", g.count())
	}
	call := g.calls[0]
	if call.mode != generation.ModeUpdate || call.nextID != 2 {
		t.Errorf("call = %+v", call)
	}
	if call.req.Previous == nil || call.req.Previous.PlanID != 1 || call.req.Previous.Weight != 90 {
		t.Errorf("previous = %+v", call.req.Previous)
	}
	if c.Collection().Len() != 1 {
		t.Errorf("len = %d, want 1", c.Collection().Len())
	}
}

func TestUpdate_IgnoresMatchingPlans(t *testing.T) {
	// Update always regenerates even when a stored plan matches the current profile
	g := echoGen(query())
	c := New(NewCollection(stored(1)), g, match.DefaultTolerance(), nil)
	_, _ = c.Update(context.Background(), types.UpdateRequest{PreviousID: 1, Current: query()})
	if g.count() != 1 {
		t.Errorf("generator calls = %d, want 1", g.count())
	}
}

func TestUpdate_FailureReturnsError(t *testing.T) {
	g := &stubGen{reply: func(generation.Mode, int) (string, error) { return `{"forSex":"robot"}`, nil }}
	c := New(NewCollection(stored(1)), g, match.DefaultTolerance(), nil)
	_, err := c.Update(context.Background(), types.UpdateRequest{Current: query()})
	if !errors.Is(err, validator.ErrDeserializationFailure) {
		t.Errorf("err = %v", err)
	}
	if c.Collection().Len() != 1 {
		t.Errorf("len = %d, want 1", c.Collection().Len())
	}
}

func TestCache_WithAdapter(t *testing.T) {
	// The production Adapter satisfies Generator end to end
	q := query()
	capability := generation.CapabilityFunc(func(context.Context, string, map[string]string) (string, error) {
		return "```json\n" + planJSON(1, q) + "\n```", nil
	})
	c := New(nil, generation.NewAdapter(capability, nil), match.Tolerance{}, nil)
	desc, err := c.FindOrGenerate(context.Background(), q)
	if err != nil || desc != "Eat well #1" {
		t.Errorf("desc = %q, err = %v", desc, err)
	}
}

func TestCollection_PlansReturnsCopy(t *testing.T) {
	c := NewCollection(stored(1))
	plans := c.Plans()
	plans[0].Description = "mutated"
	if c.Plans()[0].Description != "stored #1" {
		t.Error("Plans must return a copy")
	}
}

func TestFindOrGenerate_NonFinitePlanNeverStored(t *testing.T) {
	// A plan with NaN measurements is rejected, so it cannot match later queries
	g := &stubGen{reply: func(generation.Mode, int) (string, error) {
		return `{"id":1,"name":"x","description":"nan plan","age":30,"forWeight":"NaN","forHeight":"NaN","caloricValue":"NaN","forSex":"Male","dietType":"Keto"}`, nil
	}}
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)
	if _, err := c.FindOrGenerate(context.Background(), query()); !errors.Is(err, validator.ErrDeserializationFailure) {
		t.Fatalf("err = %v, want DeserializationFailure", err)
	}

	far := query()
	far.Weight, far.Height, far.CaloricDemand = 300, 50, 9000
	g.reply = func(_ generation.Mode, nextID int) (string, error) { return planJSON(nextID, far), nil }
	desc, err := c.FindOrGenerate(context.Background(), far)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if desc != "Eat well #1" || g.count() != 2 {
		t.Errorf("desc = %q, generator calls = %d; want a fresh generation", desc, g.count())
	}
}

func TestStats_DoesNotWaitForGeneration(t *testing.T) {
	// Stats returns while a generation is still in flight
	entered := make(chan struct{})
	release := make(chan struct{})
	q := query()
	g := &stubGen{reply: func(_ generation.Mode, nextID int) (string, error) {
		close(entered)
		<-release
		return planJSON(nextID, q), nil
	}}
	c := New(NewCollection(), g, match.DefaultTolerance(), nil)

	done := make(chan struct{})
	go func() {
		_, _ = c.FindOrGenerate(context.Background(), q)
		close(done)
	}()
	<-entered

	got := make(chan Stats, 1)
	go func() { got <- c.Stats() }()
	select {
	case s := <-got:
		if s.Misses != 1 || s.Generated != 0 {
			t.Errorf("stats mid-generation = %+v, want misses=1 generated=0", s)
		}
	case <-time.After(2 * time.Second):
		t.Error("Stats blocked behind the in-flight generation")
	}

	close(release)
	<-done
	if s := c.Stats(); s.Generated != 1 {
		t.Errorf("stats after = %+v", s)
	}
}
