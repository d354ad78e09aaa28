package match

import (
	"testing"

	"github.com/haricheung/dietplan/internal/types"
)

func storedPlan() types.Plan {
	return types.Plan{
		ID:           1,
		Name:         "Maintenance",
		Description:  "Existing plan",
		Age:          30,
		ForWeight:    80,
		ForHeight:    180,
		CaloricValue: 2400,
		ForSex:       types.SexMale,
		DietType:     types.DietStandard,
	}
}

func query() types.Profile {
	return types.Profile{Age: 30, Weight: 80, Height: 180, Sex: types.SexMale, DietType: types.DietStandard}
}

func TestMatches_AgeOneYearAboveStoredMatches(t *testing.T) {
	// Age band: query 31 against stored 30 is within the 2-year window
	q := query()
	q.Age = 31
	if !Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected match for age 31 vs stored 30")
	}
}

func TestMatches_AgeTenAboveStoredFails(t *testing.T) {
	// A stored plan with age = query age - 10 fails
	q := query()
	q.Age = 40
	if Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected no match when stored age is 10 below query age")
	}
}

func TestMatches_StoredAgeFarAbovePasses(t *testing.T) {
	// Age band is one-sided: a stored age 50 above the query still passes
	p := storedPlan()
	p.Age = 30 + 50
	if !Matches(p, query(), DefaultTolerance()) {
		t.Error("expected match when stored age is far above query age")
	}
}

func TestMatches_QueryBelowMinimumAgeFails(t *testing.T) {
	p := storedPlan()
	p.Age = 14
	q := query()
	q.Age = 14
	if Matches(p, q, DefaultTolerance()) {
		t.Error("expected no match for query age below 15")
	}
}

func TestMatches_WeightBandIsSymmetricAndInclusive(t *testing.T) {
	// Weight, height and caloric bands are symmetric |diff| <= width, inclusive
	for _, w := range []float64{75, 85, 80.5} {
		q := query()
		q.Weight = w
		if !Matches(storedPlan(), q, DefaultTolerance()) {
			t.Errorf("expected match at weight %g", w)
		}
	}
	for _, w := range []float64{74.9, 85.1, 20, 200} {
		q := query()
		q.Weight = w
		if Matches(storedPlan(), q, DefaultTolerance()) {
			t.Errorf("expected no match at weight %g", w)
		}
	}
}

func TestMatches_HeightBandIsSymmetric(t *testing.T) {
	q := query()
	q.Height = 175
	if !Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected match at height 175")
	}
	q.Height = 186
	if Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected no match at height 186")
	}
}

func TestMatches_CaloricBandApplied(t *testing.T) {
	q := query()
	q.CaloricDemand = 2450
	if !Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected match at 2450 kcal vs 2400")
	}
	q.CaloricDemand = 2000
	if Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected no match at 2000 kcal vs 2400")
	}
}

func TestMatches_ZeroCaloricDemandIgnoresCaloricValue(t *testing.T) {
	// Caloric band is skipped when q.CaloricDemand == 0
	for _, cal := range []float64{0, 900, 2400, 9000} {
		p := storedPlan()
		p.CaloricValue = cal
		if !Matches(p, query(), DefaultTolerance()) {
			t.Errorf("expected match with caloric value %g when demand is 0", cal)
		}
	}
}

func TestMatches_SexAndDietMustBeEqual(t *testing.T) {
	// Sex and diet type must be equal
	q := query()
	q.Sex = types.SexFemale
	if Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected no match on different sex")
	}
	q = query()
	q.DietType = types.DietKeto
	if Matches(storedPlan(), q, DefaultTolerance()) {
		t.Error("expected no match on different diet type")
	}
}

func TestFind_ReturnsFirstNotClosest(t *testing.T) {
	// Returns the first matching plan in slice order, not the closest one
	far := storedPlan()
	far.ID = 1
	far.ForWeight = 84
	exact := storedPlan()
	exact.ID = 2
	got, ok := Find([]types.Plan{far, exact}, query(), DefaultTolerance())
	if !ok {
		t.Fatal("expected a match")
	}
	if got.ID != 1 {
		t.Errorf("got plan %d, want first match 1", got.ID)
	}
}

func TestFind_NotFound(t *testing.T) {
	// Returns (zero Plan, false) for an empty slice or when nothing matches
	if _, ok := Find(nil, query(), DefaultTolerance()); ok {
		t.Error("expected not found on empty collection")
	}
	q := query()
	q.Weight = 120
	if got, ok := Find([]types.Plan{storedPlan()}, q, DefaultTolerance()); ok || got.ID != 0 {
		t.Errorf("expected not found, got %+v ok=%v", got, ok)
	}
}

func TestFind_ExampleFromCollection(t *testing.T) {
	// age=31, weight=80, caloric=0 hits a stored 30/80/2400 Male plan
	q := query()
	q.Age = 31
	got, ok := Find([]types.Plan{storedPlan()}, q, DefaultTolerance())
	if !ok || got.Description != "Existing plan" {
		t.Errorf("expected hit on Existing plan, got %+v ok=%v", got, ok)
	}
}

func TestWithDefaults_FillsZeroFields(t *testing.T) {
	got := Tolerance{Weight: 3}.WithDefaults()
	want := DefaultTolerance()
	want.Weight = 3
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
