// Package match decides whether a stored plan is close enough to a requested
// profile to be served from the cache.
package match

import (
	"math"

	"github.com/haricheung/dietplan/internal/types"
)

// Tolerance holds the band widths used by Matches.
type Tolerance struct {
	MinAge   int     `yaml:"min_age"`   // profiles younger than this never match
	AgeBelow int     `yaml:"age_below"` // how far the query age may exceed the stored age
	Weight   float64 `yaml:"weight"`    // kg, symmetric
	Height   float64 `yaml:"height"`    // cm, symmetric
	Caloric  float64 `yaml:"caloric"`   // kcal, symmetric; ignored when the query demand is 0
}

// DefaultTolerance returns the standard bands: age >= 15 and at most 2 years
// above the stored age, ±5 kg, ±5 cm, ±50 kcal.
func DefaultTolerance() Tolerance {
	return Tolerance{MinAge: 15, AgeBelow: 2, Weight: 5, Height: 5, Caloric: 50}
}

// WithDefaults fills zero fields from DefaultTolerance.
func (t Tolerance) WithDefaults() Tolerance {
	d := DefaultTolerance()
	if t.MinAge == 0 {
		t.MinAge = d.MinAge
	}
	if t.AgeBelow == 0 {
		t.AgeBelow = d.AgeBelow
	}
	if t.Weight == 0 {
		t.Weight = d.Weight
	}
	if t.Height == 0 {
		t.Height = d.Height
	}
	if t.Caloric == 0 {
		t.Caloric = d.Caloric
	}
	return t
}

// Matches reports whether plan satisfies every applicable band for q.
//
// Expectations:
//   - Age band is one-sided: q.Age >= MinAge and q.Age - plan.Age <= AgeBelow;
//     a stored age far above the query age still passes
//   - Weight, height and caloric bands are symmetric |diff| <= width, inclusive
//   - Caloric band is skipped when q.CaloricDemand == 0
//   - Sex and diet type must be equal
func Matches(plan types.Plan, q types.Profile, tol Tolerance) bool {
	if q.Age < tol.MinAge || q.Age-plan.Age > tol.AgeBelow {
		return false
	}
	if math.Abs(q.Weight-plan.ForWeight) > tol.Weight {
		return false
	}
	if math.Abs(q.Height-plan.ForHeight) > tol.Height {
		return false
	}
	if q.CaloricDemand != 0 && math.Abs(q.CaloricDemand-plan.CaloricValue) > tol.Caloric {
		return false
	}
	return plan.ForSex == q.Sex && plan.DietType == q.DietType
}

// Find scans plans in order and returns the first match. The boolean is false
// when nothing matches.
//
// Expectations:
//   - Returns the first matching plan in slice order, not the closest one
//   - Returns (zero Plan, false) for an empty slice or when nothing matches
func Find(plans []types.Plan, q types.Profile, tol Tolerance) (types.Plan, bool) {
	for _, p := range plans {
		if Matches(p, q, tol) {
			return p, true
		}
	}
	return types.Plan{}, false
}
