package types

import (
	"fmt"
	"strings"
	"time"
)

// Sex is the closed set of sexes a plan can target.
type Sex string

const (
	SexMale     Sex = "Male"
	SexFemale   Sex = "Female"
	SexUnbinary Sex = "Unbinary"
)

// ParseSex maps a case-insensitive name onto a Sex.
//
// Expectations:
//   - Accepts "male", "MALE", " Male " and returns SexMale
//   - Returns an error for empty or unknown input
func ParseSex(s string) (Sex, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "male":
		return SexMale, nil
	case "female":
		return SexFemale, nil
	case "unbinary":
		return SexUnbinary, nil
	}
	return "", fmt.Errorf("unknown sex %q (want Male, Female or Unbinary)", s)
}

// DietType is an open tag. The known values are canonicalised; anything else
// is carried verbatim.
type DietType string

const (
	DietStandard    DietType = "Standard"
	DietKeto        DietType = "Keto"
	DietHighProtein DietType = "HighProtein"
	DietLowFat      DietType = "LowFat"
	DietGlutenFree  DietType = "GlutenFree"
	DietVegan       DietType = "Vegan"
)

// KnownDietTypes lists the canonical diet tags in display order.
var KnownDietTypes = []DietType{DietStandard, DietKeto, DietHighProtein, DietLowFat, DietGlutenFree, DietVegan}

// ParseDietType canonicalises known tags case-insensitively ("high-protein",
// "highprotein" and "HighProtein" are equal) and keeps unknown tags as given.
//
// Expectations:
//   - Returns the canonical constant for known tags regardless of case, '-', '_' or spaces
//   - Returns unknown non-empty tags trimmed but otherwise unchanged
//   - Returns an error for empty input
func ParseDietType(s string) (DietType, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("diet type is empty")
	}
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(trimmed))
	for _, d := range KnownDietTypes {
		if strings.ToLower(string(d)) == key {
			return d, nil
		}
	}
	return DietType(trimmed), nil
}

// Plan is one cached diet recommendation together with the profile values it
// was generated for. Plans are immutable once stored.
type Plan struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Age          int      `json:"age"`
	ForWeight    float64  `json:"forWeight"`
	ForHeight    float64  `json:"forHeight"`
	CaloricValue float64  `json:"caloricValue"`
	ForSex       Sex      `json:"forSex"`
	DietType     DietType `json:"dietType"`
}

// Profile is the query shape: a person's current attributes.
// CaloricDemand == 0 means the caloric target is unconstrained.
type Profile struct {
	Age           int      `json:"age"`
	Weight        float64  `json:"weight"`
	Height        float64  `json:"height"`
	Sex           Sex      `json:"sex"`
	DietType      DietType `json:"dietType"`
	CaloricDemand float64  `json:"caloricDemand"`
}

// Input ranges accepted by Validate.
const (
	MinAge    = 15
	MaxAge    = 100
	MinWeight = 10.0
	MaxWeight = 1500.0
	MinHeight = 10.0
	MaxHeight = 300.0
)

// Validate enforces the input ranges a caller must satisfy before querying the
// cache. The cache itself never calls it.
//
// Expectations:
//   - Returns nil for a profile inside every range
//   - Returns an error naming the first out-of-range field
//   - Rejects a negative caloric demand; 0 is accepted (unconstrained)
//   - Rejects an unknown sex and an empty diet type
func (p Profile) Validate() error {
	switch {
	case p.Age < MinAge || p.Age > MaxAge:
		return fmt.Errorf("age %d out of range [%d, %d]", p.Age, MinAge, MaxAge)
	case p.Weight < MinWeight || p.Weight > MaxWeight:
		return fmt.Errorf("weight %g out of range [%g, %g]", p.Weight, MinWeight, MaxWeight)
	case p.Height < MinHeight || p.Height > MaxHeight:
		return fmt.Errorf("height %g out of range [%g, %g]", p.Height, MinHeight, MaxHeight)
	case p.CaloricDemand < 0:
		return fmt.Errorf("caloric demand %g must not be negative", p.CaloricDemand)
	case p.DietType == "":
		return fmt.Errorf("diet type is empty")
	}
	if _, err := ParseSex(string(p.Sex)); err != nil {
		return err
	}
	return nil
}

// UpdateRequest carries the current profile plus the values the previous plan
// was generated from.
type UpdateRequest struct {
	PreviousID            int     `json:"previousId"`
	Current               Profile `json:"current"`
	PreviousWeight        float64 `json:"previousWeight"`
	PreviousHeight        float64 `json:"previousHeight"`
	PreviousCaloricDemand float64 `json:"previousCaloricDemand"`
}

// Validate checks the current profile and the previous values.
func (r UpdateRequest) Validate() error {
	if err := r.Current.Validate(); err != nil {
		return err
	}
	switch {
	case r.PreviousWeight < MinWeight || r.PreviousWeight > MaxWeight:
		return fmt.Errorf("previous weight %g out of range [%g, %g]", r.PreviousWeight, MinWeight, MaxWeight)
	case r.PreviousHeight < MinHeight || r.PreviousHeight > MaxHeight:
		return fmt.Errorf("previous height %g out of range [%g, %g]", r.PreviousHeight, MinHeight, MaxHeight)
	case r.PreviousCaloricDemand < 0:
		return fmt.Errorf("previous caloric demand %g must not be negative", r.PreviousCaloricDemand)
	}
	return nil
}

// EventType identifies the payload carried by a bus message.
type EventType string

const (
	EventCacheHit         EventType = "CacheHit"
	EventCacheMiss        EventType = "CacheMiss"
	EventPlanGenerated    EventType = "PlanGenerated"
	EventPlanUpdated      EventType = "PlanUpdated"
	EventGenerationFailed EventType = "GenerationFailed"
)

// Message is the envelope published on the bus for every cache event.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
}

// CacheEvent is the payload of every bus message.
type CacheEvent struct {
	Profile   Profile `json:"profile"`
	PlanID    int     `json:"plan_id,omitempty"`
	PlanName  string  `json:"plan_name,omitempty"`
	Mode      string  `json:"mode,omitempty"`       // "create" | "update"
	Error     string  `json:"error,omitempty"`      // GenerationFailed only
	ModelID   int     `json:"model_id,omitempty"`   // id the model returned when it differed from the assigned id
	ElapsedMs int64   `json:"elapsed_ms,omitempty"` // generation latency
}

// AuditEvent is one JSONL line written by the auditor.
type AuditEvent struct {
	EventID   string  `json:"event_id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	PlanID    int     `json:"plan_id,omitempty"`
	Anomaly   string  `json:"anomaly"` // "none" | "generation_failure" | "failure_streak" | "id_mismatch"
	Detail    *string `json:"detail"`
}
