// Package validator turns raw generation text into a typed plan or a
// classified failure.
//
// The policy is evaluated in order and stops at the first failure:
//
//	empty/whitespace text           → EmptyResponse
//	not parseable as JSON           → MalformedResponse
//	JSON that yields no usable Plan → DeserializationFailure
//
// A successful Plan is not range-checked against the profile that produced it.
package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/haricheung/dietplan/internal/llm"
	"github.com/haricheung/dietplan/internal/types"
)

// Kind classifies a response failure.
type Kind int

const (
	EmptyResponse Kind = iota + 1
	MalformedResponse
	DeserializationFailure
)

func (k Kind) String() string {
	switch k {
	case EmptyResponse:
		return "EmptyResponse"
	case MalformedResponse:
		return "MalformedResponse"
	case DeserializationFailure:
		return "DeserializationFailure"
	}
	return "Unknown"
}

// Message is the caller-visible text for the kind.
func (k Kind) Message() string {
	switch k {
	case EmptyResponse:
		return "Model returned empty response"
	case MalformedResponse:
		return "Error through Json parsing plan"
	case DeserializationFailure:
		return "Error through deserialize, unexpected error in returned prompt."
	}
	return "unknown response error"
}

// ResponseError is returned by Parse. Error() is exactly Kind.Message();
// the underlying cause, if any, is reachable through Unwrap.
type ResponseError struct {
	Kind Kind
	Raw  string // the text that failed, for logs
	Err  error
}

func (e *ResponseError) Error() string { return e.Kind.Message() }

func (e *ResponseError) Unwrap() error { return e.Err }

// Is matches any *ResponseError of the same Kind, so the sentinels below work
// with errors.Is.
func (e *ResponseError) Is(target error) bool {
	t, ok := target.(*ResponseError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrEmptyResponse          = &ResponseError{Kind: EmptyResponse}
	ErrMalformedResponse      = &ResponseError{Kind: MalformedResponse}
	ErrDeserializationFailure = &ResponseError{Kind: DeserializationFailure}
)

// KindOf returns the Kind of err, or 0 when err is not a *ResponseError.
func KindOf(err error) Kind {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// Parse validates raw generation text and decodes it into a Plan.
//
// Expectations:
//   - "" and whitespace-only text fail with EmptyResponse
//   - Markdown fences and <think> blocks are stripped before parsing
//   - A JSON object embedded in surrounding prose is extracted
//   - Text that is still not valid JSON fails with MalformedResponse
//   - JSON null, a non-object document, or an object whose plan fields are all
//     missing or null fails with DeserializationFailure
//   - A field of the wrong shape (e.g. "age": "thirty", unknown forSex) fails
//     with DeserializationFailure
//   - Quoted "NaN", "Inf" or "Infinity" and integers beyond 32 bits fail with
//     DeserializationFailure
//   - Numbers may be quoted ("80" or 80); keys match case-insensitively and
//     "dietName" is accepted for "name"
func Parse(raw string) (types.Plan, error) {
	if strings.TrimSpace(raw) == "" {
		return types.Plan{}, &ResponseError{Kind: EmptyResponse, Raw: raw}
	}

	doc := extractDocument(raw)
	if !json.Valid([]byte(doc)) {
		return types.Plan{}, &ResponseError{Kind: MalformedResponse, Raw: raw, Err: fmt.Errorf("invalid JSON")}
	}

	var w wirePlan
	if err := json.Unmarshal([]byte(doc), &w); err != nil {
		return types.Plan{}, &ResponseError{Kind: DeserializationFailure, Raw: raw, Err: err}
	}
	if w.empty() {
		return types.Plan{}, &ResponseError{Kind: DeserializationFailure, Raw: raw, Err: fmt.Errorf("no plan fields present")}
	}
	plan, err := w.plan()
	if err != nil {
		return types.Plan{}, &ResponseError{Kind: DeserializationFailure, Raw: raw, Err: err}
	}
	return plan, nil
}

// extractDocument strips fences and reasoning blocks; when the remainder is
// not itself valid JSON but contains an object, the outermost {...} is used.
func extractDocument(raw string) string {
	s := llm.StripFences(raw)
	if json.Valid([]byte(s)) {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// wirePlan is the lenient decode target. encoding/json matches keys
// case-insensitively, so "ForWeight" and "forWeight" both land here.
type wirePlan struct {
	ID           flexNumber `json:"id"`
	Name         *string    `json:"name"`
	DietName     *string    `json:"dietName"`
	Description  *string    `json:"description"`
	Age          flexNumber `json:"age"`
	ForWeight    flexNumber `json:"forWeight"`
	ForHeight    flexNumber `json:"forHeight"`
	CaloricValue flexNumber `json:"caloricValue"`
	ForSex       *string    `json:"forSex"`
	DietType     *string    `json:"dietType"`
}

func (w wirePlan) empty() bool {
	return !w.ID.set && w.Name == nil && w.DietName == nil && w.Description == nil &&
		!w.Age.set && !w.ForWeight.set && !w.ForHeight.set && !w.CaloricValue.set &&
		w.ForSex == nil && w.DietType == nil
}

func (w wirePlan) plan() (types.Plan, error) {
	id, err := w.ID.integer("id")
	if err != nil {
		return types.Plan{}, err
	}
	age, err := w.Age.integer("age")
	if err != nil {
		return types.Plan{}, err
	}
	p := types.Plan{
		ID:           id,
		Name:         deref(w.Name),
		Description:  deref(w.Description),
		Age:          age,
		ForWeight:    w.ForWeight.v,
		ForHeight:    w.ForHeight.v,
		CaloricValue: w.CaloricValue.v,
	}
	if p.Name == "" {
		p.Name = deref(w.DietName)
	}
	if s := deref(w.ForSex); s != "" {
		sex, err := types.ParseSex(s)
		if err != nil {
			return types.Plan{}, fmt.Errorf("forSex: %w", err)
		}
		p.ForSex = sex
	}
	if d := deref(w.DietType); strings.TrimSpace(d) != "" {
		dt, err := types.ParseDietType(d)
		if err != nil {
			return types.Plan{}, fmt.Errorf("dietType: %w", err)
		}
		p.DietType = dt
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// flexNumber decodes a JSON number, a quoted number, or null. NaN and
// infinities are rejected.
type flexNumber struct {
	v   float64
	set bool
}

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("not a number: %q", str)
		}
		f.v, f.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.v, f.set = v, true
	return nil
}

func (f flexNumber) integer(field string) (int, error) {
	if !f.set {
		return 0, nil
	}
	if f.v != math.Trunc(f.v) {
		return 0, fmt.Errorf("%s: %g is not an integer", field, f.v)
	}
	if f.v > math.MaxInt32 || f.v < math.MinInt32 {
		return 0, fmt.Errorf("%s: %g is out of range", field, f.v)
	}
	return int(f.v), nil
}
