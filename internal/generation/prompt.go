package generation

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/haricheung/dietplan/internal/types"
)

// Mode selects which prompt BuildPrompt produces.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeUpdate Mode = "update"
)

// Request is everything a prompt can bind. Previous is nil in create mode.
type Request struct {
	Profile  types.Profile
	Previous *Previous
}

// Previous holds the values an earlier plan was generated from.
type Previous struct {
	PlanID        int
	Weight        float64
	Height        float64
	CaloricDemand float64
}

// RequestFromUpdate converts an update request into a generation Request.
func RequestFromUpdate(r types.UpdateRequest) Request {
	return Request{
		Profile: r.Current,
		Previous: &Previous{
			PlanID:        r.PreviousID,
			Weight:        r.PreviousWeight,
			Height:        r.PreviousHeight,
			CaloricDemand: r.PreviousCaloricDemand,
		},
	}
}

const planShape = `{
  "id": ...,
  "name": "...",
  "description": "...",
  "age": ...,
  "forWeight": ...,
  "forHeight": ...,
  "caloricValue": ...,
  "forSex": "...",
  "dietType": "..."
}`

const createTemplate = `You are a diet planner.
Generate a monthly diet plan in **JSON format** like this:
` + planShape + `
Id must have a value equal to: %d
name should return the diet topic name and description a summary plan with calculated values.
Rest of fields similar to input, only caloricValue should return calculated daily caloric value.
forSex must be one of Male, Female, Unbinary. Numbers must be plain JSON numbers.

Constraints:
- Age: {{age}}
- Weight: {{weight}} kg
- Height: {{height}} cm
- Sex: {{sex}}
- DietType: {{dietType}}
`

const createCaloricLine = `- CaloricDemand: {{caloricDemand}} kcal
`

const updateTemplate = `You are a diet planner.
Update an existing monthly diet plan in **JSON format** like this:
` + planShape + `
Id must have a value equal to: %d
name should return the updated diet topic name and description should reflect the changes from previous to current values.
Rest of fields should match current input values, only caloricValue should return calculated daily caloric value based on current values.
forSex must be one of Male, Female, Unbinary. Numbers must be plain JSON numbers.

Previous values:
- Previous Plan Id: {{previousId}}
- Previous Weight: {{previousWeight}} kg
- Previous Height: {{previousHeight}} cm
- Previous Caloric Demand: {{previousCaloricDemand}} kcal

Current values:
- Age: {{age}}
- Weight: {{weight}} kg
- Height: {{height}} cm
- Sex: {{sex}}
- DietType: {{dietType}}
- CaloricDemand: {{caloricDemand}} kcal
`

// BuildPrompt returns the template and its named arguments for mode.
// nextID is embedded literally as the id the model must return.
//
// Expectations:
//   - Create binds age, weight, height, sex, dietType
//   - Create binds caloricDemand and includes its line only when CaloricDemand != 0
//   - Update binds every current value plus previousId, previousWeight,
//     previousHeight, previousCaloricDemand
//   - Both templates request the same nine-field JSON shape
//   - Returns an error for update mode without Previous values, or an unknown mode
func BuildPrompt(mode Mode, req Request, nextID int) (string, map[string]string, error) {
	p := req.Profile
	args := map[string]string{
		"age":      strconv.Itoa(p.Age),
		"weight":   formatDecimal(p.Weight),
		"height":   formatDecimal(p.Height),
		"sex":      string(p.Sex),
		"dietType": string(p.DietType),
	}

	switch mode {
	case ModeCreate:
		tmpl := fmt.Sprintf(createTemplate, nextID)
		if p.CaloricDemand != 0 {
			tmpl += createCaloricLine
			args["caloricDemand"] = formatDecimal(p.CaloricDemand)
		}
		return tmpl, args, nil

	case ModeUpdate:
		if req.Previous == nil {
			return "", nil, fmt.Errorf("generation: update mode requires previous values")
		}
		args["caloricDemand"] = formatDecimal(p.CaloricDemand)
		args["previousId"] = strconv.Itoa(req.Previous.PlanID)
		args["previousWeight"] = formatDecimal(req.Previous.Weight)
		args["previousHeight"] = formatDecimal(req.Previous.Height)
		args["previousCaloricDemand"] = formatDecimal(req.Previous.CaloricDemand)
		return fmt.Sprintf(updateTemplate, nextID), args, nil
	}
	return "", nil, fmt.Errorf("generation: unknown mode %q", mode)
}

// placeholderRe matches {{name}}, {{ name }} and {{$name}}.
var placeholderRe = regexp.MustCompile(`\{\{\s*\$?([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Render substitutes every named placeholder in template with args[name].
//
// Expectations:
//   - Replaces {{name}}, {{ name }} and {{$name}} forms
//   - Returns an error naming the first placeholder with no argument
//   - Unused arguments are ignored
//   - Text without placeholders is returned unchanged
func Render(template string, args map[string]string) (string, error) {
	var missing string
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := args[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return m
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("generation: unbound placeholder %q", missing)
	}
	return out, nil
}

// formatDecimal prints 80 as "80" and 72.5 as "72.5".
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
