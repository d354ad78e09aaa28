package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/dietplan/internal/types"
)

// profileFlags are the raw profile inputs shared by find and update.
type profileFlags struct {
	age      int
	weight   float64
	height   float64
	sex      string
	diet     string
	calories float64
}

func (f *profileFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.IntVar(&f.age, "age", 0, "age in years (15-100)")
	fl.Float64Var(&f.weight, "weight", 0, "weight in kg (10-1500)")
	fl.Float64Var(&f.height, "height", 0, "height in cm (10-300)")
	fl.StringVar(&f.sex, "sex", "", "Male, Female or Unbinary")
	fl.StringVar(&f.diet, "diet", string(types.DietStandard), "diet type, e.g. "+dietList())
	fl.Float64Var(&f.calories, "calories", 0, "daily caloric demand in kcal (0 = unconstrained)")
	for _, name := range []string{"age", "weight", "height", "sex"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func (f *profileFlags) profile() (types.Profile, error) {
	return buildProfile(f.age, f.weight, f.height, f.sex, f.diet, f.calories)
}

// buildProfile parses sex and diet type and checks every input range.
func buildProfile(age int, weight, height float64, sex, diet string, calories float64) (types.Profile, error) {
	s, err := types.ParseSex(sex)
	if err != nil {
		return types.Profile{}, err
	}
	d, err := types.ParseDietType(diet)
	if err != nil {
		return types.Profile{}, err
	}
	p := types.Profile{Age: age, Weight: weight, Height: height, Sex: s, DietType: d, CaloricDemand: calories}
	if err := p.Validate(); err != nil {
		return types.Profile{}, err
	}
	return p, nil
}

func dietList() string {
	names := make([]string, len(types.KnownDietTypes))
	for i, d := range types.KnownDietTypes {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

func findCmd(opts *options) *cobra.Command {
	var pf profileFlags
	cmd := &cobra.Command{
		Use:     "find",
		Short:   "Return a cached plan for the profile, generating one on a miss",
		Example: `  dietplan find --age 30 --weight 80 --height 180 --sex male --diet keto --calories 2500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.profile()
			if err != nil {
				return err
			}
			return withApp(opts, func(ctx context.Context, a *app) error {
				a.out = cmd.OutOrStdout()
				return a.find(ctx, p)
			})
		},
	}
	pf.register(cmd)
	return cmd
}

// updateFlags adds the previous-plan values to profileFlags.
type updateFlags struct {
	profileFlags
	previousID       int
	previousWeight   float64
	previousHeight   float64
	previousCalories float64
}

func (f *updateFlags) request() (types.UpdateRequest, error) {
	p, err := f.profile()
	if err != nil {
		return types.UpdateRequest{}, err
	}
	r := types.UpdateRequest{
		PreviousID:            f.previousID,
		Current:               p,
		PreviousWeight:        f.previousWeight,
		PreviousHeight:        f.previousHeight,
		PreviousCaloricDemand: f.previousCalories,
	}
	if err := r.Validate(); err != nil {
		return types.UpdateRequest{}, err
	}
	return r, nil
}

func updateCmd(opts *options) *cobra.Command {
	var uf updateFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Generate a revised plan from previous and current values",
		Example: `  dietplan update --previous-id 1 --previous-weight 90 --previous-height 180 \
    --age 31 --weight 84 --height 180 --sex male --diet keto --calories 2300`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := uf.request()
			if err != nil {
				return err
			}
			return withApp(opts, func(ctx context.Context, a *app) error {
				a.out = cmd.OutOrStdout()
				return a.update(ctx, r)
			})
		},
	}
	uf.register(cmd)
	fl := cmd.Flags()
	fl.IntVar(&uf.previousID, "previous-id", 0, "id of the plan being revised")
	fl.Float64Var(&uf.previousWeight, "previous-weight", 0, "weight the previous plan was built for")
	fl.Float64Var(&uf.previousHeight, "previous-height", 0, "height the previous plan was built for")
	fl.Float64Var(&uf.previousCalories, "previous-calories", 0, "caloric demand the previous plan was built for")
	_ = cmd.MarkFlagRequired("previous-weight")
	_ = cmd.MarkFlagRequired("previous-height")
	return cmd
}

// kvArgs parses "key=value" words as typed in the REPL. Keys are
// case-insensitive and '-' and '_' are ignored.
func kvArgs(words []string) (map[string]string, error) {
	out := make(map[string]string, len(words))
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", w)
		}
		k = strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(k))
		out[k] = v
	}
	return out, nil
}

func kvInt(kv map[string]string, key string) (int, error) {
	v, ok := kv[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func kvFloat(kv map[string]string, key string) (float64, error) {
	v, ok := kv[key]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", key, v)
	}
	return f, nil
}

// profileFromKV builds a profile from age= weight= height= sex= diet= calories=.
func profileFromKV(kv map[string]string) (types.Profile, error) {
	age, err := kvInt(kv, "age")
	if err != nil {
		return types.Profile{}, err
	}
	weight, err := kvFloat(kv, "weight")
	if err != nil {
		return types.Profile{}, err
	}
	height, err := kvFloat(kv, "height")
	if err != nil {
		return types.Profile{}, err
	}
	calories, err := kvFloat(kv, "calories")
	if err != nil {
		return types.Profile{}, err
	}
	diet := kv["diet"]
	if diet == "" {
		diet = string(types.DietStandard)
	}
	return buildProfile(age, weight, height, kv["sex"], diet, calories)
}

// updateFromKV adds previousid= previousweight= previousheight= previouscalories=.
func updateFromKV(kv map[string]string) (types.UpdateRequest, error) {
	p, err := profileFromKV(kv)
	if err != nil {
		return types.UpdateRequest{}, err
	}
	r := types.UpdateRequest{Current: p}
	if r.PreviousID, err = kvInt(kv, "previousid"); err != nil {
		return types.UpdateRequest{}, err
	}
	if r.PreviousWeight, err = kvFloat(kv, "previousweight"); err != nil {
		return types.UpdateRequest{}, err
	}
	if r.PreviousHeight, err = kvFloat(kv, "previousheight"); err != nil {
		return types.UpdateRequest{}, err
	}
	if r.PreviousCaloricDemand, err = kvFloat(kv, "previouscalories"); err != nil {
		return types.UpdateRequest{}, err
	}
	if err := r.Validate(); err != nil {
		return types.UpdateRequest{}, err
	}
	return r, nil
}
