package hpo

import (
	"fmt"
	"math"
	"math/rand"
)

//////
// Const, vars, types.
//////

// Kind is the domain kind of a hyperparameter.
type Kind int

const (
	// KindContinuous is a bounded real interval.
	KindContinuous Kind = iota

	// KindInteger is a bounded integer interval.
	KindInteger

	// KindCategorical is a finite ordered set of string choices.
	KindCategorical

	// KindConstant is a single fixed value.
	KindConstant
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindContinuous:
		return "float"
	case KindInteger:
		return "integer"
	case KindCategorical:
		return "categorical"
	case KindConstant:
		return "constant"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Hyperparameter is a named dimension of a configuration space.
//
// Values carried by configurations are float64 for continuous, int64 for
// integer and string for categorical hyperparameters. Constants hold one of
// those three.
//
// Use the Float, Integer, Categorical and Constant constructors rather than
// filling the struct by hand:
//
//	c := Float("c", 0, 3, WithDefault(math.Sqrt2))
//	k := Integer("k", 0, 2000)
//	schedule := Categorical("schedule", []string{"A", "B"})
type Hyperparameter struct {
	// Name is unique within a space.
	Name string

	// Kind selects which of the fields below are meaningful.
	Kind Kind

	// Range bounds continuous and integer hyperparameters (inclusive).
	Range ParameterRange[float64]

	// Log samples continuous and integer hyperparameters uniformly in
	// log-space. Requires Range.Min > 0.
	Log bool

	// Choices of a categorical hyperparameter, in declaration order.
	Choices []string

	// Default is the declared default, nil if undeclared. For constants it is
	// the fixed value.
	Default any
}

// ParamOption customizes a hyperparameter built by one of the constructors.
type ParamOption func(*Hyperparameter)

// WithDefault declares the default value.
func WithDefault(v any) ParamOption {
	return func(h *Hyperparameter) {
		h.Default = v
	}
}

// WithLog declares log-scale sampling.
func WithLog() ParamOption {
	return func(h *Hyperparameter) {
		h.Log = true
	}
}

//////
// Factory.
//////

// Float creates a continuous hyperparameter over [lower, upper].
func Float(name string, lower, upper float64, opts ...ParamOption) Hyperparameter {
	h := Hyperparameter{
		Name:  name,
		Kind:  KindContinuous,
		Range: ParameterRange[float64]{Min: lower, Max: upper},
	}

	for _, opt := range opts {
		opt(&h)
	}

	return h
}

// Integer creates an integer hyperparameter over [lower, upper].
func Integer(name string, lower, upper int64, opts ...ParamOption) Hyperparameter {
	h := Hyperparameter{
		Name:  name,
		Kind:  KindInteger,
		Range: ParameterRange[float64]{Min: float64(lower), Max: float64(upper)},
	}

	for _, opt := range opts {
		opt(&h)
	}

	return h
}

// Categorical creates a categorical hyperparameter. The first choice is the
// default unless WithDefault says otherwise.
func Categorical(name string, choices []string, opts ...ParamOption) Hyperparameter {
	h := Hyperparameter{
		Name:    name,
		Kind:    KindCategorical,
		Choices: append([]string(nil), choices...),
	}

	for _, opt := range opts {
		opt(&h)
	}

	return h
}

// Constant creates a hyperparameter that always takes value.
func Constant(name string, value any) Hyperparameter {
	return Hyperparameter{
		Name:    name,
		Kind:    KindConstant,
		Default: value,
	}
}

//////
// Methods.
//////

// check verifies the domain invariants of the definition.
func (h *Hyperparameter) check() error {
	if h.Name == "" {
		return fmt.Errorf("%w: hyperparameter with empty name", ErrInvalidSpace)
	}

	switch h.Kind {
	case KindContinuous, KindInteger:
		if math.IsNaN(h.Range.Min) || math.IsNaN(h.Range.Max) || math.IsInf(h.Range.Min, 0) || math.IsInf(h.Range.Max, 0) {
			return fmt.Errorf("%w: %s has non-finite bounds", ErrInvalidSpace, h.Name)
		}

		if h.Range.Min > h.Range.Max {
			return fmt.Errorf("%w: %s lower bound %v exceeds upper bound %v", ErrInvalidSpace, h.Name, h.Range.Min, h.Range.Max)
		}

		if h.Log && h.Range.Min <= 0 {
			return fmt.Errorf("%w: %s is log-scale but lower bound %v is not positive", ErrInvalidSpace, h.Name, h.Range.Min)
		}

		if h.Kind == KindInteger && (h.Range.Min != math.Trunc(h.Range.Min) || h.Range.Max != math.Trunc(h.Range.Max)) {
			return fmt.Errorf("%w: %s has fractional integer bounds", ErrInvalidSpace, h.Name)
		}
	case KindCategorical:
		if len(h.Choices) == 0 {
			return fmt.Errorf("%w: %s has no choices", ErrInvalidSpace, h.Name)
		}

		seen := make(map[string]struct{}, len(h.Choices))
		for _, c := range h.Choices {
			if _, dup := seen[c]; dup {
				return fmt.Errorf("%w: %s has duplicate choice %q", ErrInvalidSpace, h.Name, c)
			}

			seen[c] = struct{}{}
		}
	case KindConstant:
		if h.Default == nil {
			return fmt.Errorf("%w: constant %s has no value", ErrInvalidSpace, h.Name)
		}

		v, err := normalizeConstant(h.Default)
		if err != nil {
			return fmt.Errorf("%w: constant %s: %v", ErrInvalidSpace, h.Name, err)
		}

		h.Default = v

		return nil
	default:
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidSpace, h.Name, int(h.Kind))
	}

	if h.Default != nil {
		v, err := h.normalize(h.Default)
		if err != nil {
			return fmt.Errorf("%w: default of %s: %v", ErrInvalidSpace, h.Name, err)
		}

		h.Default = v
	}

	return nil
}

// normalize coerces v into the value type of the hyperparameter and checks
// it lies within the domain.
func (h *Hyperparameter) normalize(v any) (any, error) {
	switch h.Kind {
	case KindContinuous:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%v is not a number", ErrOutOfDomain, h.Name, v)
		}

		if !h.Range.Contains(f) {
			return nil, fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrOutOfDomain, h.Name, f, h.Range.Min, h.Range.Max)
		}

		return f, nil
	case KindInteger:
		f, ok := toFloat(v)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s=%v is not an integer", ErrOutOfDomain, h.Name, v)
		}

		if !h.Range.Contains(f) {
			return nil, fmt.Errorf("%w: %s=%v outside [%v, %v]", ErrOutOfDomain, h.Name, f, h.Range.Min, h.Range.Max)
		}

		return int64(f), nil
	case KindCategorical:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%v is not a string", ErrOutOfDomain, h.Name, v)
		}

		if h.choiceIndex(s) < 0 {
			return nil, fmt.Errorf("%w: %s=%q not in %v", ErrOutOfDomain, h.Name, s, h.Choices)
		}

		return s, nil
	case KindConstant:
		c, err := normalizeConstant(v)
		if err != nil || canonicalValue(c) != canonicalValue(h.Default) {
			return nil, fmt.Errorf("%w: %s=%v, constant is %v", ErrOutOfDomain, h.Name, v, h.Default)
		}

		return h.Default, nil
	}

	return nil, fmt.Errorf("%w: %s has unknown kind", ErrOutOfDomain, h.Name)
}

func (h *Hyperparameter) choiceIndex(s string) int {
	for i, c := range h.Choices {
		if c == s {
			return i
		}
	}

	return -1
}

// sample draws a value: uniform for numeric kinds (in log-space when
// declared), uniform choice for categorical.
func (h *Hyperparameter) sample(rng *rand.Rand) any {
	switch h.Kind {
	case KindContinuous, KindInteger:
		return h.fromUnit(rng.Float64())
	case KindCategorical:
		return h.Choices[rng.Intn(len(h.Choices))]
	default:
		return h.Default
	}
}

// defaultValue returns the declared default, else the domain midpoint (the
// geometric midpoint for log-scale) or the first choice.
func (h *Hyperparameter) defaultValue() any {
	if h.Default != nil {
		return h.Default
	}

	switch h.Kind {
	case KindContinuous, KindInteger:
		return h.fromUnit(0.5)
	case KindCategorical:
		return h.Choices[0]
	}

	return nil
}

// unit maps a numeric value onto [0, 1], in log-space when declared.
func (h *Hyperparameter) unit(v any) float64 {
	f, _ := toFloat(v)

	lo, hi := h.Range.Min, h.Range.Max
	if h.Log {
		f, lo, hi = math.Log(f), math.Log(lo), math.Log(hi)
	}

	if hi == lo {
		return 0.5
	}

	return clamp((f-lo)/(hi-lo), 0, 1)
}

// fromUnit is the inverse of unit. Integer values are rounded to the
// nearest integer within the bounds.
func (h *Hyperparameter) fromUnit(u float64) any {
	u = clamp(u, 0, 1)

	lo, hi := h.Range.Min, h.Range.Max

	var f float64
	if h.Log {
		f = math.Exp(math.Log(lo) + u*(math.Log(hi)-math.Log(lo)))
	} else {
		f = lo + u*(hi-lo)
	}

	f = h.Range.Clamp(f)

	if h.Kind == KindInteger {
		return ParameterRange[int64]{Min: int64(lo), Max: int64(hi)}.Clamp(int64(math.Round(f)))
	}

	return f
}

// normalizeConstant coerces a constant's value to float64, int64 or string.
func normalizeConstant(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float32, float64:
		f, _ := toFloat(x)
		return f, nil
	case bool:
		return fmt.Sprint(x), nil
	}

	if f, ok := toFloat(v); ok {
		return int64(f), nil
	}

	return nil, fmt.Errorf("unsupported value type %T", v)
}
