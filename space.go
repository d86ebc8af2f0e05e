package hpo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

//////
// Const, vars, types.
//////

// inactiveFeature encodes an inactive numeric dimension. It lies outside
// [0, 1] so that surrogates can tell "absent" from any real value.
const inactiveFeature = -0.5

// Condition activates Child only when Parent is present and equals Value.
type Condition struct {
	Child  string
	Parent string
	Value  any
}

// Equals builds the condition `child depends_on (parent, value)`.
func Equals(child, parent string, value any) Condition {
	return Condition{Child: child, Parent: parent, Value: value}
}

// Space is a set of hyperparameters plus the equality conditions between
// them. Conditions form a sparse DAG over a flat map of definitions; the DAG
// is checked once, at construction.
//
// A Space is immutable after NewSpace returns and safe for concurrent use.
type Space struct {
	params     map[string]*Hyperparameter
	names      []string // declaration order
	order      []string // topological order, ties by declaration order
	conditions map[string]Condition
	children   map[string][]string
}

//////
// Factory.
//////

// NewSpace validates the definitions and the condition graph.
//
// It fails with ErrInvalidSpace on duplicate names, broken domains, a
// condition referencing an unknown hyperparameter, a second condition on the
// same child or a required value outside the parent's domain, and with
// ErrCyclicCondition when the condition graph has a cycle.
//
// Example (the space from the MCTS tuning scenario):
//
//	space, err := NewSpace(
//	    []Hyperparameter{
//	        Float("c", 0, 3, WithDefault(math.Sqrt2)),
//	        Categorical("schedule", []string{"A", "B"}),
//	        Integer("k", 0, 2000),
//	    },
//	    Equals("k", "schedule", "A"),
//	)
func NewSpace(params []Hyperparameter, conditions ...Condition) (*Space, error) {
	s := &Space{
		params:     make(map[string]*Hyperparameter, len(params)),
		names:      make([]string, 0, len(params)),
		conditions: make(map[string]Condition, len(conditions)),
		children:   make(map[string][]string),
	}

	for i := range params {
		h := params[i]
		h.Choices = append([]string(nil), h.Choices...)

		if err := h.check(); err != nil {
			return nil, err
		}

		if _, dup := s.params[h.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate hyperparameter %q", ErrInvalidSpace, h.Name)
		}

		s.params[h.Name] = &h
		s.names = append(s.names, h.Name)
	}

	for _, c := range conditions {
		child, ok := s.params[c.Child]
		if !ok {
			return nil, fmt.Errorf("%w: condition on unknown child %q", ErrInvalidSpace, c.Child)
		}

		parent, ok := s.params[c.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: condition of %q references unknown parent %q", ErrInvalidSpace, c.Child, c.Parent)
		}

		if child.Name == parent.Name {
			return nil, fmt.Errorf("%w: %q depends on itself", ErrCyclicCondition, c.Child)
		}

		if _, dup := s.conditions[c.Child]; dup {
			return nil, fmt.Errorf("%w: %q has more than one activating condition", ErrInvalidSpace, c.Child)
		}

		v, err := parent.normalize(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: condition of %q: %v", ErrInvalidSpace, c.Child, err)
		}

		c.Value = v
		s.conditions[c.Child] = c
		s.children[c.Parent] = append(s.children[c.Parent], c.Child)
	}

	order, err := s.topologicalOrder()
	if err != nil {
		return nil, err
	}

	s.order = order

	return s, nil
}

//////
// Methods.
//////

// topologicalOrder runs Kahn's algorithm, always taking the earliest
// declared ready node so that the order is deterministic.
func (s *Space) topologicalOrder() ([]string, error) {
	index := make(map[string]int, len(s.names))
	indegree := make(map[string]int, len(s.names))

	for i, n := range s.names {
		index[n] = i
		if _, ok := s.conditions[n]; ok {
			indegree[n] = 1
		}
	}

	var ready []string

	for _, n := range s.names {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(s.names))

	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return index[ready[i]] < index[ready[j]] })

		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, child := range s.children[n] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(s.names) {
		var cyclic []string

		for _, n := range s.names {
			if indegree[n] > 0 {
				cyclic = append(cyclic, n)
			}
		}

		return nil, fmt.Errorf("%w: involving %v", ErrCyclicCondition, cyclic)
	}

	return order, nil
}

// Hyperparameters returns copies of the definitions in declaration order.
func (s *Space) Hyperparameters() []Hyperparameter {
	out := make([]Hyperparameter, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, *s.params[n])
	}

	return out
}

// Get returns the definition of name.
func (s *Space) Get(name string) (Hyperparameter, bool) {
	h, ok := s.params[name]
	if !ok {
		return Hyperparameter{}, false
	}

	return *h, true
}

// Condition returns the activating condition of child, if any.
func (s *Space) Condition(child string) (Condition, bool) {
	c, ok := s.conditions[child]
	return c, ok
}

// Len returns the number of hyperparameters.
func (s *Space) Len() int {
	return len(s.names)
}

// active reports whether name's condition, if any, is satisfied by cfg.
func (s *Space) active(name string, cfg Configuration) bool {
	c, ok := s.conditions[name]
	if !ok {
		return true
	}

	v, present := cfg[c.Parent]
	if !present {
		return false
	}

	return canonicalValue(v) == canonicalValue(c.Value)
}

// resolve walks the space in topological order, keeping the values of cfg
// for active hyperparameters, filling missing active ones with fill and
// dropping inactive ones.
func (s *Space) resolve(cfg Configuration, fill func(*Hyperparameter) any) Configuration {
	out := make(Configuration, len(s.names))

	for _, n := range s.order {
		if !s.active(n, out) {
			continue
		}

		if v, ok := cfg[n]; ok {
			out[n] = v
			continue
		}

		out[n] = fill(s.params[n])
	}

	return out
}

// Sample draws a value for every root hyperparameter, then activates and
// samples any child whose condition is satisfied. The same seed and space
// always give the same configuration.
func (s *Space) Sample(seed int64) Configuration {
	return s.sample(rand.New(rand.NewSource(seed)))
}

func (s *Space) sample(rng *rand.Rand) Configuration {
	return s.resolve(nil, func(h *Hyperparameter) any {
		return h.sample(rng)
	})
}

// DefaultConfiguration uses each declared default (or the domain midpoint,
// or the first choice) under the same activation rule as Sample.
func (s *Space) DefaultConfiguration() Configuration {
	return s.resolve(nil, func(h *Hyperparameter) any {
		return h.defaultValue()
	})
}

// Validate checks cfg against the space.
//
// Returns (first failure in sorted name order):
//   - ErrOutOfDomain: unknown name or value outside range/choices
//   - ErrMissingRequiredParent: a child is present, its parent is absent
//   - ErrInvalidActivation: a present child's condition does not hold, or an
//     active hyperparameter is missing
func (s *Space) Validate(cfg Configuration) error {
	keys := cfg.Keys()

	for _, k := range keys {
		h, ok := s.params[k]
		if !ok {
			return fmt.Errorf("%w: %q is not in the space", ErrOutOfDomain, k)
		}

		if _, err := h.normalize(cfg[k]); err != nil {
			return err
		}
	}

	for _, k := range keys {
		c, ok := s.conditions[k]
		if !ok {
			continue
		}

		v, present := cfg[c.Parent]
		if !present {
			return fmt.Errorf("%w: %q requires %q", ErrMissingRequiredParent, k, c.Parent)
		}

		if canonicalValue(v) != canonicalValue(c.Value) {
			return fmt.Errorf("%w: %q requires %s=%s, got %s", ErrInvalidActivation, k, c.Parent, canonicalValue(c.Value), canonicalValue(v))
		}
	}

	for _, n := range s.order {
		if _, present := cfg[n]; present {
			continue
		}

		if s.active(n, cfg) {
			return fmt.Errorf("%w: active hyperparameter %q is missing", ErrInvalidActivation, n)
		}
	}

	return nil
}

// Normalize coerces decoded values (YAML ints, JSON floats) into the value
// type of their hyperparameter. Names outside the space or values outside
// their domain fail with ErrOutOfDomain. Activation is not checked.
func (s *Space) Normalize(cfg Configuration) (Configuration, error) {
	out := make(Configuration, len(cfg))

	for _, k := range cfg.Keys() {
		h, ok := s.params[k]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not in the space", ErrOutOfDomain, k)
		}

		v, err := h.normalize(cfg[k])
		if err != nil {
			return nil, err
		}

		out[k] = v
	}

	return out, nil
}

// Dimensions is the length of the vectors produced by Encode.
func (s *Space) Dimensions() int {
	d := 0

	for _, n := range s.names {
		switch h := s.params[n]; h.Kind {
		case KindContinuous, KindInteger:
			d++
		case KindCategorical:
			d += len(h.Choices)
		}
	}

	return d
}

// Encode maps a configuration onto surrogate features in declaration order:
// numeric values scaled to [0, 1] (log-space when declared), categorical
// values one-hot, constants skipped. Inactive numeric dimensions are set to
// a value outside [0, 1]; inactive categorical ones are all zero.
func (s *Space) Encode(cfg Configuration) []float64 {
	x := make([]float64, 0, s.Dimensions())

	for _, n := range s.names {
		h := s.params[n]
		v, present := cfg[n]

		switch h.Kind {
		case KindContinuous, KindInteger:
			if !present {
				x = append(x, inactiveFeature)
				continue
			}

			x = append(x, h.unit(v))
		case KindCategorical:
			idx := -1
			if str, ok := v.(string); present && ok {
				idx = h.choiceIndex(str)
			}

			for i := range h.Choices {
				if i == idx {
					x = append(x, 1)
				} else {
					x = append(x, 0)
				}
			}
		}
	}

	return x
}

// Neighbor perturbs one active, non-constant hyperparameter of cfg and
// re-resolves conditional children: newly activated ones are sampled and
// deactivated ones dropped. Numeric values move by a Gaussian step of
// standard deviation scale in unit space; categorical values switch to
// another choice.
func (s *Space) Neighbor(cfg Configuration, rng *rand.Rand, scale float64) Configuration {
	var mutable []string

	for _, n := range s.names {
		h := s.params[n]
		if _, present := cfg[n]; !present || h.Kind == KindConstant {
			continue
		}

		if h.Kind == KindCategorical && len(h.Choices) < 2 {
			continue
		}

		if h.Kind != KindCategorical && h.Range.Min == h.Range.Max {
			continue
		}

		mutable = append(mutable, n)
	}

	out := cfg.Clone()
	if len(mutable) == 0 {
		return out
	}

	h := s.params[mutable[rng.Intn(len(mutable))]]

	switch h.Kind {
	case KindCategorical:
		cur := h.choiceIndex(fmt.Sprint(out[h.Name]))
		next := rng.Intn(len(h.Choices) - 1)
		if next >= cur {
			next++
		}

		out[h.Name] = h.Choices[next]
	default:
		u := h.unit(out[h.Name]) + rng.NormFloat64()*scale
		out[h.Name] = h.fromUnit(math.Max(0, math.Min(1, u)))
	}

	// Drop everything below the changed node so that children are resampled
	// against the new parent value.
	for _, d := range s.descendants(h.Name) {
		delete(out, d)
	}

	return s.resolve(out, func(h *Hyperparameter) any {
		return h.sample(rng)
	})
}

// descendants returns every hyperparameter reachable from name through
// conditions.
func (s *Space) descendants(name string) []string {
	var (
		out   []string
		stack = append([]string(nil), s.children[name]...)
	)

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		stack = append(stack, s.children[n]...)
	}

	return out
}
