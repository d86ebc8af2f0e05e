package hpo

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

//////
// Const, vars, types.
//////

// Definition is the YAML description of an optimization run.
//
// Example:
//
//	space:
//	  hyperparameters:
//	    - {name: c, type: float, lower: 0, upper: 3, default: 1.4142135623730951}
//	    - {name: schedule, type: categorical, choices: [A, B]}
//	    - {name: k, type: integer, lower: 0, upper: 2000}
//	  conditions:
//	    - {child: k, parent: schedule, equals: A}
//	scenario:
//	  trials: 100
//	  workers: 4
//	  deterministic: true
//	  trial_timeout: 1m
//	executable:
//	  path: ./target/release/hyper
//	history:
//	  dir: .hpo
//	  run: druid
type Definition struct {
	Space      SpaceDefinition `yaml:"space" validate:"required"`
	Scenario   Scenario        `yaml:"scenario"`
	Executable Executable      `yaml:"executable"`
	History    HistoryLocation `yaml:"history"`
}

// SpaceDefinition lists hyperparameters and conditions.
type SpaceDefinition struct {
	Hyperparameters []HyperparameterDefinition `yaml:"hyperparameters" validate:"required,min=1,dive"`
	Conditions      []ConditionDefinition      `yaml:"conditions" validate:"dive"`
}

// HyperparameterDefinition declares one hyperparameter. Lower and Upper apply
// to float and integer types, Choices to categorical, Value to constant.
type HyperparameterDefinition struct {
	Name    string   `yaml:"name" validate:"required"`
	Type    string   `yaml:"type" validate:"required,oneof=float integer categorical constant"`
	Lower   float64  `yaml:"lower"`
	Upper   float64  `yaml:"upper"`
	Log     bool     `yaml:"log"`
	Choices []string `yaml:"choices" validate:"required_if=Type categorical"`
	Default any      `yaml:"default"`
	Value   any      `yaml:"value" validate:"required_if=Type constant"`
}

// ConditionDefinition declares `child depends_on (parent, equals)`.
type ConditionDefinition struct {
	Child  string `yaml:"child" validate:"required"`
	Parent string `yaml:"parent" validate:"required"`
	Equals any    `yaml:"equals" validate:"required"`
}

// Scenario is the optimization config as read from a definition. Fields left
// out of the file keep their DefaultConfig value.
type Scenario struct {
	OptimizationConfig `yaml:",inline"`

	// Acquisition names the acquisition function: ei, pi, lcb or ts.
	Acquisition string `yaml:"acquisition_function" validate:"omitempty,oneof=ei pi lcb ucb ts"`
}

// Executable describes how trials are launched.
type Executable struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
	Dir  string   `yaml:"dir"`

	// Env is added to the inherited environment.
	Env map[string]string `yaml:"env"`

	// FlagPrefix defaults to "--".
	FlagPrefix string `yaml:"flag_prefix"`

	// SeedFlag defaults to "seed". An explicit empty string disables it.
	SeedFlag *string `yaml:"seed_flag"`

	// CostPattern is a regular expression whose first group is the cost.
	CostPattern string `yaml:"cost_pattern"`
}

// HistoryLocation points at the run history journal. An empty Dir keeps the
// history in memory only.
type HistoryLocation struct {
	Dir string `yaml:"dir"`
	Run string `yaml:"run"`
}

//////
// Factory.
//////

// LoadDefinition reads and parses a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// ParseDefinition decodes a YAML definition on top of DefaultConfig and
// validates it. Unknown fields are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	def := &Definition{
		Scenario: Scenario{OptimizationConfig: DefaultConfig()},
		History:  HistoryLocation{Run: "default"},
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(def); err != nil {
		return nil, fmt.Errorf("%w: decode definition: %v", ErrInvalidConfig, err)
	}

	if def.Scenario.Acquisition != "" {
		fn, ok := AcquisitionByName(def.Scenario.Acquisition)
		if !ok {
			return nil, fmt.Errorf("%w: unknown acquisition function %q", ErrInvalidConfig, def.Scenario.Acquisition)
		}

		def.Scenario.AcquisitionFunc = fn
	}

	if err := validate.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return def, nil
}

//////
// Methods.
//////

// ToSpace builds the configuration space. Categorical values written as
// YAML numbers or booleans are taken as their text.
func (d *Definition) ToSpace() (*Space, error) {
	params := make([]Hyperparameter, 0, len(d.Space.Hyperparameters))
	kinds := make(map[string]string, len(d.Space.Hyperparameters))

	for _, h := range d.Space.Hyperparameters {
		kinds[h.Name] = h.Type

		var opts []ParamOption

		if h.Default != nil {
			def := h.Default
			if h.Type == "categorical" {
				def = yamlText(def)
			}

			opts = append(opts, WithDefault(def))
		}

		if h.Log {
			opts = append(opts, WithLog())
		}

		switch h.Type {
		case "float":
			params = append(params, Float(h.Name, h.Lower, h.Upper, opts...))
		case "integer":
			if h.Lower != math.Trunc(h.Lower) || h.Upper != math.Trunc(h.Upper) {
				return nil, fmt.Errorf("%w: %s has fractional integer bounds", ErrInvalidSpace, h.Name)
			}

			params = append(params, Integer(h.Name, int64(h.Lower), int64(h.Upper), opts...))
		case "categorical":
			params = append(params, Categorical(h.Name, h.Choices, opts...))
		case "constant":
			params = append(params, Constant(h.Name, h.Value))
		}
	}

	conditions := make([]Condition, 0, len(d.Space.Conditions))

	for _, c := range d.Space.Conditions {
		value := c.Equals
		if kinds[c.Parent] == "categorical" {
			value = yamlText(value)
		}

		conditions = append(conditions, Equals(c.Child, c.Parent, value))
	}

	return NewSpace(params, conditions...)
}

// ToConfig returns the optimization config.
func (d *Definition) ToConfig() OptimizationConfig {
	return d.Scenario.OptimizationConfig
}

// ToExecutor builds the subprocess executor.
func (d *Definition) ToExecutor() (*CommandExecutor, error) {
	e := d.Executable
	if e.Path == "" {
		return nil, fmt.Errorf("%w: executable path is required", ErrInvalidConfig)
	}

	exec := NewCommandExecutor(e.Path, e.Args...)
	exec.Dir = e.Dir

	if e.FlagPrefix != "" {
		exec.FlagPrefix = e.FlagPrefix
	}

	if e.SeedFlag != nil {
		exec.SeedFlag = *e.SeedFlag
	}

	if e.CostPattern != "" {
		re, err := regexp.Compile(e.CostPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: cost pattern: %v", ErrInvalidConfig, err)
		}

		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("%w: cost pattern %q has no capture group", ErrInvalidConfig, e.CostPattern)
		}

		exec.CostPattern = re
	}

	if len(e.Env) > 0 {
		keys := make([]string, 0, len(e.Env))
		for k := range e.Env {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		exec.Env = os.Environ()
		for _, k := range keys {
			exec.Env = append(exec.Env, k+"="+e.Env[k])
		}
	}

	return exec, nil
}

// yamlText renders a decoded scalar the way it was written.
func yamlText(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return fmt.Sprint(x)
	}

	if s := FormatValue(v); s != "" {
		return s
	}

	return v
}
