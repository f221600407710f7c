// Package indicator provides the indicator algorithm registry and the
// streaming evaluation engine that turns the raw tick feed into per-symbol
// indicator snapshots.
package indicator

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/pumpshort/internal/domain"
)

// ParamSpec describes one typed parameter of an indicator definition.
type ParamSpec struct {
	Name     string
	Default  float64
	Min      float64
	Max      float64
	Required bool
}

// Params holds the resolved parameter values of a variant instance.
type Params map[string]float64

// Get returns the value for name. The registry guarantees every declared
// parameter is present after resolution, so a missing name is a programming
// error and yields the zero value.
func (p Params) Get(name string) float64 { return p[name] }

// Calc is a pure calculation over a tick window. It returns the computed
// value and true, or false when the window does not contain enough samples.
// Calc implementations must not retain or mutate the window.
type Calc func(w *Window, params Params) (float64, bool)

// Definition is a named, parameterized calculation unit available for
// instantiation. Definitions are discovered once at startup (see Builtins)
// and never mutated.
type Definition struct {
	Name string
	// Specs is the ordered list of typed parameters.
	Specs []ParamSpec
	// MinSamples is the minimum number of window samples the calculation
	// needs; with fewer the value is withheld from the snapshot.
	MinSamples int
	Calc       Calc
}

// Variant is an immutable definition bound to concrete parameter values.
// Identity is name + parameter values; two variants with the same name but
// different parameters coexist in the registry.
type Variant struct {
	def    Definition
	params Params
	id     string
}

// NewVariant binds a definition to parameter values, applying defaults and
// validating required flags and min/max bounds.
func NewVariant(def Definition, values map[string]float64) (*Variant, error) {
	params := make(Params, len(def.Specs))
	for _, spec := range def.Specs {
		v, ok := values[spec.Name]
		if !ok {
			if spec.Required {
				return nil, fmt.Errorf("indicator %s: missing required parameter %q: %w",
					def.Name, spec.Name, domain.ErrInvalidCondition)
			}
			v = spec.Default
		}
		if spec.Min != 0 || spec.Max != 0 {
			if v < spec.Min || v > spec.Max {
				return nil, fmt.Errorf("indicator %s: parameter %q=%v out of range [%v, %v]: %w",
					def.Name, spec.Name, v, spec.Min, spec.Max, domain.ErrInvalidCondition)
			}
		}
		params[spec.Name] = v
	}
	// Reject values for parameters the definition does not declare.
	for name := range values {
		if !def.declares(name) {
			return nil, fmt.Errorf("indicator %s: unknown parameter %q: %w",
				def.Name, name, domain.ErrInvalidCondition)
		}
	}
	return &Variant{def: def, params: params, id: variantID(def.Name, params)}, nil
}

func (d Definition) declares(name string) bool {
	for _, spec := range d.Specs {
		if spec.Name == name {
			return true
		}
	}
	return false
}

// ID returns the canonical identity string, e.g. "pump_magnitude_pct(window_sec=30)".
func (v *Variant) ID() string { return v.id }

// Name returns the definition name.
func (v *Variant) Name() string { return v.def.Name }

// Params returns a copy of the resolved parameter values.
func (v *Variant) Params() Params {
	out := make(Params, len(v.params))
	for k, val := range v.params {
		out[k] = val
	}
	return out
}

// MinSamples returns the minimum window samples the calculation needs.
func (v *Variant) MinSamples() int { return v.def.MinSamples }

// Compute evaluates the variant over the window. The boolean is false when
// the window has too few samples or the calculation cannot produce a value.
func (v *Variant) Compute(w *Window) (float64, bool) {
	if w.Len() < v.def.MinSamples {
		return 0, false
	}
	return v.def.Calc(w, v.params)
}

// variantID builds the canonical identity string from a name and parameters.
// Parameter order is normalized alphabetically so identity does not depend on
// map iteration order.
func variantID(name string, params Params) string {
	if len(params) == 0 {
		return name + "()"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(params[k], 'f', -1, 64))
	}
	b.WriteByte(')')
	return b.String()
}
