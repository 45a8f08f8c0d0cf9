// Package params implements a declarative parameter registry: each
// trainer or encoder component declares its tunable values once (name,
// type, default, one-line doc) and the registry takes care of parsing,
// validation and enumeration for dumps and CLI flags.
//
// This replaces the BEGIN_PARAM_MAP/DDX_PARAM_FLOAT family of C macros
// upstream uses to wire a struct field to a name string; Go has no
// macros, so the same wiring is expressed as a slice of Spec values
// built with a constructor per type, in the spirit of the hiveGo
// generics-based GetParamOr/PopParamOr helpers this package composes
// with (Params here holds the raw string values; Registry holds the
// typed descriptors and enforces bounds).
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"

	"github.com/gocrf/lcrf/lcrferrors"
)

// Params is a flat string-keyed configuration map, e.g. parsed from a
// "key1=value1,key2=value2" command line argument.
type Params map[string]string

// NewFromConfigString parses a comma-separated key=value configuration
// string into a Params map. A bare key with no '=' is recorded with an
// empty value (GetParamOr's bool case treats that as true).
func NewFromConfigString(config string) Params {
	p := make(Params)
	if config == "" {
		return p
	}
	for _, part := range strings.Split(config, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 1 {
			p[kv[0]] = ""
		} else {
			p[kv[0]] = kv[1]
		}
	}
	return p
}

// scalar is the set of types a Spec may hold.
type scalar interface {
	bool | int | float64 | string
}

// GetParamOr parses params[key] as T, or returns defaultValue if key is
// absent. For bool, a present key with an empty value means true.
func GetParamOr[T scalar](p Params, key string, defaultValue T) (T, error) {
	var zero T
	raw, exists := p[key]
	if !exists {
		return defaultValue, nil
	}
	switch any(zero).(type) {
	case string:
		return any(raw).(T), nil
	case int:
		if raw == "" {
			return defaultValue, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return zero, errors.Wrapf(err, "parsing %s=%q as int", key, raw)
		}
		return any(v).(T), nil
	case float64:
		if raw == "" {
			return defaultValue, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return zero, errors.Wrapf(err, "parsing %s=%q as float64", key, raw)
		}
		return any(v).(T), nil
	case bool:
		if raw == "" || strings.EqualFold(raw, "true") || raw == "1" {
			return any(true).(T), nil
		}
		if strings.EqualFold(raw, "false") || raw == "0" {
			return any(false).(T), nil
		}
		return zero, errors.Errorf("parsing %s=%q as bool", key, raw)
	}
	return defaultValue, nil
}

// PopParamOr is GetParamOr, and additionally deletes key from p on
// success so callers can detect leftover, unrecognized keys once done.
func PopParamOr[T scalar](p Params, key string, defaultValue T) (T, error) {
	v, err := GetParamOr(p, key, defaultValue)
	if err != nil {
		return v, err
	}
	delete(p, key)
	return v, nil
}

// Spec describes one named, typed, documented parameter of a trainer or
// encoder component.
type Spec struct {
	Name string
	Doc  string

	kind    string // "bool", "int", "float64", "string"
	boolDef bool
	intDef  int
	fltDef  float64
	strDef  string

	hasMin, hasMax bool
	min, max       float64
}

// Bool declares a boolean parameter.
func Bool(name string, def bool, doc string) Spec {
	return Spec{Name: name, Doc: doc, kind: "bool", boolDef: def}
}

// Int declares an integer parameter.
func Int(name string, def int, doc string) Spec {
	return Spec{Name: name, Doc: doc, kind: "int", intDef: def}
}

// Float declares a float64 parameter.
func Float(name string, def float64, doc string) Spec {
	return Spec{Name: name, Doc: doc, kind: "float64", fltDef: def}
}

// FloatRange declares a float64 parameter constrained to [min, max].
func FloatRange(name string, def, min, max float64, doc string) Spec {
	s := Float(name, def, doc)
	s.hasMin, s.min = true, min
	s.hasMax, s.max = true, max
	return s
}

// String declares a string parameter.
func String(name string, def string, doc string) Spec {
	return Spec{Name: name, Doc: doc, kind: "string", strDef: def}
}

// Registry is an ordered collection of Specs belonging to one component
// (e.g. one training algorithm), plus the resolved values once Bind has
// run.
type Registry struct {
	specs  []Spec
	byName map[string]int
	values map[string]any
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int), values: make(map[string]any)}
}

// Add registers specs, in order, and seeds their resolved values with the
// declared defaults.
func (r *Registry) Add(specs ...Spec) *Registry {
	for _, s := range specs {
		r.byName[s.Name] = len(r.specs)
		r.specs = append(r.specs, s)
		switch s.kind {
		case "bool":
			r.values[s.Name] = s.boolDef
		case "int":
			r.values[s.Name] = s.intDef
		case "float64":
			r.values[s.Name] = s.fltDef
		case "string":
			r.values[s.Name] = s.strDef
		}
	}
	return r
}

// Bind parses p against the registered specs, validating ranges and
// types, and leaves unrecognized keys untouched in p (Registry does not
// require exclusive ownership of the map; callers that need to detect
// typos can check len(p) afterward against the keys Bind consumed).
func (r *Registry) Bind(p Params) error {
	for _, s := range r.specs {
		raw, exists := p[s.Name]
		if !exists {
			continue
		}
		switch s.kind {
		case "bool":
			v, err := GetParamOr(p, s.Name, s.boolDef)
			if err != nil {
				return lcrferrors.Wrapf(lcrferrors.NotSupported, err, "parameter %s", s.Name)
			}
			r.values[s.Name] = v
		case "int":
			v, err := GetParamOr(p, s.Name, s.intDef)
			if err != nil {
				return lcrferrors.Wrapf(lcrferrors.NotSupported, err, "parameter %s", s.Name)
			}
			r.values[s.Name] = v
		case "float64":
			v, err := GetParamOr(p, s.Name, s.fltDef)
			if err != nil {
				return lcrferrors.Wrapf(lcrferrors.NotSupported, err, "parameter %s", s.Name)
			}
			if s.hasMin && v < s.min || s.hasMax && v > s.max {
				return lcrferrors.Newf(lcrferrors.NotSupported,
					"parameter %s=%v out of range [%v, %v]", s.Name, v, s.min, s.max)
			}
			r.values[s.Name] = v
		case "string":
			r.values[s.Name] = raw
		}
	}
	return nil
}

// Unknown returns keys of p that do not match any Spec in the registry.
func (r *Registry) Unknown(p Params) []string {
	var unknown []string
	for k := range p {
		if _, ok := r.byName[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// mustHave enforces a programmer invariant -- every Get* call names a Spec
// registered at construction -- via must.M rather than a bare panic, the
// same way hiveGo's command-line front-ends treat a broken invariant as
// fatal immediately rather than threading an error return through call
// sites that can never legitimately receive one.
func (r *Registry) mustHave(name string) {
	if _, ok := r.byName[name]; !ok {
		must.M(errors.Errorf("params: unregistered parameter %q", name))
	}
}

// GetBool returns the resolved value of a bool parameter.
func (r *Registry) GetBool(name string) bool {
	r.mustHave(name)
	return r.values[name].(bool)
}

// GetInt returns the resolved value of an int parameter.
func (r *Registry) GetInt(name string) int {
	r.mustHave(name)
	return r.values[name].(int)
}

// GetFloat returns the resolved value of a float64 parameter.
func (r *Registry) GetFloat(name string) float64 {
	r.mustHave(name)
	return r.values[name].(float64)
}

// GetString returns the resolved value of a string parameter.
func (r *Registry) GetString(name string) string {
	r.mustHave(name)
	return r.values[name].(string)
}

// SetFloat overrides a float64 parameter's resolved value directly,
// bypassing string parsing.
func (r *Registry) SetFloat(name string, v float64) {
	r.mustHave(name)
	r.values[name] = v
}

// Dump renders every parameter as "name = value  # doc", in registration
// order, mirroring crfsuite_params_t's diagnostic dump.
func (r *Registry) Dump() string {
	var b strings.Builder
	for _, s := range r.specs {
		fmt.Fprintf(&b, "%s = %v  # %s\n", s.Name, r.values[s.Name], s.Doc)
	}
	return b.String()
}
