package plugin

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Values holds the variable values of one plugin instance, keyed by
// variable name. Values are fixed before Open; the engine applies queued
// updates only between ticks.
type Values map[string]any

// validate is shared; validator.Validate is safe for concurrent use.
var validate = validator.New()

// ConfigError reports a bad variable or port at Configure time.
type ConfigError struct {
	// Kind is the plugin kind being configured.
	Kind string

	// Variable is the offending variable, if any.
	Variable string

	// Reason is the human-readable failure description.
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("config %s: variable %q: %s", e.Kind, e.Variable, e.Reason)
	}
	return fmt.Sprintf("config %s: %s", e.Kind, e.Reason)
}

// Float returns the variable as float64, accepting int values too.
func (v Values) Float(name string, fallback float64) float64 {
	raw, ok := v[name]
	if !ok {
		return fallback
	}
	switch x := raw.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return fallback
	}
}

// Int returns the variable as int, accepting whole float values too.
func (v Values) Int(name string, fallback int) int {
	raw, ok := v[name]
	if !ok {
		return fallback
	}
	switch x := raw.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return fallback
	}
}

// String returns the variable as a string.
func (v Values) String(name, fallback string) string {
	if s, ok := v[name].(string); ok {
		return s
	}
	return fallback
}

// Bool returns the variable as a bool.
func (v Values) Bool(name string, fallback bool) bool {
	if b, ok := v[name].(bool); ok {
		return b
	}
	return fallback
}

// ResolveValues merges supplied values over the manifest defaults, checks
// required variables, rejects unknown names, coerces numeric types, and
// applies each variable's constraint expression. The returned map is a
// fresh copy the caller owns. Failures are reported as *ConfigError.
func ResolveValues(m Manifest, supplied Values) (Values, error) {
	resolved := make(Values, len(m.Variables))

	for name := range supplied {
		if _, ok := m.Variable(name); !ok {
			return nil, &ConfigError{Kind: m.Kind, Variable: name, Reason: "unknown variable"}
		}
	}

	for _, spec := range m.Variables {
		raw, ok := supplied[spec.Name]
		if !ok {
			if spec.Required {
				return nil, &ConfigError{Kind: m.Kind, Variable: spec.Name, Reason: "required variable missing"}
			}
			if spec.Default == nil {
				continue
			}
			raw = spec.Default
		}

		coerced, err := coerce(spec, raw)
		if err != nil {
			return nil, &ConfigError{Kind: m.Kind, Variable: spec.Name, Reason: err.Error()}
		}

		if spec.Constraints != "" {
			if err := validate.Var(coerced, spec.Constraints); err != nil {
				return nil, &ConfigError{
					Kind:     m.Kind,
					Variable: spec.Name,
					Reason:   fmt.Sprintf("value %v violates %q", coerced, spec.Constraints),
				}
			}
		}
		resolved[spec.Name] = coerced
	}
	return resolved, nil
}

func coerce(spec VariableSpec, raw any) (any, error) {
	switch spec.Type {
	case "float":
		switch x := raw.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case "int":
		switch x := raw.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == float64(int(x)) {
				return int(x), nil
			}
			return nil, fmt.Errorf("value %v is not a whole number", x)
		}
	case "string":
		if s, ok := raw.(string); ok {
			return s, nil
		}
	case "bool":
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("value %v is not a %s", raw, spec.Type)
}
