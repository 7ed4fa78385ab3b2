package flow

import (
	"fmt"
	"time"

	"myxcli/internal/errors"
)

// Params are the per-step parameters merged from flow-level and step-level
// definitions. Values arrive JSON-typed (string, float64, bool, []any,
// map[string]any); the accessors below coerce and report configuration
// errors, which are fatal before any partition is touched.
type Params map[string]any

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns a required string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", errors.NewConfigError(fmt.Sprintf("missing required param %q", key), nil)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.NewConfigError(fmt.Sprintf("param %q must be a string, got %T", key, v), nil)
	}
	return s, nil
}

// StringOr returns a string parameter or def when absent.
func (p Params) StringOr(key, def string) string {
	if s, err := p.String(key); err == nil {
		return s
	}
	return def
}

// Int returns a required integer parameter. JSON numbers arrive as float64;
// fractional values are rejected.
func (p Params) Int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, errors.NewConfigError(fmt.Sprintf("missing required param %q", key), nil)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		if n != float64(int(n)) {
			return 0, errors.NewConfigError(fmt.Sprintf("param %q must be an integer, got %v", key, n), nil)
		}
		return int(n), nil
	}
	return 0, errors.NewConfigError(fmt.Sprintf("param %q must be an integer, got %T", key, v), nil)
}

// IntOr returns an integer parameter or def when absent or malformed.
func (p Params) IntOr(key string, def int) int {
	if !p.Has(key) {
		return def
	}
	if n, err := p.Int(key); err == nil {
		return n
	}
	return def
}

// Float returns a required float parameter.
func (p Params) Float(key string) (float64, error) {
	v, ok := p[key]
	if !ok {
		return 0, errors.NewConfigError(fmt.Sprintf("missing required param %q", key), nil)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	}
	return 0, errors.NewConfigError(fmt.Sprintf("param %q must be a number, got %T", key, v), nil)
}

// FloatOr returns a float parameter or def when absent.
func (p Params) FloatOr(key string, def float64) float64 {
	if !p.Has(key) {
		return def
	}
	if f, err := p.Float(key); err == nil {
		return f
	}
	return def
}

// BoolOr returns a boolean parameter or def when absent.
func (p Params) BoolOr(key string, def bool) bool {
	if v, ok := p[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Duration returns a required duration parameter given as a string such as
// "1s" or "5m".
func (p Params) Duration(key string) (time.Duration, error) {
	s, err := p.String(key)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.NewConfigError(fmt.Sprintf("param %q is not a duration: %q", key, s), err)
	}
	return d, nil
}

// Seconds returns a required integer-seconds parameter as a duration.
func (p Params) Seconds(key string) (time.Duration, error) {
	n, err := p.Int(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// Strings returns a required list-of-strings parameter.
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("missing required param %q", key), nil)
	}
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, errors.NewConfigError(fmt.Sprintf("param %q must be a list of strings, got %T", key, v), nil)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("param %q element %d must be a string, got %T", key, i, item), nil)
		}
		out[i] = s
	}
	return out, nil
}

// Map returns an object-valued parameter, nil when absent.
func (p Params) Map(key string) (map[string]any, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("param %q must be an object, got %T", key, v), nil)
	}
	return m, nil
}

// Slice returns a list-valued parameter, nil when absent.
func (p Params) Slice(key string) ([]any, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, errors.NewConfigError(fmt.Sprintf("param %q must be a list, got %T", key, v), nil)
	}
	return items, nil
}

// StringMap returns an object parameter coerced to string values.
func (p Params) StringMap(key string) (map[string]string, error) {
	m, err := p.Map(key)
	if err != nil || m == nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, errors.NewConfigError(fmt.Sprintf("param %q entry %q must be a string, got %T", key, k, v), nil)
		}
		out[k] = s
	}
	return out, nil
}
