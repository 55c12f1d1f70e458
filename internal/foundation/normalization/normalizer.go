// Package normalization maps loosely written configuration values onto their
// canonical spelling.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Normalizer maps raw strings onto a fixed set of values.
type Normalizer[T comparable] struct {
	name        string
	validValues map[string]T
	validKeys   []string // cached for error messages
}

// NewNormalizer creates a normalizer for the named field. Keys are matched
// case-insensitively and ignoring surrounding whitespace.
func NewNormalizer[T comparable](name string, values map[string]T) *Normalizer[T] {
	normalized := make(map[string]T, len(values))
	validKeys := make([]string, 0, len(values))
	for k, v := range values {
		key := clean(k)
		normalized[key] = v
		validKeys = append(validKeys, key)
	}
	sort.Strings(validKeys)
	return &Normalizer[T]{name: name, validValues: normalized, validKeys: validKeys}
}

// Strings builds a normalizer whose values are the canonical keys themselves.
func Strings(name string, keys ...string) *Normalizer[string] {
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = k
	}
	return NewNormalizer(name, values)
}

// Normalize returns the value for raw, or an error listing the valid keys.
func (n *Normalizer[T]) Normalize(raw string) (T, error) {
	if value, ok := n.validValues[clean(raw)]; ok {
		return value, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %v", n.name, raw, n.validKeys)
}

// Apply rewrites *field to its canonical value. The field is left untouched
// when raw is unknown.
func (n *Normalizer[T]) Apply(field *string) error {
	v, err := n.Normalize(*field)
	if err != nil {
		return err
	}
	if s, ok := any(v).(string); ok {
		*field = s
	}
	return nil
}

// ValidKeys returns all valid keys, sorted.
func (n *Normalizer[T]) ValidKeys() []string {
	return append([]string(nil), n.validKeys...)
}

func clean(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
