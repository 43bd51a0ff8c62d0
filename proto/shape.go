package proto

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// Field describes one payload field of an event.
type Field struct {
	Type        string    `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Optional    bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
	Range       []float64 `json:"range,omitempty" yaml:"range,omitempty"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Shape is the declared payload of an inbound event type, keyed by field
// name. The "type" field is implied and must not be declared.
type Shape map[string]Field

var validFieldTypes = map[string]bool{
	"number": true,
	"string": true,
	"bool":   true,
	"enum":   true,
	"object": true,
	"array":  true,
	"any":    true,
}

// Validate checks the shape definition itself.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return errors.New("shape must declare at least one field")
	}
	for _, name := range s.fieldNames() {
		if name == "type" {
			return errors.New(`shape must not declare the "type" field`)
		}
		if err := validateField(name, s[name]); err != nil {
			return err
		}
	}
	return nil
}

func validateField(path string, f Field) error {
	if _, ok := validFieldTypes[f.Type]; !ok {
		return fmt.Errorf("invalid field type %q at %s", f.Type, path)
	}
	if f.Type == "enum" && len(f.Enum) == 0 {
		return fmt.Errorf("enum type at %s must define non-empty Enum", path)
	}
	if f.Type == "number" && len(f.Range) > 0 && len(f.Range) != 2 {
		return fmt.Errorf("range at %s must have exactly two values (min, max)", path)
	}
	return nil
}

// Check reports the first field of msg that does not match the shape.
// Fields not declared in the shape are allowed.
func (s Shape) Check(msg Message) error {
	for _, name := range s.fieldNames() {
		f := s[name]
		v, ok := msg[name]
		if !ok || v == nil {
			if f.Optional {
				continue
			}
			return fmt.Errorf("missing field %q", name)
		}
		if err := checkValue(name, f, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(name string, f Field, v any) error {
	switch f.Type {
	case "number":
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("field %q: expected number, got %T", name, v)
		}
		if len(f.Range) == 2 && (n < f.Range[0] || n > f.Range[1]) {
			return fmt.Errorf("field %q: %v outside range [%v, %v]", name, n, f.Range[0], f.Range[1])
		}
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", name, v)
		}
	case "bool":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("field %q: expected bool, got %T", name, v)
		}
	case "enum":
		s, ok := v.(string)
		if !ok || !slices.Contains(f.Enum, s) {
			return fmt.Errorf("field %q: %v is not one of %v", name, v, f.Enum)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("field %q: expected object, got %T", name, v)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("field %q: expected array, got %T", name, v)
		}
	}
	return nil
}

// fieldNames keeps error reporting deterministic.
func (s Shape) fieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PlayerInputShape is the payload of EventPlayerInput.
var PlayerInputShape = Shape{
	"text": {Type: "string", Description: "Text the player submitted"},
}
