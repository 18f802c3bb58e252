package types

import (
	"encoding/json"
	"fmt"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeNull    SchemaType = "null"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema represents a JSON Schema definition. Composition input and
// output contracts are expressed as object schemas.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	// Object properties
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	// Array items
	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	// Enum
	Enum []any `json:"enum,omitempty"`

	// String constraints
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// Numeric constraints
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Default value
	Default any `json:"default,omitempty"`
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       SchemaTypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema creates a new array schema.
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{
		Type:  SchemaTypeArray,
		Items: items,
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeString}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeNumber}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeInteger}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeBoolean}
}

// AddProperty adds a property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired adds required field names.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// WithDescription sets the description.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON deserializes a schema from JSON.
func FromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &schema, nil
}

// ValidateValue checks a decoded JSON value against the schema and returns a
// VALIDATION error naming the offending path on the first mismatch. A nil
// receiver accepts everything.
func (s *JSONSchema) ValidateValue(value any) error {
	if s == nil {
		return nil
	}
	return s.validateAt("$", value)
}

func (s *JSONSchema) validateAt(path string, value any) error {
	if value == nil {
		if s.Type != "" && s.Type != SchemaTypeNull {
			return Errorf(ErrValidation, "%s: expected %s, got null", path, s.Type)
		}
		return nil
	}

	switch s.Type {
	case SchemaTypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return Errorf(ErrValidation, "%s: expected object, got %T", path, value)
		}
		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return Errorf(ErrValidation, "%s: missing required property %q", path, name)
			}
		}
		for name, prop := range s.Properties {
			v, present := obj[name]
			if !present {
				continue
			}
			if err := prop.validateAt(path+"."+name, v); err != nil {
				return err
			}
		}
		if s.AdditionalProperties != nil && !*s.AdditionalProperties {
			for name := range obj {
				if _, declared := s.Properties[name]; !declared {
					return Errorf(ErrValidation, "%s: unexpected property %q", path, name)
				}
			}
		}

	case SchemaTypeArray:
		arr, ok := value.([]any)
		if !ok {
			return Errorf(ErrValidation, "%s: expected array, got %T", path, value)
		}
		if s.MinItems != nil && len(arr) < *s.MinItems {
			return Errorf(ErrValidation, "%s: expected at least %d items, got %d", path, *s.MinItems, len(arr))
		}
		if s.MaxItems != nil && len(arr) > *s.MaxItems {
			return Errorf(ErrValidation, "%s: expected at most %d items, got %d", path, *s.MaxItems, len(arr))
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.validateAt(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
					return err
				}
			}
		}

	case SchemaTypeString:
		str, ok := value.(string)
		if !ok {
			return Errorf(ErrValidation, "%s: expected string, got %T", path, value)
		}
		if s.MinLength != nil && len(str) < *s.MinLength {
			return Errorf(ErrValidation, "%s: string shorter than %d", path, *s.MinLength)
		}
		if s.MaxLength != nil && len(str) > *s.MaxLength {
			return Errorf(ErrValidation, "%s: string longer than %d", path, *s.MaxLength)
		}

	case SchemaTypeNumber, SchemaTypeInteger:
		num, ok := asNumber(value)
		if !ok {
			return Errorf(ErrValidation, "%s: expected %s, got %T", path, s.Type, value)
		}
		if s.Type == SchemaTypeInteger && num != float64(int64(num)) {
			return Errorf(ErrValidation, "%s: expected integer, got %v", path, value)
		}
		if s.Minimum != nil && num < *s.Minimum {
			return Errorf(ErrValidation, "%s: %v below minimum %v", path, num, *s.Minimum)
		}
		if s.Maximum != nil && num > *s.Maximum {
			return Errorf(ErrValidation, "%s: %v above maximum %v", path, num, *s.Maximum)
		}

	case SchemaTypeBoolean:
		if _, ok := value.(bool); !ok {
			return Errorf(ErrValidation, "%s: expected boolean, got %T", path, value)
		}

	case SchemaTypeNull:
		return Errorf(ErrValidation, "%s: expected null, got %T", path, value)
	}

	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if equalJSON(value, allowed) {
				return nil
			}
		}
		return Errorf(ErrValidation, "%s: value %v not in enum", path, value)
	}
	return nil
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalJSON(a, b any) bool {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}
