package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Converter adapts a resolved value before it is bound to a parameter. The
// arg comes from the expression text after the converter name's colon and may
// be empty.
type Converter func(value any, arg string) (any, error)

func builtinConverters() map[string]Converter {
	return map[string]Converter{
		"join":      convJoin,
		"split":     convSplit,
		"first":     convFirst,
		"last":      convLast,
		"length":    convLength,
		"to_string": convToString,
		"to_number": convToNumber,
		"to_bool":   convToBool,
		"stringify": convStringify,
		"parse":     convParse,
		"uppercase": convUppercase,
		"lowercase": convLowercase,
		"trim":      convTrim,
	}
}

// join renders a list as a delimited string. Default separator is ", ".
func convJoin(value any, arg string) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("join expects an array, got %T", value)
	}
	sep := ", "
	if arg != "" {
		sep = arg
	}
	parts := make([]string, len(arr))
	for i, item := range arr {
		parts[i] = stringify(item)
	}
	return strings.Join(parts, sep), nil
}

// split divides a string into a list. Default separator is ",".
func convSplit(value any, arg string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("split expects a string, got %T", value)
	}
	sep := ","
	if arg != "" {
		sep = arg
	}
	parts := strings.Split(str, sep)
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out, nil
}

func convFirst(value any, _ string) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("first expects an array, got %T", value)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("first on empty array")
	}
	return arr[0], nil
}

func convLast(value any, _ string) (any, error) {
	arr, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("last expects an array, got %T", value)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("last on empty array")
	}
	return arr[len(arr)-1], nil
}

func convLength(value any, _ string) (any, error) {
	switch v := value.(type) {
	case []any:
		return float64(len(v)), nil
	case string:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("length expects an array, string or object, got %T", value)
	}
}

func convToString(value any, _ string) (any, error) {
	return stringify(value), nil
}

func convToNumber(value any, _ string) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("to_number: %w", err)
		}
		return f, nil
	case bool:
		if v {
			return float64(1), nil
		}
		return float64(0), nil
	default:
		return nil, fmt.Errorf("to_number cannot convert %T", value)
	}
}

func convToBool(value any, _ string) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1", "y":
			return true, nil
		default:
			return false, nil
		}
	case float64:
		return v != 0, nil
	default:
		return nil, fmt.Errorf("to_bool cannot convert %T", value)
	}
}

// stringify JSON-encodes structured values for tools that take text.
func convStringify(value any, _ string) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("stringify: %w", err)
	}
	return string(data), nil
}

// parse decodes a JSON string back into a structured value.
func convParse(value any, _ string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("parse expects a string, got %T", value)
	}
	var out any
	if err := json.Unmarshal([]byte(str), &out); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return out, nil
}

func convUppercase(value any, _ string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("uppercase expects a string, got %T", value)
	}
	return strings.ToUpper(str), nil
}

func convLowercase(value any, _ string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("lowercase expects a string, got %T", value)
	}
	return strings.ToLower(str), nil
}

func convTrim(value any, _ string) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("trim expects a string, got %T", value)
	}
	return strings.TrimSpace(str), nil
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool, int:
		return fmt.Sprintf("%v", v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
