package transform

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one element of a parsed path: either a field name or an array
// index.
type segment struct {
	field string
	index int
	isIdx bool
}

func (s segment) apply(current any) (any, error) {
	if s.isIdx {
		arr, ok := current.([]any)
		if !ok {
			return nil, fmt.Errorf("index [%d] into non-array value %T", s.index, current)
		}
		if s.index < 0 || s.index >= len(arr) {
			return nil, fmt.Errorf("index [%d] out of range (len %d)", s.index, len(arr))
		}
		return arr[s.index], nil
	}

	obj, ok := current.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field %q access into non-object value %T", s.field, current)
	}
	value, present := obj[s.field]
	if !present {
		return nil, fmt.Errorf("field %q not present", s.field)
	}
	return value, nil
}

// parsePath tokenizes a path expression into field and index segments.
// Grammar: ident ('.' ident | '[' digits ']')*
func parsePath(path string) ([]segment, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []segment
	rest := path
	for rest != "" {
		switch rest[0] {
		case '.':
			if len(segs) == 0 {
				return nil, fmt.Errorf("path %q starts with a dot", path)
			}
			rest = rest[1:]
			if rest == "" {
				return nil, fmt.Errorf("path %q ends with a dot", path)
			}

		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("unclosed bracket in %q", path)
			}
			idx, err := strconv.Atoi(rest[1:close])
			if err != nil {
				return nil, fmt.Errorf("non-numeric index %q in %q", rest[1:close], path)
			}
			segs = append(segs, segment{index: idx, isIdx: true})
			rest = rest[close+1:]

		default:
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return nil, fmt.Errorf("empty segment in %q", path)
			}
			segs = append(segs, segment{field: name})
			rest = rest[end:]
		}
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return segs, nil
}
