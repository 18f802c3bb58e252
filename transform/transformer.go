// Package transform implements the data-mapping layer between composition
// steps. Mapping expressions are resolved against an execution namespace with
// a fixed grammar: dotted field access, bracket indexing, and quoted string
// literals. An optional named converter can be attached to an expression with
// a pipe, e.g. "search.emails | first" or "summaries | join:, ".
package transform

import (
	"strings"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/types"
)

// Transformer resolves mapping expressions and applies declarative mappings.
type Transformer struct {
	converters map[string]Converter
	logger     *zap.Logger
}

// NewTransformer creates a Transformer with the built-in converter registry.
func NewTransformer(logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{
		converters: builtinConverters(),
		logger:     logger.With(zap.String("component", "transformer")),
	}
}

// RegisterConverter adds or replaces a named converter.
func (t *Transformer) RegisterConverter(name string, fn Converter) {
	t.converters[name] = fn
}

// Resolve evaluates a mapping expression against the namespace. Quoted
// expressions are literals; everything else is a path. An unresolvable path
// returns a MAPPING error rather than a null.
func (t *Transformer) Resolve(expr string, ns map[string]any) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, types.Errorf(types.ErrMapping, "empty mapping expression")
	}

	path, convName, convArg, err := splitConverter(expr)
	if err != nil {
		return nil, err
	}

	value, err := t.resolveSource(path, ns)
	if err != nil {
		return nil, err
	}

	if convName == "" {
		return value, nil
	}
	conv, ok := t.converters[convName]
	if !ok {
		return nil, types.Errorf(types.ErrMapping, "unknown converter %q in %q", convName, expr)
	}
	converted, err := conv(value, convArg)
	if err != nil {
		return nil, types.Errorf(types.ErrMapping, "converter %q failed for %q", convName, expr).WithCause(err)
	}
	return converted, nil
}

// Apply resolves every entry of a mapping and returns the partial namespace
// of param name to resolved value. The first unresolvable entry fails the
// whole mapping.
func (t *Transformer) Apply(mapping map[string]string, ns map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(mapping))
	for key, expr := range mapping {
		value, err := t.Resolve(expr, ns)
		if err != nil {
			return nil, types.Errorf(types.ErrMapping, "mapping for %q failed", key).WithCause(err)
		}
		out[key] = value
	}
	return out, nil
}

// Project filters the final namespace against an output schema: only declared
// properties survive. A nil schema or a non-object schema passes the
// namespace through unchanged.
func (t *Transformer) Project(ns map[string]any, schema *types.JSONSchema) map[string]any {
	if schema == nil || schema.Type != types.SchemaTypeObject || len(schema.Properties) == 0 {
		return ns
	}
	out := make(map[string]any, len(schema.Properties))
	for name := range schema.Properties {
		if value, ok := ns[name]; ok {
			out[name] = value
		}
	}
	return out
}

// resolveSource evaluates the path-or-literal part of an expression.
func (t *Transformer) resolveSource(src string, ns map[string]any) (any, error) {
	if lit, ok := unquote(src); ok {
		return lit, nil
	}

	segments, err := parsePath(src)
	if err != nil {
		return nil, err
	}

	var current any = ns
	for _, seg := range segments {
		next, err := seg.apply(current)
		if err != nil {
			return nil, types.Errorf(types.ErrMapping, "cannot resolve %q", src).WithCause(err)
		}
		current = next
	}
	return current, nil
}

// splitConverter separates "path | name:arg" into its parts. Pipes inside
// quoted literals are left alone.
func splitConverter(expr string) (path, name, arg string, err error) {
	if _, quoted := unquote(expr); quoted {
		return expr, "", "", nil
	}

	idx := strings.Index(expr, "|")
	if idx < 0 {
		return expr, "", "", nil
	}

	path = strings.TrimSpace(expr[:idx])
	spec := strings.TrimSpace(expr[idx+1:])
	if spec == "" {
		return "", "", "", types.Errorf(types.ErrMapping, "dangling converter in %q", expr)
	}

	if colon := strings.Index(spec, ":"); colon >= 0 {
		name = strings.TrimSpace(spec[:colon])
		arg = spec[colon+1:]
	} else {
		name = spec
	}
	if name == "" {
		return "", "", "", types.Errorf(types.ErrMapping, "dangling converter in %q", expr)
	}
	return path, name, arg, nil
}

// unquote returns the literal content when the expression is a single-quoted
// or double-quoted string.
func unquote(expr string) (string, bool) {
	if len(expr) < 2 {
		return "", false
	}
	first, last := expr[0], expr[len(expr)-1]
	if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
		return expr[1 : len(expr)-1], true
	}
	return "", false
}
