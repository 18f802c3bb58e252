package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertlabs/composer/types"
)

func testNamespace() map[string]any {
	return map[string]any{
		"folder": "inbox",
		"limit":  float64(10),
		"search": map[string]any{
			"emails": []any{
				map[string]any{"id": "m1", "subject": "Quarterly report"},
				map[string]any{"id": "m2", "subject": "Lunch?"},
			},
			"total": float64(2),
		},
		"summaries": []any{"report due Friday", "lunch at noon"},
	}
}

func TestTransformer_Resolve(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)
	ns := testNamespace()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{name: "top level field", expr: "folder", want: "inbox"},
		{name: "nested field", expr: "search.total", want: float64(2)},
		{name: "array index", expr: "search.emails[1].subject", want: "Lunch?"},
		{name: "single quoted literal", expr: "'inbox'", want: "inbox"},
		{name: "double quoted literal", expr: `"fixed value"`, want: "fixed value"},
		{name: "literal with dot stays literal", expr: "'a.b'", want: "a.b"},
		{name: "converter join", expr: "summaries | join:; ", want: "report due Friday; lunch at noon"},
		{name: "converter first", expr: "search.emails | first", want: map[string]any{"id": "m1", "subject": "Quarterly report"}},
		{name: "converter length", expr: "search.emails | length", want: float64(2)},
		{name: "converter to_string", expr: "limit | to_string", want: "10"},
		{name: "converter uppercase", expr: "folder | uppercase", want: "INBOX"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tr.Resolve(tt.expr, ns)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformer_Resolve_FailsLoud(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)
	ns := testNamespace()

	tests := []struct {
		name string
		expr string
	}{
		{name: "missing field", expr: "nonexistent"},
		{name: "missing nested field", expr: "search.missing"},
		{name: "index out of range", expr: "search.emails[9]"},
		{name: "index into object", expr: "search[0]"},
		{name: "field access into array", expr: "summaries.subject"},
		{name: "unknown converter", expr: "folder | frobnicate"},
		{name: "dangling converter", expr: "folder |"},
		{name: "empty expression", expr: "  "},
		{name: "unclosed bracket", expr: "search.emails[1"},
		{name: "converter type mismatch", expr: "folder | join"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tr.Resolve(tt.expr, ns)
			require.Error(t, err)
			assert.Equal(t, types.ErrMapping, types.GetErrorCode(err))
		})
	}
}

func TestTransformer_Apply(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)
	ns := testNamespace()

	out, err := tr.Apply(map[string]string{
		"query":  "folder",
		"emails": "search.emails",
		"mode":   "'digest'",
	}, ns)
	require.NoError(t, err)

	assert.Equal(t, "inbox", out["query"])
	assert.Equal(t, "digest", out["mode"])
	assert.Len(t, out["emails"], 2)
}

func TestTransformer_Apply_FirstBadEntryFails(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)

	_, err := tr.Apply(map[string]string{
		"ok":  "folder",
		"bad": "missing.path",
	}, testNamespace())
	require.Error(t, err)
	assert.Equal(t, types.ErrMapping, types.GetErrorCode(err))
}

func TestTransformer_Project(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)

	schema := types.NewObjectSchema().
		AddProperty("summaries", types.NewArraySchema(types.NewStringSchema())).
		AddProperty("total", types.NewNumberSchema())

	ns := map[string]any{
		"summaries": []any{"a", "b"},
		"total":     float64(2),
		"scratch":   "internal step output",
	}

	out := tr.Project(ns, schema)
	assert.Equal(t, []any{"a", "b"}, out["summaries"])
	assert.Equal(t, float64(2), out["total"])
	assert.NotContains(t, out, "scratch")
}

func TestTransformer_Project_NilSchemaPassesThrough(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)

	ns := map[string]any{"anything": true}
	assert.Equal(t, ns, tr.Project(ns, nil))
}

func TestTransformer_RegisterConverter(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)
	tr.RegisterConverter("reverse", func(value any, _ string) (any, error) {
		str := value.(string)
		runes := []rune(str)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes), nil
	})

	got, err := tr.Resolve("folder | reverse", testNamespace())
	require.NoError(t, err)
	assert.Equal(t, "xobni", got)
}

func TestConverters_RoundTrips(t *testing.T) {
	t.Parallel()
	tr := NewTransformer(nil)
	ns := map[string]any{
		"csv":  "a, b, c",
		"blob": map[string]any{"k": "v"},
	}

	split, err := tr.Resolve("csv | split:,", ns)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, split)

	text, err := tr.Resolve("blob | stringify", ns)
	require.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, text)

	ns["text"] = text
	back, err := tr.Resolve("text | parse", ns)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, back)
}
