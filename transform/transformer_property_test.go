package transform

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Resolving a generated path against a namespace built from that same path
// must return the planted value, and join/split must round-trip any list of
// separator-free tokens.
func TestProperty_PathResolution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	tr := NewTransformer(nil)

	identGen := gen.RegexMatch(`[a-z][a-z0-9_]{0,8}`)

	properties.Property("planted value is found at its own path", prop.ForAll(
		func(fields []string, value string) bool {
			if len(fields) == 0 {
				return true
			}

			// Build ns so that fields[0].fields[1]...fields[n-1] == value.
			leaf := any(value)
			for i := len(fields) - 1; i >= 1; i-- {
				leaf = map[string]any{fields[i]: leaf}
			}
			ns := map[string]any{fields[0]: leaf}

			expr := fields[0]
			for _, f := range fields[1:] {
				expr += "." + f
			}

			got, err := tr.Resolve(expr, ns)
			if err != nil {
				t.Logf("resolve %q failed: %v", expr, err)
				return false
			}
			return got == value
		},
		gen.SliceOfN(3, identGen),
		gen.AlphaString(),
	))

	properties.Property("array indexing returns the planted element", prop.ForAll(
		func(n int, pick int) bool {
			if n <= 0 {
				return true
			}
			pick = pick % n
			if pick < 0 {
				pick = -pick
			}
			arr := make([]any, n)
			for i := range arr {
				arr[i] = fmt.Sprintf("item-%d", i)
			}
			ns := map[string]any{"items": arr}

			got, err := tr.Resolve(fmt.Sprintf("items[%d]", pick), ns)
			if err != nil {
				t.Logf("resolve failed: %v", err)
				return false
			}
			return got == fmt.Sprintf("item-%d", pick)
		},
		gen.IntRange(1, 20),
		gen.Int(),
	))

	properties.Property("join then split round-trips token lists", prop.ForAll(
		func(tokens []string) bool {
			items := make([]any, len(tokens))
			for i, tok := range tokens {
				items[i] = tok
			}
			ns := map[string]any{"items": items}

			joined, err := tr.Resolve("items | join:;", ns)
			if err != nil {
				t.Logf("join failed: %v", err)
				return false
			}
			if len(tokens) == 0 {
				return joined == ""
			}

			ns["joined"] = joined
			back, err := tr.Resolve("joined | split:;", ns)
			if err != nil {
				t.Logf("split failed: %v", err)
				return false
			}
			got, ok := back.([]any)
			if !ok || len(got) != len(tokens) {
				return false
			}
			for i, tok := range tokens {
				if got[i] != tok {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.RegexMatch(`[a-z0-9]{1,6}`)),
	))

	properties.TestingRun(t)
}
