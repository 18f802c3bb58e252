package intent

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRules() []Rule {
	return []Rule{
		{
			Intent:     "summarize_inbox",
			Pattern:    `summari[sz]e .*(?P<folder>inbox|archive)`,
			Confidence: 0.9,
			Keywords:   []string{"summarize", "emails", "inbox"},
		},
		{
			Intent:     "schedule_meeting",
			Pattern:    `(schedule|book) .*meeting.*with (?P<person>\w+)`,
			Confidence: 0.85,
			Keywords:   []string{"schedule", "meeting", "calendar"},
		},
	}
}

func TestResolver_PatternMatch(t *testing.T) {
	t.Parallel()
	r := NewResolver(testRules(), 0.5, nil)

	got := r.Resolve(context.Background(), "Please summarize my inbox", ConversationContext{})

	assert.Equal(t, "summarize_inbox", got.Type)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, "inbox", got.Params["folder"])
	assert.Equal(t, "Please summarize my inbox", got.Params["query"])
}

func TestResolver_FirstMatchWins(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Intent: "first", Pattern: `hello`, Confidence: 0.8},
		{Intent: "second", Pattern: `hello world`, Confidence: 0.95},
	}
	r := NewResolver(rules, 0.5, nil)

	got := r.Resolve(context.Background(), "hello world", ConversationContext{})
	assert.Equal(t, "first", got.Type)
}

func TestResolver_CaseInsensitive(t *testing.T) {
	t.Parallel()
	r := NewResolver(testRules(), 0.5, nil)

	got := r.Resolve(context.Background(), "SUMMARIZE the INBOX", ConversationContext{})
	assert.Equal(t, "summarize_inbox", got.Type)
}

func TestResolver_KeywordFallback(t *testing.T) {
	t.Parallel()
	r := NewResolver(testRules(), 0.5, nil)

	// No pattern matches, but "meeting" and "calendar" hit rule keywords.
	got := r.Resolve(context.Background(), "put a meeting into my calendar", ConversationContext{})

	assert.Equal(t, "schedule_meeting", got.Type)
	assert.Greater(t, got.Confidence, 0.0)
	assert.Less(t, got.Confidence, 0.85)
}

func TestResolver_GeneralFallback(t *testing.T) {
	t.Parallel()
	r := NewResolver(testRules(), 0.5, nil)

	got := r.Resolve(context.Background(), "what is the weather like", ConversationContext{})

	assert.Equal(t, IntentGeneral, got.Type)
	assert.Equal(t, "what is the weather like", got.Params["query"])
	assert.Zero(t, got.Confidence)
}

func TestResolver_EmptyRequestNeverPanics(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, 0.5, nil)

	got := r.Resolve(context.Background(), "", ConversationContext{})
	assert.Equal(t, IntentGeneral, got.Type)
}

func TestResolver_ContextAttributesMerged(t *testing.T) {
	t.Parallel()
	r := NewResolver(testRules(), 0.5, nil)

	got := r.Resolve(context.Background(), "summarize my inbox", ConversationContext{
		Attributes: map[string]any{"locale": "fr", "query": "must not clobber"},
	})

	assert.Equal(t, "fr", got.Params["locale"])
	// Captured parameters win over context attributes.
	assert.Equal(t, "summarize my inbox", got.Params["query"])
}

func TestResolver_InvalidPatternDropped(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Intent: "broken", Pattern: `([unclosed`},
		{Intent: "works", Pattern: `ping`},
	}
	r := NewResolver(rules, 0.5, nil)

	got := r.Resolve(context.Background(), "ping", ConversationContext{})
	assert.Equal(t, "works", got.Type)
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `
rules:
  - intent: summarize_inbox
    pattern: 'summari[sz]e .*(?P<folder>inbox|archive)'
    confidence: 0.9
    keywords: [summarize, emails]
  - intent: schedule_meeting
    pattern: 'book .*meeting'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "summarize_inbox", rules[0].Intent)
	assert.Equal(t, []string{"summarize", "emails"}, rules[0].Keywords)

	empty, err := LoadRules("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = LoadRules(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
