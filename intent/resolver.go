// Package intent maps a raw request and its conversation context to an
// intent label and parameters. An ordered list of declarative pattern rules
// is tried first; a keyword classifier is the fallback. Resolution never
// fails: an unmatched request yields the general intent with the raw text as
// its sole parameter so it stays routable.
package intent

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/albertlabs/composer/internal/textutil"
)

// IntentGeneral is the catch-all intent type for unmatched requests.
const IntentGeneral = "general"

// Intention is the resolved (type, parameters) pair.
type Intention struct {
	Type       string         `json:"type"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence"`
}

// ConversationContext carries the caller identity and any conversation state
// the front-end chooses to forward.
type ConversationContext struct {
	UserID         string         `json:"user_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// Rule is one declarative pattern rule. Named capture groups become intent
// parameters.
type Rule struct {
	Intent     string   `yaml:"intent" json:"intent"`
	Pattern    string   `yaml:"pattern" json:"pattern"`
	Confidence float64  `yaml:"confidence" json:"confidence"`
	Keywords   []string `yaml:"keywords" json:"keywords,omitempty"`

	re *regexp.Regexp
}

// Resolver applies rules in declaration order, first match wins.
type Resolver struct {
	rules                []Rule
	classifierConfidence float64
	logger               *zap.Logger
}

// NewResolver compiles the rule set. Rules with unparsable patterns are
// dropped with a warning rather than failing resolution at request time.
func NewResolver(rules []Rule, classifierConfidence float64, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "intent_resolver"))
	if classifierConfidence <= 0 {
		classifierConfidence = 0.5
	}

	compiled := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			logger.Warn("dropping rule with invalid pattern",
				zap.String("intent", rule.Intent),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
			continue
		}
		rule.re = re
		if rule.Confidence <= 0 {
			rule.Confidence = 0.9
		}
		compiled = append(compiled, rule)
	}

	return &Resolver{
		rules:                compiled,
		classifierConfidence: classifierConfidence,
		logger:               logger,
	}
}

// Resolve maps a request to an intention. Pattern rules win over the keyword
// classifier; the general intent is the terminal fallback.
func (r *Resolver) Resolve(ctx context.Context, request string, convCtx ConversationContext) Intention {
	request = strings.TrimSpace(request)

	for _, rule := range r.rules {
		match := rule.re.FindStringSubmatch(request)
		if match == nil {
			continue
		}

		params := map[string]any{"query": request}
		for i, name := range rule.re.SubexpNames() {
			if name != "" && i < len(match) && match[i] != "" {
				params[name] = match[i]
			}
		}
		mergeContext(params, convCtx)

		r.logger.Debug("pattern rule matched",
			zap.String("intent", rule.Intent),
			zap.Float64("confidence", rule.Confidence))
		return Intention{Type: rule.Intent, Params: params, Confidence: rule.Confidence}
	}

	if intentType, score := r.classify(request); intentType != "" {
		params := map[string]any{"query": request}
		mergeContext(params, convCtx)
		r.logger.Debug("keyword classifier matched",
			zap.String("intent", intentType),
			zap.Float64("score", score))
		return Intention{Type: intentType, Params: params, Confidence: r.classifierConfidence * score}
	}

	params := map[string]any{"query": request}
	mergeContext(params, convCtx)
	return Intention{Type: IntentGeneral, Params: params, Confidence: 0}
}

// classify scores request tokens against each rule's keyword set and returns
// the best intent with a normalized overlap score. Declaration order breaks
// ties.
func (r *Resolver) classify(request string) (string, float64) {
	tokens := textutil.Tokenize(request)
	if len(tokens) == 0 {
		return "", 0
	}

	bestIntent := ""
	bestScore := 0.0
	for _, rule := range r.rules {
		if len(rule.Keywords) == 0 {
			continue
		}
		matched := 0
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(kw)
			for _, tok := range tokens {
				if tok == kw {
					matched++
					break
				}
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(rule.Keywords))
		if score > bestScore {
			bestScore = score
			bestIntent = rule.Intent
		}
	}
	return bestIntent, bestScore
}

func mergeContext(params map[string]any, convCtx ConversationContext) {
	for k, v := range convCtx.Attributes {
		if _, taken := params[k]; !taken {
			params[k] = v
		}
	}
}
