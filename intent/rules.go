package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML layout of a rules file:
//
//	rules:
//	  - intent: summarize_inbox
//	    pattern: 'summari[sz]e .*(?P<folder>inbox|archive)'
//	    confidence: 0.9
//	    keywords: [summarize, emails, inbox]
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads declarative pattern rules from a YAML file. An empty path
// yields an empty rule set.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read intent rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse intent rules: %w", err)
	}
	return file.Rules, nil
}
