package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// ruleFile is the on-disk layout of a rule import:
//
//	rules:
//	  - name: Customer KID
//	    kind: kid_exact
//	    priority: 10
//	  - name: Bank fees
//	    kind: description_contains
//	    params: {text: "gebyr", account_code: "7770"}
type ruleFile struct {
	Rules []fileRule `yaml:"rules"`
}

type fileRule struct {
	Enabled  *bool          `yaml:"enabled"`
	Params   map[string]any `yaml:"params"`
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"`
	Priority int            `yaml:"priority"`
}

// LoadFile reads a YAML rule file for clientID. Every rule must parse; a file
// with any malformed rule is rejected as a whole.
func LoadFile(path, clientID string) ([]model.MatchingRule, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return LoadYAML(data, clientID)
}

// LoadYAML decodes rule definitions from YAML.
func LoadYAML(data []byte, clientID string) ([]model.MatchingRule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, common.Validationf("rule file: %v", err)
	}

	defs := make([]model.MatchingRule, 0, len(file.Rules))
	for i, fr := range file.Rules {
		params := json.RawMessage(`{}`)
		if len(fr.Params) > 0 {
			raw, err := json.Marshal(fr.Params)
			if err != nil {
				return nil, common.Validationf("rule %d (%s) params: %v", i, fr.Name, err)
			}
			params = raw
		}

		def := model.MatchingRule{
			ClientID: clientID,
			Name:     fr.Name,
			Kind:     model.RuleKind(fr.Kind),
			Params:   params,
			Priority: fr.Priority,
			Enabled:  fr.Enabled == nil || *fr.Enabled,
		}
		if def.Name == "" {
			return nil, common.Validationf("rule %d has no name", i)
		}
		if _, err := Parse(def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
