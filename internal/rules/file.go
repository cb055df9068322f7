package rules

import (
	"fmt"
	"io"

	"github.com/JonMunkholm/moneyfest/internal/model"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout used to move rule sets between installations.
//
//	rules:
//	  - pattern: "IKEA"
//	    match_type: contains
//	    category: "Home:Furniture"
type File struct {
	Rules []FileRule `yaml:"rules"`
}

// FileRule is one rule in a File. IDs and authorship are not carried.
type FileRule struct {
	Pattern  string `yaml:"pattern"`
	Mode     string `yaml:"match_type,omitempty"`
	Category string `yaml:"category"`
}

// WriteFile encodes rs as YAML.
func WriteFile(w io.Writer, rs []model.Rule) error {
	f := File{Rules: make([]FileRule, len(rs))}
	for i, r := range rs {
		f.Rules[i] = FileRule{Pattern: r.Pattern, Mode: r.Mode, Category: r.Category}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding rules: %w", err)
	}
	return enc.Close()
}

// ReadFile decodes a YAML rule set. A missing match_type means contains.
// Every rule is validated; the first invalid one fails the whole file.
func ReadFile(r io.Reader) ([]model.Rule, error) {
	var f File
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing rules: %w", err)
	}

	out := make([]model.Rule, len(f.Rules))
	for i, fr := range f.Rules {
		rule := model.Rule{Pattern: fr.Pattern, Mode: fr.Mode, Category: fr.Category}
		if rule.Mode == "" {
			rule.Mode = model.MatchContains
		}
		if err := Validate(rule); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		out[i] = rule
	}
	return out, nil
}
