package filter

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules is the deterministic part of the relevance decision.
type Rules struct {
	// Staleness lists phrases marking content as no longer current.
	Staleness []string `yaml:"staleness"`
	// RejectPatterns reject items whose field contains any listed phrase.
	RejectPatterns []PatternRule `yaml:"reject_patterns"`
	// TrustedSources are hostnames whose items skip the scoring call.
	TrustedSources []string `yaml:"trusted_sources"`
}

// PatternRule excludes items by substring match on one field.
type PatternRule struct {
	Field    string   `yaml:"field"`
	Excludes []string `yaml:"excludes"`
}

var defaultStaleness = []string{
	"rescinded",
	"superseded",
	"withdrawn",
	"retracted",
	"no longer maintained",
	"deprecated",
	"obsolete",
}

var patternFields = map[string]bool{
	"title":       true,
	"description": true,
	"url":         true,
	"text":        true,
	"site_name":   true,
	"author":      true,
}

// DefaultRules returns the built-in staleness vocabulary with no patterns or
// trusted sources.
func DefaultRules() Rules {
	return Rules{Staleness: append([]string(nil), defaultStaleness...)}
}

// LoadRules reads a YAML rules file. An empty path yields DefaultRules.
func LoadRules(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	rules.setDefaults()
	if err := rules.validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r *Rules) setDefaults() {
	if len(r.Staleness) == 0 {
		r.Staleness = append([]string(nil), defaultStaleness...)
	}
	for i := range r.RejectPatterns {
		r.RejectPatterns[i].Field = strings.ToLower(strings.TrimSpace(r.RejectPatterns[i].Field))
	}
	for i, host := range r.TrustedSources {
		r.TrustedSources[i] = normalizeHost(host)
	}
}

func (r *Rules) validate() error {
	for i, rule := range r.RejectPatterns {
		if !patternFields[rule.Field] {
			return fmt.Errorf("reject_patterns[%d]: unsupported field %q", i, rule.Field)
		}
		if len(rule.Excludes) == 0 {
			return fmt.Errorf("reject_patterns[%d]: excludes is empty", i)
		}
		for _, phrase := range rule.Excludes {
			if strings.TrimSpace(phrase) == "" {
				return fmt.Errorf("reject_patterns[%d]: blank exclude phrase", i)
			}
		}
	}
	for i, host := range r.TrustedSources {
		if host == "" {
			return fmt.Errorf("trusted_sources[%d]: %w", i, errors.New("blank hostname"))
		}
	}
	return nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "www.")
	return strings.TrimSuffix(host, ".")
}
