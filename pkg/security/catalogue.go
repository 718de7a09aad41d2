// Package security implements the observer that watches every tool call an
// agent makes and every file a workspace scan touches, flags vulnerability
// signatures against a compiled regex catalogue, and rolls findings up into
// a risk score the orchestrator can gate on.
package security

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Severity levels, ordered low to high.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// rawSignature is the on-disk YAML shape for one catalogue entry.
type rawSignature struct {
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	Pattern        string `yaml:"pattern"`
	Severity       string `yaml:"severity"`
	OWASPCategory  string `yaml:"owasp_category"`
	CWEID          string `yaml:"cwe_id"`
	Description    string `yaml:"description"`
	Recommendation string `yaml:"recommendation"`
	Blocked        bool   `yaml:"blocked"`
}

type catalogueFile struct {
	Signatures []rawSignature `yaml:"signatures"`
}

// Signature is a single compiled detection rule.
type Signature struct {
	Name          string
	Category      string
	Regex         *regexp.Regexp
	Severity      string
	OWASPCategory string
	CWEID         string
	// Description is the human-readable statement of what the signature
	// matched (what happened). Recommendation is the separate remediation
	// statement (what to do about it); the two are never the same string.
	Description    string
	Recommendation string
	// Blocked marks this signature as severe enough to stop the phase
	// immediately instead of merely recording the finding.
	Blocked bool
}

// describe turns a signature's snake_case name into a human-readable
// description when the catalogue entry doesn't supply its own.
func describe(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Catalogue is the compiled, category-bucketed signature set.
type Catalogue struct {
	byCategory map[string][]*Signature
	all        []*Signature
}

// LoadCatalogue reads and compiles a signature catalogue from a YAML file.
// A signature whose regex fails to compile is logged by the caller via the
// returned error slice and skipped rather than aborting the whole load —
// one bad rule should not take the entire observer down.
func LoadCatalogue(path string) (*Catalogue, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []error{fmt.Errorf("reading catalogue %s: %w", path, err)}
	}
	return ParseCatalogue(data)
}

// ParseCatalogue compiles a signature catalogue from raw YAML bytes.
func ParseCatalogue(data []byte) (*Catalogue, []error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, []error{fmt.Errorf("parsing catalogue: %w", err)}
	}

	cat := &Catalogue{byCategory: make(map[string][]*Signature)}
	var errs []error

	for _, raw := range file.Signatures {
		re, err := regexp.Compile(raw.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("signature %q: compiling pattern: %w", raw.Name, err))
			continue
		}
		description := raw.Description
		if description == "" {
			description = describe(raw.Name)
		}
		sig := &Signature{
			Name:           raw.Name,
			Category:       raw.Category,
			Regex:          re,
			Severity:       raw.Severity,
			OWASPCategory:  raw.OWASPCategory,
			CWEID:          raw.CWEID,
			Description:    description,
			Recommendation: raw.Recommendation,
			Blocked:        raw.Blocked,
		}
		cat.byCategory[raw.Category] = append(cat.byCategory[raw.Category], sig)
		cat.all = append(cat.all, sig)
	}

	return cat, errs
}

// Match runs every signature in the catalogue against content and returns
// every signature that matched.
func (c *Catalogue) Match(content string) []*Signature {
	var matched []*Signature
	for _, sig := range c.all {
		if sig.Regex.MatchString(content) {
			matched = append(matched, sig)
		}
	}
	return matched
}

// MatchCategory runs only the signatures in one category against content.
func (c *Catalogue) MatchCategory(category, content string) []*Signature {
	var matched []*Signature
	for _, sig := range c.byCategory[category] {
		if sig.Regex.MatchString(content) {
			matched = append(matched, sig)
		}
	}
	return matched
}

// Len returns the total number of compiled signatures.
func (c *Catalogue) Len() int {
	return len(c.all)
}

func severityAtLeast(severity, floor string) bool {
	return severityRank[severity] >= severityRank[floor]
}
