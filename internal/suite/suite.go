// Package suite loads declarative test suites and the validators that judge
// model responses.
package suite

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"modelbench/internal/config"
)

// TestCase is one loaded test.
type TestCase struct {
	Name          string
	Domain        Domain
	Query         string
	SystemPrompt  string
	ValidatorKind string
	Validator     Validator
}

// Validate runs the case's validator against response.
func (tc TestCase) Validate(response string) ValidationResult {
	return Run(tc.Validator, tc.ValidatorKind, tc.Query, response)
}

// Suite is an ordered, read-only list of test cases.
type Suite struct {
	cases []TestCase
}

// New builds a suite from already constructed cases.
func New(cases []TestCase) *Suite {
	return &Suite{cases: append([]TestCase(nil), cases...)}
}

type rawCase struct {
	Name         string        `json:"name" yaml:"name" toml:"name"`
	Domain       string        `json:"domain" yaml:"domain" toml:"domain"`
	Query        string        `json:"query" yaml:"query" toml:"query"`
	SystemPrompt string        `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	Validator    ValidatorSpec `json:"validator" yaml:"validator" toml:"validator"`
}

type rawSuite struct {
	Tests []rawCase `json:"tests" yaml:"tests" toml:"tests"`
}

// Load reads a suite file (.json, .yaml/.yml or .toml). Unknown fields are
// ignored. Any invalid entry fails the whole load with a SuiteLoadError
// naming that entry.
func Load(path string) (*Suite, error) {
	var raw rawSuite
	if err := config.DecodeFile(path, &raw); err != nil {
		return nil, &SuiteLoadError{Path: path, Entry: -1, Err: err}
	}
	return build(path, raw)
}

// Parse decodes suite data in the format named by ext (".json", ".yaml", ...).
func Parse(ext string, data []byte) (*Suite, error) {
	var raw rawSuite
	name := "(inline" + ext + ")"
	if err := config.Decode(ext, data, &raw); err != nil {
		return nil, &SuiteLoadError{Path: name, Entry: -1, Err: err}
	}
	return build(name, raw)
}

func build(path string, raw rawSuite) (*Suite, error) {
	if len(raw.Tests) == 0 {
		return nil, &SuiteLoadError{Path: path, Entry: -1, Err: errors.New("no tests defined")}
	}
	seen := make(map[string]int, len(raw.Tests))
	cases := make([]TestCase, 0, len(raw.Tests))
	for i, rc := range raw.Tests {
		entryErr := func(err error) error {
			return &SuiteLoadError{Path: path, Entry: i, Name: rc.Name, Err: err}
		}
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			return nil, entryErr(errors.New("name is required"))
		}
		if j, dup := seen[name]; dup {
			return nil, entryErr(fmt.Errorf("duplicate name (first used by test %d)", j))
		}
		seen[name] = i
		d, err := ParseDomain(rc.Domain)
		if err != nil {
			return nil, entryErr(err)
		}
		if strings.TrimSpace(rc.Query) == "" {
			return nil, entryErr(errors.New("query is required"))
		}
		v, err := NewValidator(rc.Validator)
		if err != nil {
			return nil, entryErr(err)
		}
		cases = append(cases, TestCase{
			Name:          name,
			Domain:        d,
			Query:         rc.Query,
			SystemPrompt:  rc.SystemPrompt,
			ValidatorKind: strings.ToLower(strings.TrimSpace(rc.Validator.Kind)),
			Validator:     v,
		})
	}
	return &Suite{cases: cases}, nil
}

// Cases returns every test case in suite order.
func (s *Suite) Cases() []TestCase { return append([]TestCase(nil), s.cases...) }

// Len returns the number of cases.
func (s *Suite) Len() int { return len(s.cases) }

// Filter returns the cases in domain d, or all cases when d is nil.
func (s *Suite) Filter(d *Domain) []TestCase {
	if d == nil {
		return s.Cases()
	}
	var out []TestCase
	for _, tc := range s.cases {
		if tc.Domain == *d {
			out = append(out, tc)
		}
	}
	return out
}

// Domains returns the distinct domains of the suite in first-appearance order.
func (s *Suite) Domains() []Domain {
	seen := make(map[Domain]bool)
	var out []Domain
	for _, tc := range s.cases {
		if !seen[tc.Domain] {
			seen[tc.Domain] = true
			out = append(out, tc.Domain)
		}
	}
	return out
}

// IsSuiteFile reports whether path has an extension Load understands.
func IsSuiteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".toml":
		return true
	}
	return false
}
