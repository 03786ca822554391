package suite

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ResultKind classifies a validation outcome.
type ResultKind int

const (
	Pass ResultKind = iota
	Fail
	Error
)

func (k ResultKind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("result(%d)", int(k))
	}
}

// ValidationResult is the outcome of one validator run. Err is set for Error.
type ValidationResult struct {
	Kind    ResultKind
	Message string
	Err     error
}

func passed(format string, a ...any) ValidationResult {
	return ValidationResult{Kind: Pass, Message: fmt.Sprintf(format, a...)}
}

func failed(format string, a ...any) ValidationResult {
	return ValidationResult{Kind: Fail, Message: fmt.Sprintf(format, a...)}
}

func faulted(kind string, err error) ValidationResult {
	ve := &ValidationError{Validator: kind, Err: err}
	return ValidationResult{Kind: Error, Message: ve.Error(), Err: ve}
}

// Validator classifies a response to query. Validators are pure.
type Validator func(query, response string) ValidationResult

// ValidatorSpec is the declarative validator of a test entry.
type ValidatorSpec struct {
	Kind       string   `json:"kind" yaml:"kind" toml:"kind"`
	Values     []string `json:"values" yaml:"values" toml:"values"`
	Pattern    string   `json:"pattern" yaml:"pattern" toml:"pattern"`
	IgnoreCase bool     `json:"ignore_case" yaml:"ignore_case" toml:"ignore_case"`
}

// Validator kinds.
const (
	KindContains    = "contains"
	KindContainsAny = "contains_any"
	KindNotContains = "not_contains"
	KindRegex       = "regex"
	KindEquals      = "equals"
	KindJSON        = "json"
	KindNonEmpty    = "non_empty"
)

// Run applies v and turns a panic into an Error result.
func Run(v Validator, kind, query, response string) (res ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			res = faulted(kind, fmt.Errorf("panic: %v", r))
		}
	}()
	if v == nil {
		return faulted(kind, errors.New("no validator"))
	}
	return v(query, response)
}

// NewValidator builds the validator described by spec.
func NewValidator(spec ValidatorSpec) (Validator, error) {
	kind := strings.ToLower(strings.TrimSpace(spec.Kind))
	fold := func(s string) string {
		if spec.IgnoreCase {
			return strings.ToLower(s)
		}
		return s
	}
	needValues := func() error {
		if len(spec.Values) == 0 {
			return fmt.Errorf("validator %s needs at least one value", kind)
		}
		return nil
	}

	switch kind {
	case KindContains:
		if err := needValues(); err != nil {
			return nil, err
		}
		return func(_, resp string) ValidationResult {
			r := fold(resp)
			for _, v := range spec.Values {
				if !strings.Contains(r, fold(v)) {
					return failed("response does not contain %q", v)
				}
			}
			return passed("response contains %s", quoteAll(spec.Values))
		}, nil

	case KindContainsAny:
		if err := needValues(); err != nil {
			return nil, err
		}
		return func(_, resp string) ValidationResult {
			r := fold(resp)
			for _, v := range spec.Values {
				if strings.Contains(r, fold(v)) {
					return passed("response contains %q", v)
				}
			}
			return failed("response contains none of %s", quoteAll(spec.Values))
		}, nil

	case KindNotContains:
		if err := needValues(); err != nil {
			return nil, err
		}
		return func(_, resp string) ValidationResult {
			r := fold(resp)
			for _, v := range spec.Values {
				if strings.Contains(r, fold(v)) {
					return failed("response contains forbidden %q", v)
				}
			}
			return passed("response avoids %s", quoteAll(spec.Values))
		}, nil

	case KindRegex:
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, errors.New("validator regex needs a pattern")
		}
		pat := spec.Pattern
		if spec.IgnoreCase {
			pat = "(?i)" + pat
		}
		re, cerr := regexp.Compile(pat)
		return func(_, resp string) ValidationResult {
			if cerr != nil {
				return faulted(kind, cerr)
			}
			if re.MatchString(resp) {
				return passed("response matches /%s/", spec.Pattern)
			}
			return failed("response does not match /%s/", spec.Pattern)
		}, nil

	case KindEquals:
		if err := needValues(); err != nil {
			return nil, err
		}
		want := strings.TrimSpace(spec.Values[0])
		return func(_, resp string) ValidationResult {
			got := strings.TrimSpace(resp)
			if got == want || (spec.IgnoreCase && strings.EqualFold(got, want)) {
				return passed("response equals %q", want)
			}
			return failed("response %q != %q", truncate(got, 80), want)
		}, nil

	case KindJSON:
		return func(_, resp string) ValidationResult {
			var doc any
			if err := json.Unmarshal([]byte(extractJSON(resp)), &doc); err != nil {
				return failed("response is not valid JSON: %v", err)
			}
			if len(spec.Values) == 0 {
				return passed("response is valid JSON")
			}
			obj, ok := doc.(map[string]any)
			if !ok {
				return failed("response JSON is not an object")
			}
			for _, k := range spec.Values {
				if _, ok := obj[k]; !ok {
					return failed("response JSON lacks key %q", k)
				}
			}
			return passed("response JSON has keys %s", quoteAll(spec.Values))
		}, nil

	case KindNonEmpty:
		return func(_, resp string) ValidationResult {
			if strings.TrimSpace(resp) == "" {
				return failed("response is empty")
			}
			return passed("response is not empty")
		}, nil

	default:
		return nil, fmt.Errorf("unknown validator kind %q", spec.Kind)
	}
}

// extractJSON strips a surrounding markdown code fence, which models often add.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func quoteAll(vs []string) string {
	q := make([]string, len(vs))
	for i, v := range vs {
		q[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(q, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
