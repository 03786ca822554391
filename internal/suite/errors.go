package suite

import (
	"errors"
	"fmt"
)

// SuiteLoadError reports a missing or malformed test suite. Entry is the
// zero-based index of the offending test, or -1 for file-level problems.
type SuiteLoadError struct {
	Path  string
	Entry int
	Name  string
	Err   error
}

func (e *SuiteLoadError) Error() string {
	switch {
	case e.Entry < 0:
		return fmt.Sprintf("load suite %s: %v", e.Path, e.Err)
	case e.Name != "":
		return fmt.Sprintf("load suite %s: test %d (%q): %v", e.Path, e.Entry, e.Name, e.Err)
	default:
		return fmt.Sprintf("load suite %s: test %d: %v", e.Path, e.Entry, e.Err)
	}
}

func (e *SuiteLoadError) Unwrap() error { return e.Err }

// IsSuiteLoad reports whether err is or wraps a SuiteLoadError.
func IsSuiteLoad(err error) bool {
	var se *SuiteLoadError
	return errors.As(err, &se)
}

// ValidationError reports a validator fault, as opposed to a failed check.
type ValidationError struct {
	Validator string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validator %s: %v", e.Validator, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
