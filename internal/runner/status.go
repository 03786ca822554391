package runner

import (
	"time"

	"modelbench/internal/suite"
)

// State of one test case within a run.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StatePass    State = "PASS"
	StateFail    State = "FAIL"
)

// Done reports whether s is a final state.
func (s State) Done() bool { return s == StatePass || s == StateFail }

// TestStatus is one state update for a test case.
type TestStatus struct {
	RunID    string
	Name     string
	Domain   suite.Domain
	State    State
	Message  string
	Duration time.Duration
}

// Message prefixes distinguishing why a case failed.
const (
	infraPrefix      = "infrastructure error: "
	validationPrefix = "validation error: "
)
