package probe

import (
	"fmt"
	"time"

	"github.com/calvinalkan/handleprobe/internal/fs"
)

// Status is the outcome of a single check.
type Status string

const (
	StatusPass Status = "pass"
	// StatusSkip means the check could not be performed, e.g. the backend
	// can't resolve a handle's path.
	StatusSkip Status = "skip"
	// StatusAnomaly is a known, reported divergence that is not a bug in
	// the file system under test.
	StatusAnomaly Status = "anomaly"
	// StatusAbort ends the current iteration; the scenario continues.
	StatusAbort Status = "abort"
	StatusFail  Status = "fail"
	// StatusFatal ends the current scenario.
	StatusFatal Status = "fatal"
)

// severity orders statuses from best to worst.
func (s Status) severity() int {
	switch s {
	case StatusPass:
		return 0
	case StatusSkip:
		return 1
	case StatusAnomaly:
		return 2
	case StatusAbort:
		return 3
	case StatusFail:
		return 4
	case StatusFatal:
		return 5
	default:
		return 5
	}
}

// Check is the result of one step of an iteration.
type Check struct {
	Step    string `json:"step" yaml:"step"`
	Status  Status `json:"status" yaml:"status"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// OpenAttempt records one open of the conflict matrix.
type OpenAttempt struct {
	Access string `json:"access" yaml:"access"`
	Share  string `json:"share" yaml:"share"`
	Opened bool   `json:"opened" yaml:"opened"`
	// Handle is the value the backend issued. Zero when the open failed.
	Handle uintptr `json:"handle,omitempty" yaml:"handle,omitempty"`
	Error  string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Conflict is the observation of one ordered pair of the conflict matrix.
type Conflict struct {
	First  OpenAttempt `json:"first" yaml:"first"`
	Second OpenAttempt `json:"second" yaml:"second"`
	// Expected is whether the backend's share model predicts the second
	// open to succeed. Nil when the first open failed.
	Expected *bool `json:"expected,omitempty" yaml:"expected,omitempty"`
}

// Iteration is one combination or strategy of a scenario.
type Iteration struct {
	Scenario       string       `json:"scenario" yaml:"scenario"`
	Label          string       `json:"label" yaml:"label"`
	Checks         []Check      `json:"checks" yaml:"checks"`
	Conflict       *Conflict    `json:"conflict,omitempty" yaml:"conflict,omitempty"`
	IdentityBefore *fs.Identity `json:"identity_before,omitempty" yaml:"identity_before,omitempty"`
	IdentityAfter  *fs.Identity `json:"identity_after,omitempty" yaml:"identity_after,omitempty"`
	Aborted        bool         `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// Status returns the worst status of the iteration's checks.
func (it Iteration) Status() Status {
	worst := StatusPass
	if it.Aborted {
		worst = StatusAbort
	}

	for _, c := range it.Checks {
		if c.Status.severity() > worst.severity() {
			worst = c.Status
		}
	}

	return worst
}

// Check returns the check recorded for step, if any.
func (it Iteration) Check(step string) (Check, bool) {
	for _, c := range it.Checks {
		if c.Step == step {
			return c, true
		}
	}

	return Check{}, false
}

// ScenarioReport collects the iterations of one scenario.
type ScenarioReport struct {
	Name       string      `json:"name" yaml:"name"`
	Iterations []Iteration `json:"iterations" yaml:"iterations"`
	// Fatal is the error that ended the scenario early, if any.
	Fatal string `json:"fatal,omitempty" yaml:"fatal,omitempty"`
	// Skipped lists the iterations that did not run because of Fatal.
	Skipped []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Summary counts iterations by their worst status.
type Summary struct {
	Iterations     int `json:"iterations" yaml:"iterations"`
	Passed         int `json:"passed" yaml:"passed"`
	Anomalies      int `json:"anomalies" yaml:"anomalies"`
	Aborted        int `json:"aborted" yaml:"aborted"`
	Failed         int `json:"failed" yaml:"failed"`
	Skipped        int `json:"skipped" yaml:"skipped"`
	FatalScenarios int `json:"fatal_scenarios" yaml:"fatal_scenarios"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d iterations: %d passed, %d anomalies, %d aborted, %d failed, %d skipped, %d fatal scenarios",
		s.Iterations, s.Passed, s.Anomalies, s.Aborted, s.Failed, s.Skipped, s.FatalScenarios)
}

// Report is the structured result of a run.
type Report struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	Backend    string           `json:"backend" yaml:"backend"`
	ShareModel string           `json:"share_model" yaml:"share_model"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Scenarios  []ScenarioReport `json:"scenarios" yaml:"scenarios"`
	Summary    Summary          `json:"summary" yaml:"summary"`
}

// HasFailures reports whether any iteration failed or aborted, or any
// scenario ended fatally. Anomalies and skips don't count.
func (r *Report) HasFailures() bool {
	return r.Summary.Failed > 0 || r.Summary.Aborted > 0 || r.Summary.FatalScenarios > 0
}

// Scenario returns the report of the named scenario.
func (r *Report) Scenario(name string) (ScenarioReport, bool) {
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s, true
		}
	}

	return ScenarioReport{}, false
}

func (r *Report) summarize() {
	var s Summary

	for _, sc := range r.Scenarios {
		if sc.Fatal != "" {
			s.FatalScenarios++
		}

		s.Skipped += len(sc.Skipped)

		for _, it := range sc.Iterations {
			s.Iterations++

			switch it.Status() {
			case StatusPass, StatusSkip:
				s.Passed++
			case StatusAnomaly:
				s.Anomalies++
			case StatusAbort:
				s.Aborted++
			case StatusFail, StatusFatal:
				s.Failed++
			}
		}
	}

	r.Summary = s
}

// FatalError reports a step whose failure ends the current scenario.
type FatalError struct {
	Scenario string
	Label    string
	Step     string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s [%s] %s: %v", e.Scenario, e.Label, e.Step, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
