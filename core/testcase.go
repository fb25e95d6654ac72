package core

import "strconv"

// TestExpectations holds what a unit test expects from the detection
type TestExpectations struct {
	Detection bool `json:"detection" yaml:"detection"`
}

// TestSpecification is a single unit test attached to a detection
type TestSpecification struct {
	ID           string           `json:"id" yaml:"id" validate:"required"`
	Name         string           `json:"name" yaml:"name" validate:"required"`
	Data         map[string]any   `json:"data" yaml:"data"`
	Mocks        []map[string]any `json:"mocks" yaml:"mocks"`
	Expectations TestExpectations `json:"expectations" yaml:"expectations"`
}

// ExpectedOutput returns the expectation in the same string form as a rendered primary output
func (s TestSpecification) ExpectedOutput() string {
	return strconv.FormatBool(s.Expectations.Detection)
}

// TestError is the reported form of an error
type TestError struct {
	Message string `json:"message"`
}

// NewTestError renders an ExecError into a TestError; nil stays nil
func NewTestError(e *ExecError) *TestError {
	if e == nil {
		return nil
	}
	return &TestError{Message: e.Render()}
}

// FunctionTestResult is the verdict for one function of a detection
type FunctionTestResult struct {
	Output  *string    `json:"output"`
	Error   *TestError `json:"error"`
	Matched bool       `json:"matched"`
}

// TestResultsPerFunction has one optional slot per detection function
type TestResultsPerFunction struct {
	DetectionFunction    *FunctionTestResult `json:"detectionFunction"`
	TitleFunction        *FunctionTestResult `json:"titleFunction"`
	DedupFunction        *FunctionTestResult `json:"dedupFunction"`
	AlertContextFunction *FunctionTestResult `json:"alertContextFunction"`
	DescriptionFunction  *FunctionTestResult `json:"descriptionFunction"`
	ReferenceFunction    *FunctionTestResult `json:"referenceFunction"`
	SeverityFunction     *FunctionTestResult `json:"severityFunction"`
	RunbookFunction      *FunctionTestResult `json:"runbookFunction"`
	DestinationsFunction *FunctionTestResult `json:"destinationsFunction"`
}

// Slot returns a pointer to the slot for an auxiliary function, or nil for an unknown name
func (f *TestResultsPerFunction) Slot(fn AuxFunction) **FunctionTestResult {
	switch fn {
	case AuxTitle:
		return &f.TitleFunction
	case AuxDedup:
		return &f.DedupFunction
	case AuxSeverity:
		return &f.SeverityFunction
	case AuxRunbook:
		return &f.RunbookFunction
	case AuxReference:
		return &f.ReferenceFunction
	case AuxDescription:
		return &f.DescriptionFunction
	case AuxDestinations:
		return &f.DestinationsFunction
	case AuxAlertContext:
		return &f.AlertContextFunction
	}
	return nil
}

// Populated returns the number of filled slots, the detection slot included
func (f TestResultsPerFunction) Populated() int {
	n := 0
	if f.DetectionFunction != nil {
		n++
	}
	for _, fn := range AllAuxFunctions() {
		if *f.Slot(fn) != nil {
			n++
		}
	}
	return n
}

// TestResult is the verdict of interpreting one execution record against one test
type TestResult struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	DetectionID  string                 `json:"detectionId"`
	GenericError *string                `json:"genericError"`
	Error        *TestError             `json:"error"`
	Errored      bool                   `json:"errored"`
	Passed       bool                   `json:"passed"`
	TriggerAlert bool                   `json:"trigger_alert"`
	Functions    TestResultsPerFunction `json:"functions"`
}

// Status collapses the verdict for reporting. Any error wins over a pass.
func (r TestResult) Status() string {
	switch {
	case r.Errored:
		return "ERROR"
	case r.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}
