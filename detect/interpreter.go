package detect

import (
	"strconv"

	"gatekeeper/core"
)

// EvaluationState is the terminal state the interpreter reaches for one record
type EvaluationState string

const (
	StateSetupFailed    EvaluationState = "setup_failed"
	StateInputFailed    EvaluationState = "input_failed"
	StatePrimaryErrored EvaluationState = "primary_errored"
	StateEvaluated      EvaluationState = "evaluated"
)

// invalidEventPrefix is prepended to input errors in reports
const invalidEventPrefix = "Invalid event: "

// TestCaseEvaluator reconciles one execution record against one unit test.
// It is a value type; Interpret and State never mutate it.
type TestCaseEvaluator struct {
	kind   core.DetectionKind
	spec   core.TestSpecification
	output core.ExecutionOutput
}

// ForRules interprets records produced by streaming rules
func ForRules(spec core.TestSpecification, output core.ExecutionOutput) TestCaseEvaluator {
	return ForKind(core.KindRule, spec, output)
}

// ForScheduledRules interprets records produced by scheduled rules
func ForScheduledRules(spec core.TestSpecification, output core.ExecutionOutput) TestCaseEvaluator {
	return ForKind(core.KindScheduledRule, spec, output)
}

// ForPolicies interprets records produced by policies
func ForPolicies(spec core.TestSpecification, output core.ExecutionOutput) TestCaseEvaluator {
	return ForKind(core.KindPolicy, spec, output)
}

// ForKind picks the interpretation for an arbitrary detection kind
func ForKind(kind core.DetectionKind, spec core.TestSpecification, output core.ExecutionOutput) TestCaseEvaluator {
	return TestCaseEvaluator{kind: kind, spec: spec, output: output}
}

// Kind returns the detection kind this evaluator interprets for
func (e TestCaseEvaluator) Kind() core.DetectionKind {
	return e.kind
}

// State classifies the record. Setup errors win over input errors, which win over primary errors.
func (e TestCaseEvaluator) State() EvaluationState {
	details := e.output.Details
	switch {
	case details.SetupError != nil:
		return StateSetupFailed
	case details.InputError != nil:
		return StateInputFailed
	case e.primaryErrored():
		return StatePrimaryErrored
	default:
		return StateEvaluated
	}
}

func (e TestCaseEvaluator) primaryErrored() bool {
	return e.output.Details.Primary.Detection.Errored() || e.output.Match.Errored()
}

// Interpret produces the verdict. It is total: every record yields a result.
func (e TestCaseEvaluator) Interpret() core.TestResult {
	details := e.output.Details

	switch e.State() {
	case StateSetupFailed:
		return e.genericFailure(details.SetupError.Render())
	case StateInputFailed:
		return e.genericFailure(invalidEventPrefix + details.InputError.Render())
	case StatePrimaryErrored:
		return e.primaryFailure()
	}
	return e.evaluated()
}

// genericFailure reports a record that never reached the detection body
func (e TestCaseEvaluator) genericFailure(message string) core.TestResult {
	return core.TestResult{
		ID:           e.spec.ID,
		Name:         e.spec.Name,
		GenericError: &message,
		Error:        &core.TestError{Message: message},
		Errored:      true,
		Passed:       false,
		TriggerAlert: true,
	}
}

// primaryFailure reports a detection body that raised or produced an error alert
func (e TestCaseEvaluator) primaryFailure() core.TestResult {
	result := e.baseResult()
	result.Errored = true
	result.Passed = false
	result.TriggerAlert = true
	result.Functions.DetectionFunction = &core.FunctionTestResult{
		Output:  nil,
		Error:   core.NewTestError(e.output.Details.Primary.Detection.Error),
		Matched: false,
	}
	return result
}

// evaluated compares the primary output against the expectation and reconciles aux functions.
// Open question: no recorded execution has several aux errors on an alerting detection, so
// filling every defined slot in that case is unconfirmed (see TestInterpret_SeveralAuxErrorsWhileAlerting).
func (e TestCaseEvaluator) evaluated() core.TestResult {
	details := e.output.Details
	result := e.baseResult()

	primary := false
	if details.Primary.Detection.Output != nil {
		primary = *details.Primary.Detection.Output
	}
	rendered := strconv.FormatBool(primary)
	matched := rendered == e.spec.ExpectedOutput()

	result.Functions.DetectionFunction = &core.FunctionTestResult{
		Output:  &rendered,
		Error:   nil,
		Matched: matched,
	}
	result.Passed = matched
	result.TriggerAlert = e.output.Match != nil
	result.Errored = details.Aux.Errored()

	if !e.kind.AlertsOn(primary) {
		return result
	}

	for _, fn := range core.AllAuxFunctions() {
		outcome := details.Aux.Get(fn)
		if !outcome.Defined {
			continue
		}
		slot := result.Functions.Slot(fn)
		if outcome.Errored() {
			*slot = &core.FunctionTestResult{
				Output:  nil,
				Error:   core.NewTestError(outcome.Error),
				Matched: false,
			}
			result.Passed = false
			continue
		}
		*slot = &core.FunctionTestResult{
			Output:  copyString(outcome.Output),
			Error:   nil,
			Matched: true,
		}
	}
	return result
}

func (e TestCaseEvaluator) baseResult() core.TestResult {
	result := core.TestResult{
		ID:   e.spec.ID,
		Name: e.spec.Name,
	}
	if e.output.Match != nil {
		result.DetectionID = e.output.Match.DetectionID
	}
	return result
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Interpret is a convenience wrapper for one-off interpretation
func Interpret(kind core.DetectionKind, spec core.TestSpecification, output core.ExecutionOutput) core.TestResult {
	return ForKind(kind, spec, output).Interpret()
}
