// Package core defines the data model shared by the pre-filter evaluator, the result
// interpreter and the API.
//
// # Detections
//
// A detection is a rule, a scheduled rule or a policy (DetectionKind). Rules alert when
// their detection function returns true; policies alert when it returns false. Each kind
// has an alert type and an error alert type, used on ExecutionMatch.AlertType.
//
// # Execution records
//
// An ExecutionOutput is what the detection runtime reports for one input event or
// resource: the optional alert payload (ExecutionMatch) and the per-function outcomes
// (ExecutionDetails). Errors travel as ExecError values rendered "Kind: message".
// Outputs arrive in an ExecutionResult whose mode is NONE, INLINE or S3.
//
// # Unit tests
//
// A TestSpecification is a unit test attached to a detection. Interpreting an execution
// record against it yields a TestResult with one FunctionTestResult slot per function.
// TestResult.Status collapses the verdict to PASS, FAIL or ERROR, and an error always
// wins over a pass.
package core
