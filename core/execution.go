package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AuxFunction names one of the auxiliary functions a detection may define
type AuxFunction string

const (
	AuxTitle        AuxFunction = "title"
	AuxDedup        AuxFunction = "dedup"
	AuxSeverity     AuxFunction = "severity"
	AuxRunbook      AuxFunction = "runbook"
	AuxReference    AuxFunction = "reference"
	AuxDescription  AuxFunction = "description"
	AuxDestinations AuxFunction = "destinations"
	AuxAlertContext AuxFunction = "alert_context"
)

// AllAuxFunctions returns the auxiliary functions in reporting order
func AllAuxFunctions() []AuxFunction {
	return []AuxFunction{
		AuxTitle,
		AuxDedup,
		AuxSeverity,
		AuxRunbook,
		AuxReference,
		AuxDescription,
		AuxDestinations,
		AuxAlertContext,
	}
}

// PrimaryOutcome is the result of running the detection body
type PrimaryOutcome struct {
	Error  *ExecError `json:"error"`
	Output *bool      `json:"output"`
}

// Errored reports whether the detection body raised
func (p PrimaryOutcome) Errored() bool {
	return p.Error != nil
}

// UnmarshalJSON normalizes empty error strings to nil
func (p *PrimaryOutcome) UnmarshalJSON(data []byte) error {
	type plain PrimaryOutcome
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.Error = normalizeError(v.Error)
	*p = PrimaryOutcome(v)
	return nil
}

// AuxOutcome is the result of one auxiliary function
type AuxOutcome struct {
	Defined bool       `json:"defined"`
	Error   *ExecError `json:"error"`
	Output  *string    `json:"output"`
}

// Errored reports whether the auxiliary function raised
func (a AuxOutcome) Errored() bool {
	return a.Error != nil
}

// UnmarshalJSON normalizes empty error strings to nil
func (a *AuxOutcome) UnmarshalJSON(data []byte) error {
	type plain AuxOutcome
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.Error = normalizeError(v.Error)
	*a = AuxOutcome(v)
	return nil
}

// AuxOutcomes holds the outcome of all eight auxiliary functions
type AuxOutcomes struct {
	Title        AuxOutcome `json:"title"`
	Dedup        AuxOutcome `json:"dedup"`
	Severity     AuxOutcome `json:"severity"`
	Runbook      AuxOutcome `json:"runbook"`
	Reference    AuxOutcome `json:"reference"`
	Description  AuxOutcome `json:"description"`
	Destinations AuxOutcome `json:"destinations"`
	AlertContext AuxOutcome `json:"alert_context"`
}

// Get returns the outcome for the named function
func (a AuxOutcomes) Get(fn AuxFunction) AuxOutcome {
	switch fn {
	case AuxTitle:
		return a.Title
	case AuxDedup:
		return a.Dedup
	case AuxSeverity:
		return a.Severity
	case AuxRunbook:
		return a.Runbook
	case AuxReference:
		return a.Reference
	case AuxDescription:
		return a.Description
	case AuxDestinations:
		return a.Destinations
	case AuxAlertContext:
		return a.AlertContext
	}
	return AuxOutcome{}
}

// Set replaces the outcome for the named function
func (a *AuxOutcomes) Set(fn AuxFunction, outcome AuxOutcome) {
	switch fn {
	case AuxTitle:
		a.Title = outcome
	case AuxDedup:
		a.Dedup = outcome
	case AuxSeverity:
		a.Severity = outcome
	case AuxRunbook:
		a.Runbook = outcome
	case AuxReference:
		a.Reference = outcome
	case AuxDescription:
		a.Description = outcome
	case AuxDestinations:
		a.Destinations = outcome
	case AuxAlertContext:
		a.AlertContext = outcome
	}
}

// Errored reports whether any auxiliary function raised, defined or not
func (a AuxOutcomes) Errored() bool {
	for _, fn := range AllAuxFunctions() {
		if a.Get(fn).Errored() {
			return true
		}
	}
	return false
}

// PrimaryFunctions wraps the primary outcome under its wire key
type PrimaryFunctions struct {
	Detection PrimaryOutcome `json:"detection"`
}

// ExecutionDetails carries the per-function outcomes of one detection run.
// SetupError and InputError short-circuit everything else.
type ExecutionDetails struct {
	SetupError *ExecError       `json:"setup_exception"`
	InputError *ExecError       `json:"input_exception"`
	Primary    PrimaryFunctions `json:"primary_functions"`
	Aux        AuxOutcomes      `json:"aux_functions"`
}

// UnmarshalJSON normalizes empty error strings to nil
func (d *ExecutionDetails) UnmarshalJSON(data []byte) error {
	type plain ExecutionDetails
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	v.SetupError = normalizeError(v.SetupError)
	v.InputError = normalizeError(v.InputError)
	*d = ExecutionDetails(v)
	return nil
}

// Normalize collapses empty error values to nil. Codecs other than JSON call it after decoding.
func (d *ExecutionDetails) Normalize() {
	d.SetupError = normalizeError(d.SetupError)
	d.InputError = normalizeError(d.InputError)
	d.Primary.Detection.Error = normalizeError(d.Primary.Detection.Error)
	for _, fn := range AllAuxFunctions() {
		outcome := d.Aux.Get(fn)
		outcome.Error = normalizeError(outcome.Error)
		d.Aux.Set(fn, outcome)
	}
}

// Errored is the OR of setup, input, primary and auxiliary errors
func (d ExecutionDetails) Errored() bool {
	return d.SetupError != nil ||
		d.InputError != nil ||
		d.Primary.Detection.Errored() ||
		d.Aux.Errored()
}

// ExecutionMatch is the alert payload produced when a detection matched or errored
type ExecutionMatch struct {
	AlertType        AlertType           `json:"alert_type"`
	DetectionType    string              `json:"detection_type"`
	DetectionID      string              `json:"detection_id"`
	DetectionVersion string              `json:"detection_version"`
	DetectionTags    []string            `json:"detection_tags"`
	DetectionReports map[string][]string `json:"detection_reports"`
	DetectionSev     string              `json:"detection_severity"`
	DedupString      string              `json:"dedup_string"`
	DedupPeriodMins  int                 `json:"dedup_period_mins"`
	Event            map[string]any      `json:"event"`

	EventID  *string `json:"event_id,omitempty"`
	ReplayID *string `json:"replay_id,omitempty"`

	Severity     *string  `json:"severity,omitempty"`
	AlertContext *string  `json:"alert_context,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Destinations []string `json:"destinations,omitempty"`
	Reference    *string  `json:"reference,omitempty"`
	Runbook      *string  `json:"runbook,omitempty"`
	Title        *string  `json:"title,omitempty"`
}

// Errored reports whether the match carries an error alert type
func (m *ExecutionMatch) Errored() bool {
	return m != nil && m.AlertType.IsError()
}

// ExecutionOutput is the executor's record for one input
type ExecutionOutput struct {
	InputID string           `json:"input_id"`
	Match   *ExecutionMatch  `json:"match"`
	Details ExecutionDetails `json:"details"`
}

// Errored reports whether either the match or the details carry an error
func (o ExecutionOutput) Errored() bool {
	return o.Match.Errored() || o.Details.Errored()
}

// TriggerAlert reports whether this record must produce an alert
func (o ExecutionOutput) TriggerAlert() bool {
	return o.Match != nil || o.Errored()
}

// ExecutionMode tells where the executor reads or writes a payload
type ExecutionMode string

const (
	ModeS3     ExecutionMode = "S3"
	ModeNone   ExecutionMode = "NONE"
	ModeInline ExecutionMode = "INLINE"
)

// ErrUnsupportedMode is returned for an execution mode outside S3, NONE and INLINE
var ErrUnsupportedMode = errors.New("unsupported execution mode")

// ParseExecutionMode validates a mode read off the wire
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch ExecutionMode(s) {
	case ModeS3, ModeNone, ModeInline:
		return ExecutionMode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

// ExecutionResult is the batch envelope returned by the executor
type ExecutionResult struct {
	OutputMode ExecutionMode     `json:"output_mode"`
	URL        *string           `json:"url"`
	Data       []ExecutionOutput `json:"data"`
}

// Validate checks the output mode and that S3 results point somewhere
func (r ExecutionResult) Validate() error {
	if _, err := ParseExecutionMode(string(r.OutputMode)); err != nil {
		return err
	}
	if r.OutputMode == ModeS3 && (r.URL == nil || *r.URL == "") {
		return errors.New("S3 output mode requires a url")
	}
	return nil
}

// Input id fields used by the executor to label each row
const (
	EventInputIDField    = "p_row_id"
	ResourceInputIDField = "resourceId"
)

// ExecutionTaskInput describes the rows handed to the executor
type ExecutionTaskInput struct {
	Mode         ExecutionMode `json:"mode"`
	URL          *string       `json:"url"`
	Rows         []any         `json:"rows"`
	InputIDField string        `json:"input_id_field"`
}

// InlineEvents builds an inline task input for log events
func InlineEvents(rows []any) ExecutionTaskInput {
	return ExecutionTaskInput{Mode: ModeInline, Rows: rows, InputIDField: EventInputIDField}
}

// InlineResources builds an inline task input for cloud resources
func InlineResources(rows []any) ExecutionTaskInput {
	return ExecutionTaskInput{Mode: ModeInline, Rows: rows, InputIDField: ResourceInputIDField}
}

// ExecutionTaskOutput tells the executor where to put results
type ExecutionTaskOutput struct {
	Mode ExecutionMode `json:"mode"`
	URL  *string       `json:"url"`
}

// InlineOutput requests results in the response body
func InlineOutput() ExecutionTaskOutput {
	return ExecutionTaskOutput{Mode: ModeInline}
}

// ExecutionTaskOptions toggles optional executor behaviour
type ExecutionTaskOptions struct {
	ExecutionDetails bool `json:"execution_details"`
}

// ExecutionEnv is the code environment shipped to the executor
type ExecutionEnv struct {
	Globals    []map[string]any `json:"globals"`
	Detections []map[string]any `json:"detections"`
	DataModels []map[string]any `json:"data_models"`
}

// ExecutionTaskEnv wraps the environment with its transport mode
type ExecutionTaskEnv struct {
	Mode ExecutionMode `json:"mode"`
	URL  *string       `json:"url"`
	Env  *ExecutionEnv `json:"env"`
}

// InlineEnv ships the environment in the task body
func InlineEnv(env ExecutionEnv) ExecutionTaskEnv {
	return ExecutionTaskEnv{Mode: ModeInline, Env: &env}
}

// ExecutionTask is the request envelope sent to the executor
type ExecutionTask struct {
	Env     ExecutionTaskEnv     `json:"env"`
	Input   ExecutionTaskInput   `json:"input"`
	Output  ExecutionTaskOutput  `json:"output"`
	Options ExecutionTaskOptions `json:"options"`
}
