package detect

import (
	"time"

	"gatekeeper/core"
)

// DefaultDedupPeriodMins applies when a match does not carry its own period
const DefaultDedupPeriodMins = 60

// AlertDecision is what production alert emission needs to know about one record
type AlertDecision struct {
	InputID         string         `json:"input_id"`
	TriggerAlert    bool           `json:"trigger_alert"`
	Errored         bool           `json:"errored"`
	AlertType       core.AlertType `json:"alert_type,omitempty"`
	DetectionID     string         `json:"detection_id,omitempty"`
	DedupKey        string         `json:"dedup_key,omitempty"`
	DedupPeriodMins int            `json:"dedup_period_mins,omitempty"`
}

// DedupPeriod is the suppression window for DedupKey
func (d AlertDecision) DedupPeriod() time.Duration {
	return time.Duration(d.DedupPeriodMins) * time.Minute
}

// DecideAlert turns an execution record into an alert decision.
// An alert fires when a match is present or anything errored.
func DecideAlert(out core.ExecutionOutput) AlertDecision {
	decision := AlertDecision{
		InputID:      out.InputID,
		TriggerAlert: out.TriggerAlert(),
		Errored:      out.Errored(),
	}
	if out.Match == nil {
		return decision
	}

	decision.AlertType = out.Match.AlertType
	decision.DetectionID = out.Match.DetectionID
	decision.DedupKey = out.Match.DetectionID + ":" + out.Match.DedupString
	decision.DedupPeriodMins = DefaultDedupPeriodMins
	if out.Match.DedupPeriodMins > 0 {
		decision.DedupPeriodMins = out.Match.DedupPeriodMins
	}
	return decision
}
