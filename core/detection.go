package core

import (
	"fmt"
	"strings"
)

// DetectionKind identifies what sort of detection produced an execution record
type DetectionKind string

const (
	KindRule          DetectionKind = "rule"
	KindScheduledRule DetectionKind = "scheduled_rule"
	KindPolicy        DetectionKind = "policy"
)

// AlertType is the alert_type carried on an execution match
type AlertType string

const (
	AlertTypeRule          AlertType = "RULE"
	AlertTypeScheduledRule AlertType = "SCHEDULED_RULE"
	AlertTypePolicy        AlertType = "POLICY"

	AlertTypeRuleError          AlertType = "RULE_ERROR"
	AlertTypeScheduledRuleError AlertType = "SCHEDULED_RULE_ERROR"
	AlertTypePolicyError        AlertType = "POLICY_ERROR"
)

// AllDetectionKinds returns every supported detection kind
func AllDetectionKinds() []DetectionKind {
	return []DetectionKind{KindRule, KindScheduledRule, KindPolicy}
}

// ParseDetectionKind accepts both the lower-case kind names and the upper-case alert type names
func ParseDetectionKind(s string) (DetectionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rule":
		return KindRule, nil
	case "scheduled_rule":
		return KindScheduledRule, nil
	case "policy":
		return KindPolicy, nil
	}
	return "", fmt.Errorf("unknown detection kind %q", s)
}

// AlertType returns the regular alert type emitted by detections of this kind
func (k DetectionKind) AlertType() AlertType {
	switch k {
	case KindRule:
		return AlertTypeRule
	case KindScheduledRule:
		return AlertTypeScheduledRule
	case KindPolicy:
		return AlertTypePolicy
	}
	return ""
}

// ErrorVariantOf returns the distinguished error alert type for a detection kind
func ErrorVariantOf(k DetectionKind) AlertType {
	switch k {
	case KindRule:
		return AlertTypeRuleError
	case KindScheduledRule:
		return AlertTypeScheduledRuleError
	case KindPolicy:
		return AlertTypePolicyError
	}
	return ""
}

// AlertsOn reports whether a primary function output raises an alert.
// Rules alert on a true result; policies alert when the resource is non-compliant.
func (k DetectionKind) AlertsOn(output bool) bool {
	if k == KindPolicy {
		return !output
	}
	return output
}

// Valid reports whether k is one of the known kinds
func (k DetectionKind) Valid() bool {
	switch k {
	case KindRule, KindScheduledRule, KindPolicy:
		return true
	}
	return false
}

// IsError reports whether the alert type is the error variant of any detection kind
func (a AlertType) IsError() bool {
	switch a {
	case AlertTypeRuleError, AlertTypeScheduledRuleError, AlertTypePolicyError:
		return true
	}
	return false
}

// Kind maps an alert type back to the detection kind that emits it
func (a AlertType) Kind() (DetectionKind, bool) {
	switch a {
	case AlertTypeRule, AlertTypeRuleError:
		return KindRule, true
	case AlertTypeScheduledRule, AlertTypeScheduledRuleError:
		return KindScheduledRule, true
	case AlertTypePolicy, AlertTypePolicyError:
		return KindPolicy, true
	}
	return "", false
}
