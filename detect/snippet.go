package detect

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSnippet is returned when a snippet definition is missing required fields
	ErrInvalidSnippet = errors.New("invalid snippet")
)

// ConfigError names the snippet field that made a definition unusable
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid snippet field '%s': %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid snippet field '%s'", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidSnippet
}

// Snippet is a reusable, named pre-filter attached to detections
type Snippet struct {
	ID   string
	Type string
	When *PreFilter
}

// NewSnippet builds a snippet from its decoded definition.
// id and type must be strings. A missing or non-mapping when compiles to a filter that matches nothing.
func NewSnippet(cfg map[string]any) (*Snippet, error) {
	id, err := requiredString(cfg, "id")
	if err != nil {
		return nil, err
	}
	typ, err := requiredString(cfg, "type")
	if err != nil {
		return nil, err
	}

	return &Snippet{
		ID:   id,
		Type: typ,
		When: CompilePreFilterMap(asStringMap(cfg["when"])),
	}, nil
}

func requiredString(cfg map[string]any, field string) (string, error) {
	raw, ok := cfg[field]
	if !ok {
		return "", &ConfigError{Field: field, Reason: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ConfigError{Field: field, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	return s, nil
}

// Prefilter reports whether the event passes the snippet's gate
func (s *Snippet) Prefilter(event map[string]any) bool {
	if s == nil {
		return false
	}
	return s.When.Filter(event)
}

// PrefilterAll gates every event in order
func (s *Snippet) PrefilterAll(events []map[string]any) []bool {
	results := make([]bool, len(events))
	for i, event := range events {
		results[i] = s.Prefilter(event)
	}
	return results
}
