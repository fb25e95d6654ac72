package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ExecError is an error raised by user detection code inside the external executor.
// It is kept structured until it is rendered for a report.
type ExecError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// exceptionType matches identifiers named like raised error types, e.g. TypeError or builtins.SystemExit
const exceptionType = `[A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Exit|Interrupt|Warning)`

var (
	// TypeError('wrong type') or KeyError("missing")
	reprPattern = regexp.MustCompile(`(?s)^(` + exceptionType + `)\((?:'(.*)'|"(.*)")?\)$`)
	// TypeError: wrong type
	prefixedPattern = regexp.MustCompile(`(?s)^(` + exceptionType + `): ?(.*)$`)
)

// NewExecError builds an ExecError from its parts
func NewExecError(kind, message string) *ExecError {
	return &ExecError{Kind: kind, Message: message}
}

// ParseExecError converts the textual form produced by the executor into an ExecError.
// Only the empty string yields nil; any other text, whitespace included, is kept verbatim.
func ParseExecError(s string) *ExecError {
	if s == "" {
		return nil
	}
	if m := reprPattern.FindStringSubmatch(s); m != nil {
		msg := m[2]
		if msg == "" {
			msg = m[3]
		}
		return &ExecError{Kind: m[1], Message: msg}
	}
	if m := prefixedPattern.FindStringSubmatch(s); m != nil {
		return &ExecError{Kind: m[1], Message: m[2]}
	}
	return &ExecError{Message: s}
}

// Error implements the error interface
func (e *ExecError) Error() string {
	return e.Render()
}

// Render returns the reporting form "Kind: Message"
func (e *ExecError) Render() string {
	if e == nil {
		return ""
	}
	if e.Kind == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// MarshalJSON emits the rendered string so records stay compatible with the executor
func (e *ExecError) MarshalJSON() ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return json.Marshal(e.Render())
}

// UnmarshalJSON accepts either a string in any of the executor's forms or a {kind, message} object
func (e *ExecError) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*e = ExecError{}
		return nil
	}

	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode error string: %w", err)
		}
		parsed := ParseExecError(s)
		if parsed == nil {
			*e = ExecError{}
			return nil
		}
		*e = *parsed
		return nil
	}

	type plain ExecError
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("failed to decode error object: %w", err)
	}
	*e = ExecError(obj)
	return nil
}

// MarshalText/UnmarshalText let non-JSON codecs (msgpack, yaml) carry the rendered string

// MarshalText implements encoding.TextMarshaler
func (e *ExecError) MarshalText() ([]byte, error) {
	return []byte(e.Render()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *ExecError) UnmarshalText(text []byte) error {
	parsed := ParseExecError(string(text))
	if parsed == nil {
		*e = ExecError{}
		return nil
	}
	*e = *parsed
	return nil
}

// isEmpty reports whether a decoded error carries no information at all.
// The executor encodes "no error" as null or an empty string; whitespace is a real message.
func (e *ExecError) isEmpty() bool {
	return e == nil || (e.Kind == "" && e.Message == "")
}

// normalizeError collapses empty decoded errors to nil
func normalizeError(e *ExecError) *ExecError {
	if e.isEmpty() {
		return nil
	}
	return e
}
