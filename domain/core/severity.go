package core

import (
	"fmt"
	"strings"
)

// Severity grades a finding produced by a check that should not unwind the caller
type Severity string

const (
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityFatal   Severity = "fatal"
)

// Evidence is one named numeric fact backing a finding or error
type Evidence struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// String formats evidence as name=value
func (e Evidence) String() string {
	return fmt.Sprintf("%s=%.6g", e.Name, e.Value)
}

// Finding is the result of a sanity or validation check
type Finding struct {
	Severity Severity   `json:"severity"`
	Code     string     `json:"code,omitempty"`
	Message  string     `json:"message"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// OK returns a passing finding
func OK(message string) Finding {
	return Finding{Severity: SeverityOK, Message: message}
}

// Warn returns a non-fatal finding
func Warn(code, message string, evidence ...Evidence) Finding {
	return Finding{Severity: SeverityWarning, Code: code, Message: message, Evidence: evidence}
}

// Fatal returns a finding that must stop the run
func Fatal(code, message string, evidence ...Evidence) Finding {
	return Finding{Severity: SeverityFatal, Code: code, Message: message, Evidence: evidence}
}

// IsFatal reports whether the finding stops the run
func (f Finding) IsFatal() bool { return f.Severity == SeverityFatal }

// IsWarning reports whether the finding is a warning
func (f Finding) IsWarning() bool { return f.Severity == SeverityWarning }

// String renders the finding with its evidence
func (f Finding) String() string {
	if len(f.Evidence) == 0 {
		return fmt.Sprintf("[%s] %s", f.Severity, f.Message)
	}
	parts := make([]string, len(f.Evidence))
	for i, e := range f.Evidence {
		parts[i] = e.String()
	}
	return fmt.Sprintf("[%s] %s (%s)", f.Severity, f.Message, strings.Join(parts, ", "))
}
