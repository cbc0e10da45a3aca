package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationOutcome severity levels.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeStructure    = "structure"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// InvalidOutcome creates an OperationOutcome for a structurally invalid request.
func InvalidOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, diagnostics)
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// Summary joins the issues into one line, e.g. "error/invalid: id mismatch".
func (o *OperationOutcome) Summary() string {
	parts := make([]string, 0, len(o.Issue))
	for _, issue := range o.Issue {
		text := issue.Diagnostics
		if text == "" && issue.Details != nil {
			text = issue.Details.Text
		}
		parts = append(parts, fmt.Sprintf("%s/%s: %s", issue.Severity, issue.Code, text))
	}
	return strings.Join(parts, "; ")
}

// ParseOutcome decodes body as an OperationOutcome. It returns nil when the
// body is something else, which servers are free to send on errors.
func ParseOutcome(body []byte) *OperationOutcome {
	var oo OperationOutcome
	if err := json.Unmarshal(body, &oo); err != nil {
		return nil
	}
	if oo.ResourceType != "OperationOutcome" || len(oo.Issue) == 0 {
		return nil
	}
	return &oo
}
