package fhir

import (
	"encoding/json"
	"testing"
)

func TestParseOutcome(t *testing.T) {
	oo := InvalidOutcome("resource id does not match url")
	body, _ := json.Marshal(oo)

	parsed := ParseOutcome(body)
	if parsed == nil {
		t.Fatal("expected outcome")
	}
	if !parsed.HasErrors() {
		t.Error("expected HasErrors")
	}
	if got := parsed.Summary(); got != "error/invalid: resource id does not match url" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestParseOutcome_NotAnOutcome(t *testing.T) {
	for _, body := range []string{``, `{"resourceType":"Patient","id":"p"}`, `{"resourceType":"OperationOutcome","issue":[]}`, `oops`} {
		if ParseOutcome([]byte(body)) != nil {
			t.Errorf("expected nil for %q", body)
		}
	}
}

func TestOutcome_SummaryFallsBackToDetails(t *testing.T) {
	oo := &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: IssueSeverityWarning, Code: IssueTypeValue, Details: &CodeableConcept{Text: "odd value"}},
		},
	}
	if oo.HasErrors() {
		t.Error("warning only outcome should not report errors")
	}
	if got := oo.Summary(); got != "warning/value: odd value" {
		t.Errorf("unexpected summary %q", got)
	}
	if nf := NotFoundOutcome("Patient", "p1"); nf.Issue[0].Code != IssueTypeNotFound {
		t.Errorf("unexpected code %q", nf.Issue[0].Code)
	}
}
