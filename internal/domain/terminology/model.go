package terminology

import (
	"fmt"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

// Code system URIs.
const (
	SystemSNOMED = fhir.SystemSNOMED
	SystemRxNorm = fhir.SystemRxNorm
)

// CodedConcept binds a free-text label to a terminology code. Text is the
// label exactly as it appeared in the source row.
type CodedConcept struct {
	Text    string `json:"text"`
	Code    string `json:"code"`
	System  string `json:"system"`
	Display string `json:"display"`
}

// CodeableConcept renders the concept as a FHIR CodeableConcept.
func (c CodedConcept) CodeableConcept() fhir.CodeableConcept {
	return fhir.CodeableConcept{
		Coding: []fhir.Coding{{
			System:  c.System,
			Code:    c.Code,
			Display: c.Display,
		}},
		Text: c.Text,
	}
}

// Entry is one row of a lookup document. Older documents key the code by
// its terminology name ("snomed", "rxnorm"), newer ones use "code".
type Entry struct {
	Code    string `json:"code" yaml:"code"`
	SNOMED  string `json:"snomed" yaml:"snomed"`
	RxNorm  string `json:"rxnorm" yaml:"rxnorm"`
	System  string `json:"system" yaml:"system"`
	Display string `json:"display" yaml:"display"`
}

func (e Entry) code() string {
	switch {
	case e.Code != "":
		return e.Code
	case e.SNOMED != "":
		return e.SNOMED
	default:
		return e.RxNorm
	}
}

// UnmappedTermError is returned when a label has no entry in its table.
type UnmappedTermError struct {
	Table string
	Text  string
}

func (e *UnmappedTermError) Error() string {
	return fmt.Sprintf("%s table has no mapping for %q", e.Table, e.Text)
}
