package fhir

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code systems used by the HCA mapping.
const (
	SystemSNOMED = "http://snomed.info/sct"
	SystemLOINC  = "http://loinc.org"
	SystemRxNorm = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemHGNC   = "http://www.genenames.org"
	SystemUCUM   = "http://unitsofmeasure.org"
)

// ContentType is the DSTU2 JSON media type.
const ContentType = "application/json+fhir"

// Version is the FHIR release the payloads conform to.
const Version = "1.0.2"

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

type Identifier struct {
	Use    string `json:"use,omitempty"`
	System string `json:"system,omitempty"`
	Value  string `json:"value,omitempty"`
}

// HumanName follows DSTU2, where family is repeating.
type HumanName struct {
	Use    string   `json:"use,omitempty"`
	Family []string `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
}

type Extension struct {
	URL            string     `json:"url"`
	ValueString    string     `json:"valueString,omitempty"`
	ValueReference *Reference `json:"valueReference,omitempty"`
}

// Quantity keeps its value as a decimal so the source precision survives.
type Quantity struct {
	Value  decimal.Decimal
	Unit   string
	System string
	Code   string
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value  json.Number `json:"value"`
		Unit   string      `json:"unit,omitempty"`
		System string      `json:"system,omitempty"`
		Code   string      `json:"code,omitempty"`
	}{
		Value:  json.Number(q.Value.String()),
		Unit:   q.Unit,
		System: q.System,
		Code:   q.Code,
	})
}

type Range struct {
	Low  *Quantity `json:"low,omitempty"`
	High *Quantity `json:"high,omitempty"`
}

// UCUMQuantity builds a Quantity whose unit is a UCUM code.
func UCUMQuantity(value decimal.Decimal, unit string) *Quantity {
	return &Quantity{Value: value, Unit: unit, System: SystemUCUM, Code: unit}
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// Resource is one rendered payload. Type and ID are read back out of Body so
// that they can never disagree with what is sent.
type Resource struct {
	Type string
	ID   string
	Body json.RawMessage
}

// NewResource wraps a rendered document, extracting its resourceType and id.
func NewResource(body []byte) (Resource, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return Resource{}, fmt.Errorf("parse resource: %w", err)
	}
	if head.ResourceType == "" {
		return Resource{}, fmt.Errorf("resource has no resourceType")
	}
	if head.ID == "" {
		return Resource{}, fmt.Errorf("%s resource has no id", head.ResourceType)
	}
	return Resource{Type: head.ResourceType, ID: head.ID, Body: json.RawMessage(body)}, nil
}

// Ref returns the relative reference to the resource.
func (r Resource) Ref() string {
	return FormatReference(r.Type, r.ID)
}
