package oncology

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ehr/hcafhir/internal/domain/identity"
	"github.com/ehr/hcafhir/internal/domain/terminology"
)

// Source columns of the HCA extract.
const (
	ColPatientID   = "PtID"
	ColAge         = "age"
	ColSex         = "Sex"
	ColDiagnosis   = "Diagnosis name"
	ColSurgery     = "Surgery detail"
	ColHER2        = "Her2Neu FISH"
	ColERStatus    = "Receptors ER"
	ColERPct       = "rlReceptorsER Pct"
	ColPRStatus    = "Receptors PR"
	ColPRPct       = "rlReceptorsPR Pct"
	ColNeutrophils = "Abs Neutrophil Count (x10*3/uL)"
	ColPlatelets   = "Platelets (x10*3)"
	ColEGFR        = "eGFR (ml/min)"
	ColChemo1      = "Chemo drug 1"
	ColChemo2      = "Chemo drug 2"
	ColChemo3      = "Chemo drug 3"
	ColEndocrine   = "Endocrine therapy"
)

// MedicationColumns lists the medication slots in emission order.
var MedicationColumns = []string{ColChemo1, ColChemo2, ColChemo3, ColEndocrine}

// Kind names a resource type the renderer knows how to build.
type Kind string

const (
	KindPatient         Kind = "Patient"
	KindCondition       Kind = "Condition"
	KindObservation     Kind = "Observation"
	KindProcedure       Kind = "Procedure"
	KindMedicationOrder Kind = "MedicationOrder"
)

// Observation is either a genomic result (Genomic set, qualitative Result
// plus an optional percentage) or a lab result (a point Quantity or a range
// given by Low and/or High). Raw is the source text the numbers came from.
type Observation struct {
	ID       string
	Genomic  bool
	Code     string
	System   string
	Display  string
	Text     string
	Result   string
	Quantity *decimal.Decimal
	Low      *decimal.Decimal
	High     *decimal.Decimal
	Unit     string
	Raw      string
}

// IsRange reports whether the observation carries at least one bound.
func (o Observation) IsRange() bool {
	return o.Low != nil || o.High != nil
}

// ProcedureEntry is the resolved surgery of a record.
type ProcedureEntry struct {
	ID      string
	Concept terminology.CodedConcept
}

// MedicationEntry is one resolved medication order.
type MedicationEntry struct {
	ID      string
	Concept terminology.CodedConcept
}

// PatientRecord is the normalized form of one row. Every id is assigned
// here so that rendering stays deterministic.
type PatientRecord struct {
	NaturalKey  int64
	PatientID   string
	Sex         identity.Sex
	Identity    identity.Identity
	ConditionID string
	Condition   *terminology.CodedConcept
	Mutations   []Observation
	Labs        []Observation
	Procedure   *ProcedureEntry
	Medications []MedicationEntry
}

// PatientRef returns the relative reference to the record's Patient.
func (r *PatientRecord) PatientRef() string {
	return "Patient/" + r.PatientID
}

// ConditionRef returns the relative reference to the record's Condition.
func (r *PatientRecord) ConditionRef() string {
	return "Condition/" + r.ConditionID
}

// MissingRequiredFieldError is returned under the strict field policy when
// a column the mapping always reads is absent from the row.
type MissingRequiredFieldError struct {
	Column string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("required column %q is missing", e.Column)
}

// InvalidFieldError is returned when a key column cannot be parsed.
type InvalidFieldError struct {
	Column string
	Value  string
	Err    error
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("column %q has invalid value %q: %v", e.Column, e.Value, e.Err)
}

func (e *InvalidFieldError) Unwrap() error {
	return e.Err
}
