package oncology

import (
	"fmt"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

// Assembler renders a record into its ordered resource list.
type Assembler struct {
	links *fhir.LinkChecker
}

func NewAssembler() *Assembler {
	return &Assembler{links: fhir.NewLinkChecker()}
}

// Assemble emits Patient, Condition, one Observation per mutation, one
// Observation per lab, the Procedure if any and one MedicationOrder per
// medication, in that order. Every resource after the Patient must point
// back at the record's Patient and Condition or assembly fails with
// *fhir.LinkError.
func (a *Assembler) Assemble(rec *PatientRecord) ([]fhir.Resource, error) {
	out := make([]fhir.Resource, 0, 2+len(rec.Mutations)+len(rec.Labs)+1+len(rec.Medications))

	add := func(kind Kind, focus interface{}) error {
		body, err := Render(kind, rec, focus)
		if err != nil {
			return err
		}
		r, err := fhir.NewResource(body)
		if err != nil {
			return fmt.Errorf("assemble %s: %w", kind, err)
		}
		switch kind {
		case KindPatient:
		case KindCondition:
			if err := a.links.CheckPatient(r, rec.PatientRef()); err != nil {
				return err
			}
		default:
			if err := a.links.Check(r, rec.PatientRef(), rec.ConditionRef()); err != nil {
				return err
			}
		}
		out = append(out, r)
		return nil
	}

	if err := add(KindPatient, nil); err != nil {
		return nil, err
	}
	if err := add(KindCondition, nil); err != nil {
		return nil, err
	}
	for i := range rec.Mutations {
		if err := add(KindObservation, &rec.Mutations[i]); err != nil {
			return nil, err
		}
	}
	for i := range rec.Labs {
		if err := add(KindObservation, &rec.Labs[i]); err != nil {
			return nil, err
		}
	}
	if rec.Procedure != nil {
		if err := add(KindProcedure, rec.Procedure); err != nil {
			return nil, err
		}
	}
	for i := range rec.Medications {
		if err := add(KindMedicationOrder, &rec.Medications[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
