package oncology

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

const (
	unknownCondition   = "unknown"
	verificationStatus = "confirmed"
)

// Render builds the DSTU2 JSON document of the given kind. focus selects the
// sub-entity for kinds that have several per record: *Observation for
// KindObservation, *ProcedureEntry for KindProcedure and *MedicationEntry for
// KindMedicationOrder. Render has no side effects and the same input always
// yields the same bytes.
func Render(kind Kind, rec *PatientRecord, focus interface{}) ([]byte, error) {
	var doc map[string]interface{}
	switch kind {
	case KindPatient:
		doc = patientDoc(rec)
	case KindCondition:
		doc = conditionDoc(rec)
	case KindObservation:
		obs, ok := focus.(*Observation)
		if !ok || obs == nil {
			return nil, fmt.Errorf("render %s: focus must be *Observation, got %T", kind, focus)
		}
		doc = observationDoc(rec, obs)
	case KindProcedure:
		p, ok := focus.(*ProcedureEntry)
		if !ok || p == nil {
			return nil, fmt.Errorf("render %s: focus must be *ProcedureEntry, got %T", kind, focus)
		}
		doc = procedureDoc(rec, p)
	case KindMedicationOrder:
		m, ok := focus.(*MedicationEntry)
		if !ok || m == nil {
			return nil, fmt.Errorf("render %s: focus must be *MedicationEntry, got %T", kind, focus)
		}
		doc = medicationOrderDoc(rec, m)
	default:
		return nil, fmt.Errorf("render: unknown resource kind %q", kind)
	}
	return json.Marshal(doc)
}

func patientDoc(rec *PatientRecord) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": string(KindPatient),
		"id":           rec.PatientID,
		"active":       true,
		"name": []fhir.HumanName{{
			Use:    "official",
			Family: []string{rec.Identity.Family},
			Given:  []string{rec.Identity.Given},
		}},
		"gender": rec.Sex.Gender(),
	}
	if !rec.Identity.BirthDate.IsZero() {
		result["birthDate"] = rec.Identity.BirthDate.Format("2006-01-02")
	}
	return result
}

func conditionDoc(rec *PatientRecord) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": string(KindCondition),
		"id":           rec.ConditionID,
		"patient":      patientRef(rec),
	}
	if rec.Condition != nil {
		result["code"] = rec.Condition.CodeableConcept()
		result["verificationStatus"] = verificationStatus
	} else {
		result["code"] = fhir.CodeableConcept{Text: unknownCondition}
		result["verificationStatus"] = unknownCondition
	}
	return result
}

func observationDoc(rec *PatientRecord, obs *Observation) map[string]interface{} {
	result := map[string]interface{}{
		"resourceType": string(KindObservation),
		"id":           obs.ID,
		"status":       "final",
		"code": fhir.CodeableConcept{
			Coding: []fhir.Coding{{
				System:  obs.System,
				Code:    obs.Code,
				Display: obs.Display,
			}},
			Text: obs.Text,
		},
		"subject": patientRef(rec),
		"extension": []fhir.Extension{{
			URL:            fhir.RelatedConditionURL,
			ValueReference: &fhir.Reference{Reference: rec.ConditionRef()},
		}},
	}

	switch {
	case obs.Genomic:
		if obs.Quantity != nil {
			result["valueQuantity"] = fhir.UCUMQuantity(*obs.Quantity, obs.Unit)
			if obs.Result != "" {
				result["interpretation"] = fhir.CodeableConcept{Text: obs.Result}
			}
		} else if obs.Result != "" {
			result["valueString"] = obs.Result
		}
	case obs.IsRange():
		r := fhir.Range{}
		if obs.Low != nil {
			r.Low = fhir.UCUMQuantity(*obs.Low, obs.Unit)
		}
		if obs.High != nil {
			r.High = fhir.UCUMQuantity(*obs.High, obs.Unit)
		}
		result["valueRange"] = r
		result["comments"] = obs.Raw
	case obs.Quantity != nil:
		result["valueQuantity"] = fhir.UCUMQuantity(*obs.Quantity, obs.Unit)
	case obs.Raw != "":
		result["valueString"] = obs.Raw
	}
	return result
}

func procedureDoc(rec *PatientRecord, p *ProcedureEntry) map[string]interface{} {
	return map[string]interface{}{
		"resourceType":    string(KindProcedure),
		"id":              p.ID,
		"status":          "completed",
		"subject":         patientRef(rec),
		"code":            p.Concept.CodeableConcept(),
		"reasonReference": conditionRef(rec),
	}
}

func medicationOrderDoc(rec *PatientRecord, m *MedicationEntry) map[string]interface{} {
	return map[string]interface{}{
		"resourceType":              string(KindMedicationOrder),
		"id":                        m.ID,
		"status":                    "active",
		"patient":                   patientRef(rec),
		"medicationCodeableConcept": m.Concept.CodeableConcept(),
		"reasonReference":           conditionRef(rec),
	}
}

func patientRef(rec *PatientRecord) fhir.Reference {
	return fhir.Reference{Reference: rec.PatientRef()}
}

func conditionRef(rec *PatientRecord) fhir.Reference {
	return fhir.Reference{Reference: rec.ConditionRef()}
}
