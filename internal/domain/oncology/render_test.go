package oncology

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

func renderMap(t *testing.T, kind Kind, rec *PatientRecord, focus interface{}) map[string]interface{} {
	t.Helper()
	body, err := Render(kind, rec, focus)
	if err != nil {
		t.Fatalf("Render(%s): %v", kind, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func normalizedRecord(t *testing.T) *PatientRecord {
	t.Helper()
	rec, err := testNormalizer(t).Normalize(fullRow())
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestRender_Patient(t *testing.T) {
	rec := normalizedRecord(t)
	m := renderMap(t, KindPatient, rec, nil)

	if m["resourceType"] != "Patient" || m["id"] != "hca-pat-42" || m["gender"] != "male" {
		t.Errorf("unexpected patient %v", m)
	}
	names := m["name"].([]interface{})
	name := names[0].(map[string]interface{})
	if name["family"].([]interface{})[0] != rec.Identity.Family {
		t.Errorf("family = %v", name["family"])
	}
	if m["birthDate"] != rec.Identity.BirthDate.Format("2006-01-02") {
		t.Errorf("birthDate = %v", m["birthDate"])
	}
}

func TestRender_Condition(t *testing.T) {
	rec := normalizedRecord(t)
	m := renderMap(t, KindCondition, rec, nil)

	if m["patient"].(map[string]interface{})["reference"] != "Patient/hca-pat-42" {
		t.Errorf("patient = %v", m["patient"])
	}
	code := m["code"].(map[string]interface{})
	if code["text"] != "Invasive ductal carcinoma" {
		t.Errorf("code.text = %v", code["text"])
	}
	coding := code["coding"].([]interface{})[0].(map[string]interface{})
	if coding["code"] != "408643008" || coding["system"] != fhir.SystemSNOMED {
		t.Errorf("coding = %v", coding)
	}
	if m["verificationStatus"] != "confirmed" {
		t.Errorf("verificationStatus = %v", m["verificationStatus"])
	}

	rec.Condition = nil
	m = renderMap(t, KindCondition, rec, nil)
	if m["verificationStatus"] != "unknown" || m["code"].(map[string]interface{})["text"] != "unknown" {
		t.Errorf("unexpected placeholder condition %v", m)
	}
}

func TestRender_ObservationValues(t *testing.T) {
	rec := normalizedRecord(t)
	d := func(s string) *decimal.Decimal { v := decimal.RequireFromString(s); return &v }

	tests := []struct {
		name  string
		obs   Observation
		check func(t *testing.T, m map[string]interface{})
	}{
		{
			name: "genomic with percentage",
			obs:  Observation{ID: "o1", Genomic: true, Result: "Positive", Quantity: d("90"), Unit: "%"},
			check: func(t *testing.T, m map[string]interface{}) {
				q := m["valueQuantity"].(map[string]interface{})
				if q["value"] != float64(90) || q["code"] != "%" {
					t.Errorf("valueQuantity = %v", q)
				}
				if m["interpretation"].(map[string]interface{})["text"] != "Positive" {
					t.Errorf("interpretation = %v", m["interpretation"])
				}
			},
		},
		{
			name: "genomic qualitative only",
			obs:  Observation{ID: "o2", Genomic: true, Result: "Negative", Unit: "%"},
			check: func(t *testing.T, m map[string]interface{}) {
				if m["valueString"] != "Negative" {
					t.Errorf("valueString = %v", m["valueString"])
				}
			},
		},
		{
			name: "lab range",
			obs:  Observation{ID: "o3", High: d("30"), Unit: "mL/min", Raw: "<30"},
			check: func(t *testing.T, m map[string]interface{}) {
				r := m["valueRange"].(map[string]interface{})
				if _, ok := r["low"]; ok {
					t.Error("low must be absent")
				}
				if r["high"].(map[string]interface{})["value"] != float64(30) {
					t.Errorf("high = %v", r["high"])
				}
				if m["comments"] != "<30" {
					t.Errorf("comments = %v", m["comments"])
				}
			},
		},
		{
			name: "lab point",
			obs:  Observation{ID: "o4", Quantity: d("3.4"), Unit: "10*3/uL", Raw: "3.4"},
			check: func(t *testing.T, m map[string]interface{}) {
				if m["valueQuantity"].(map[string]interface{})["value"] != 3.4 {
					t.Errorf("valueQuantity = %v", m["valueQuantity"])
				}
			},
		},
		{
			name: "lab unparsed",
			obs:  Observation{ID: "o5", Unit: "mL/min", Raw: "pending"},
			check: func(t *testing.T, m map[string]interface{}) {
				if m["valueString"] != "pending" {
					t.Errorf("valueString = %v", m["valueString"])
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := tt.obs
			m := renderMap(t, KindObservation, rec, &obs)
			if m["subject"].(map[string]interface{})["reference"] != rec.PatientRef() {
				t.Errorf("subject = %v", m["subject"])
			}
			ext := m["extension"].([]interface{})[0].(map[string]interface{})
			if ext["url"] != fhir.RelatedConditionURL ||
				ext["valueReference"].(map[string]interface{})["reference"] != rec.ConditionRef() {
				t.Errorf("extension = %v", ext)
			}
			tt.check(t, m)
		})
	}
}

func TestRender_ProcedureAndMedication(t *testing.T) {
	rec := normalizedRecord(t)

	p := renderMap(t, KindProcedure, rec, rec.Procedure)
	if p["status"] != "completed" || p["reasonReference"].(map[string]interface{})["reference"] != rec.ConditionRef() {
		t.Errorf("unexpected procedure %v", p)
	}

	m := renderMap(t, KindMedicationOrder, rec, &rec.Medications[0])
	if m["patient"].(map[string]interface{})["reference"] != rec.PatientRef() {
		t.Errorf("patient = %v", m["patient"])
	}
	cc := m["medicationCodeableConcept"].(map[string]interface{})
	if cc["text"] != "Docetaxel" {
		t.Errorf("medicationCodeableConcept = %v", cc)
	}
}

func TestRender_IsDeterministic(t *testing.T) {
	rec := normalizedRecord(t)
	a, err := Render(KindObservation, rec, &rec.Labs[2])
	if err != nil {
		t.Fatal(err)
	}
	b, err := Render(KindObservation, rec, &rec.Labs[2])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("rendering the same input twice must yield identical bytes")
	}
}

func TestRender_BadFocus(t *testing.T) {
	rec := normalizedRecord(t)
	tests := []struct {
		kind  Kind
		focus interface{}
	}{
		{KindObservation, nil},
		{KindProcedure, &rec.Medications[0]},
		{KindMedicationOrder, rec.Procedure},
		{Kind("Encounter"), nil},
	}
	for _, tt := range tests {
		if _, err := Render(tt.kind, rec, tt.focus); err == nil {
			t.Errorf("Render(%s, %T) should fail", tt.kind, tt.focus)
		}
	}
}
