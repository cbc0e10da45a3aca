package fhir

import (
	"bytes"
	"encoding/json"
	"testing"
)

func mustResource(t *testing.T, body string) Resource {
	t.Helper()
	r, err := NewResource([]byte(body))
	if err != nil {
		t.Fatalf("NewResource(%s): %v", body, err)
	}
	return r
}

func TestTransactionBuilder_SealPreservesOrder(t *testing.T) {
	b := NewTransactionBuilder("")
	b.Add(
		mustResource(t, `{"resourceType":"Patient","id":"p1"}`),
		mustResource(t, `{"resourceType":"Condition","id":"c1"}`),
	)
	b.Add(
		mustResource(t, `{"resourceType":"Patient","id":"p2"}`),
		mustResource(t, `{"resourceType":"Condition","id":"c2"}`),
	)

	sealed, err := b.Seal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(sealed.Body, &bundle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bundle.ResourceType != "Bundle" || bundle.Type != BundleTypeTransaction {
		t.Errorf("unexpected bundle header %q/%q", bundle.ResourceType, bundle.Type)
	}

	want := []string{"Patient/p1", "Condition/c1", "Patient/p2", "Condition/c2"}
	if len(bundle.Entry) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(bundle.Entry))
	}
	for i, e := range bundle.Entry {
		if e.Request == nil || e.Request.Method != "PUT" || e.Request.URL != want[i] {
			t.Errorf("entry %d: unexpected request %+v", i, e.Request)
		}
		if e.FullURL != "" {
			t.Errorf("entry %d: expected no fullUrl without base, got %q", i, e.FullURL)
		}
	}
	if len(sealed.Resources) != 4 {
		t.Errorf("expected 4 sealed resources, got %d", len(sealed.Resources))
	}
}

func TestTransactionBuilder_SealIsRepeatable(t *testing.T) {
	b := NewTransactionBuilder("http://fhir.example.com")
	b.Add(mustResource(t, `{"resourceType":"Patient","id":"p1"}`))

	first, err := b.Seal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Seal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first.Body, second.Body) {
		t.Errorf("re-sealing changed output:\n%s\n%s", first.Body, second.Body)
	}
	if b.Len() != 1 {
		t.Errorf("seal must not drain the builder, len=%d", b.Len())
	}

	var bundle Bundle
	if err := json.Unmarshal(first.Body, &bundle); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if bundle.Entry[0].FullURL != "http://fhir.example.com/Patient/p1" {
		t.Errorf("unexpected fullUrl %q", bundle.Entry[0].FullURL)
	}
}

func TestTransactionBuilder_Reset(t *testing.T) {
	b := NewTransactionBuilder("")
	b.Add(mustResource(t, `{"resourceType":"Patient","id":"p1"}`))
	sealed, err := b.Seal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("expected empty builder after reset, got %d", b.Len())
	}
	if len(sealed.Resources) != 1 {
		t.Errorf("reset must not affect an already sealed bundle, got %d", len(sealed.Resources))
	}
}
