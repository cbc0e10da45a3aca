package fhir

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Bundle types.
const (
	BundleTypeTransaction         = "transaction"
	BundleTypeBatch               = "batch"
	BundleTypeTransactionResponse = "transaction-response"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Request  *BundleRequest  `json:"request,omitempty"`
	Response *BundleResponse `json:"response,omitempty"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type BundleResponse struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// NewTransactionResponse creates a transaction-response Bundle from entry outcomes.
func NewTransactionResponse(entries []BundleEntry) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		Type:         BundleTypeTransactionResponse,
		Entry:        entries,
	}
}

// SealedBundle is the rendered form of a transaction bundle together with
// the resources it carries.
type SealedBundle struct {
	Resources []Resource
	Body      json.RawMessage
}

// TransactionBuilder accumulates resources in arrival order and renders them
// as a transaction Bundle. Every entry is a PUT keyed by the resource's own
// id, so posting the same bundle twice is idempotent.
type TransactionBuilder struct {
	baseURL   string
	resources []Resource
}

// NewTransactionBuilder creates a builder. baseURL, when set, is used to form
// absolute fullUrl values.
func NewTransactionBuilder(baseURL string) *TransactionBuilder {
	return &TransactionBuilder{baseURL: baseURL}
}

// Add appends resources to the running list.
func (b *TransactionBuilder) Add(resources ...Resource) {
	b.resources = append(b.resources, resources...)
}

// Len returns the number of accumulated resources.
func (b *TransactionBuilder) Len() int {
	return len(b.resources)
}

// Reset drops all accumulated resources.
func (b *TransactionBuilder) Reset() {
	b.resources = nil
}

// Seal renders the accumulated resources. Sealing the same set twice gives
// byte-identical output; the builder itself is left unchanged.
func (b *TransactionBuilder) Seal() (*SealedBundle, error) {
	bundle := Bundle{
		ResourceType: "Bundle",
		Type:         BundleTypeTransaction,
		Entry:        make([]BundleEntry, len(b.resources)),
	}
	for i, r := range b.resources {
		entry := BundleEntry{
			Resource: r.Body,
			Request: &BundleRequest{
				Method: http.MethodPut,
				URL:    r.Ref(),
			},
		}
		if b.baseURL != "" {
			entry.FullURL = fmt.Sprintf("%s/%s", b.baseURL, r.Ref())
		}
		bundle.Entry[i] = entry
	}

	body, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("render bundle: %w", err)
	}

	resources := make([]Resource, len(b.resources))
	copy(resources, b.resources)
	return &SealedBundle{Resources: resources, Body: body}, nil
}
