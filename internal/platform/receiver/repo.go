package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ehr/hcafhir/internal/platform/fhir"
)

var ErrNotFound = errors.New("resource not found")

// StoredResource is the current version of a resource.
type StoredResource struct {
	Type        string
	ID          string
	VersionID   int
	LastUpdated time.Time
	Body        json.RawMessage
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Resource *StoredResource
	Created  bool
}

// Store persists resources keyed by type and id.
type Store interface {
	Read(ctx context.Context, resourceType, id string) (*StoredResource, error)
	Upsert(ctx context.Context, r fhir.Resource) (*UpsertResult, error)
	// Transaction upserts all resources or none of them.
	Transaction(ctx context.Context, resources []fhir.Resource) ([]*UpsertResult, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*StoredResource
	// insertion order, for deterministic listing
	order []string
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*StoredResource),
		now:       time.Now,
	}
}

func storeKey(resourceType, id string) string {
	return resourceType + "/" + id
}

func (s *MemoryStore) Read(_ context.Context, resourceType, id string) (*StoredResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[storeKey(resourceType, id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Upsert(_ context.Context, r fhir.Resource) (*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(r), nil
}

func (s *MemoryStore) Transaction(_ context.Context, resources []fhir.Resource) ([]*UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]*UpsertResult, len(resources))
	for i, r := range resources {
		results[i] = s.upsertLocked(r)
	}
	return results, nil
}

func (s *MemoryStore) upsertLocked(r fhir.Resource) *UpsertResult {
	key := storeKey(r.Type, r.ID)
	body := append(json.RawMessage(nil), r.Body...)
	now := s.now().UTC()

	if existing, ok := s.resources[key]; ok {
		existing.VersionID++
		existing.LastUpdated = now
		existing.Body = body
		cp := *existing
		return &UpsertResult{Resource: &cp, Created: false}
	}

	stored := &StoredResource{Type: r.Type, ID: r.ID, VersionID: 1, LastUpdated: now, Body: body}
	s.resources[key] = stored
	s.order = append(s.order, key)
	cp := *stored
	return &UpsertResult{Resource: &cp, Created: true}
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources), nil
}

// Keys returns "Type/id" keys in first-insert order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
