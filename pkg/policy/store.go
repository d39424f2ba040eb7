package policy

import (
	"context"
	"sync"
)

// Store is the read-only query boundary to the policy backing store.
// The administrative CRUD surface lives elsewhere; the engine only
// reads active rows.
type Store interface {
	// ActivePolicies returns the active policies of an application
	// whose tag set intersects traits. Subject filtering happens in
	// the engine.
	ActivePolicies(ctx context.Context, applicationKey string, traits []string) ([]Policy, error)

	// VectorStorePolicies returns all rows for one vector store.
	VectorStorePolicies(ctx context.Context, vectorStoreID string) ([]VectorStorePolicy, error)

	// VectorStoreConfig returns the provider and enforcement flags of
	// one vector store.
	VectorStoreConfig(ctx context.Context, vectorStoreID string) (VectorStoreConfig, error)
}

// MemoryStore is an in-memory Store for tests and embedded use.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string][]Policy // applicationKey -> policies
	vsRows   map[string][]VectorStorePolicy
	vsConfig map[string]VectorStoreConfig
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string][]Policy),
		vsRows:   make(map[string][]VectorStorePolicy),
		vsConfig: make(map[string]VectorStoreConfig),
	}
}

// SetPolicies replaces the policy set of an application.
func (s *MemoryStore) SetPolicies(applicationKey string, policies []Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[applicationKey] = policies
}

// SetVectorStore registers a vector store with its policy rows.
func (s *MemoryStore) SetVectorStore(cfg VectorStoreConfig, rows []VectorStorePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vsConfig[cfg.ID] = cfg
	s.vsRows[cfg.ID] = rows
}

func (s *MemoryStore) ActivePolicies(_ context.Context, applicationKey string, traits []string) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Policy
	for _, p := range s.policies[applicationKey] {
		if p.Status != StatusActive {
			continue
		}
		if len(p.matchedTraits(traits)) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) VectorStorePolicies(_ context.Context, vectorStoreID string) ([]VectorStorePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]VectorStorePolicy(nil), s.vsRows[vectorStoreID]...), nil
}

func (s *MemoryStore) VectorStoreConfig(_ context.Context, vectorStoreID string) (VectorStoreConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.vsConfig[vectorStoreID]
	if !ok {
		return VectorStoreConfig{}, ErrStoreUnavailable
	}
	return cfg, nil
}
