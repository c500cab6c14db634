package bundle

import (
	"context"
	"sort"
	"sync"

	precedent "accord/internal/precedent/models"
	id "accord/pkg/domain"
	"accord/pkg/platform/sentinel"
)

// InMemoryStore keeps bundles in a map. Bundles are cloned on the way in and
// out so callers never share nested maps with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	bundles map[id.BundleID]precedent.AnonymousBundle
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{bundles: make(map[id.BundleID]precedent.AnonymousBundle)}
}

func (s *InMemoryStore) SaveNew(_ context.Context, b precedent.AnonymousBundle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[b.BundleID]; ok {
		return false, nil
	}
	s.bundles[b.BundleID] = b.Clone()
	return true, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, b precedent.AnonymousBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[b.BundleID] = b.Clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, bundleID id.BundleID) (*precedent.AnonymousBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[bundleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := b.Clone()
	return &out, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]precedent.AnonymousBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]precedent.AnonymousBundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BundleID < out[j].BundleID })
	return out, nil
}
