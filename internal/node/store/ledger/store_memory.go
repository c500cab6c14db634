package ledger

import (
	"context"
	"slices"
	"sync"

	id "accord/pkg/domain"
)

// InMemoryLedger keeps synced bundle IDs for the life of the process.
type InMemoryLedger struct {
	mu  sync.RWMutex
	ids map[id.BundleID]struct{}
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{ids: make(map[id.BundleID]struct{})}
}

func (l *InMemoryLedger) Add(_ context.Context, ids ...id.BundleID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, bid := range ids {
		l.ids[bid] = struct{}{}
	}
	return nil
}

// Members returns the IDs in sorted order.
func (l *InMemoryLedger) Members(_ context.Context) ([]id.BundleID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]id.BundleID, 0, len(l.ids))
	for bid := range l.ids {
		out = append(out, bid)
	}
	slices.Sort(out)
	return out, nil
}
