// Package memory stores cache tiers and the notification queue in-memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

// TierStore keeps named tiers in process memory.
type TierStore struct {
	mu    sync.RWMutex
	tiers map[string]*Tier
}

// NewTierStore creates an empty in-memory tier backend.
func NewTierStore() *TierStore {
	return &TierStore{tiers: make(map[string]*Tier)}
}

// Open returns the tier called name, creating it when absent.
func (s *TierStore) Open(_ context.Context, name string) (offline.Tier, error) {
	if name == "" {
		return nil, fmt.Errorf("tier name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tier, ok := s.tiers[name]; ok {
		return tier, nil
	}
	tier := &Tier{name: name, entries: make(map[string]*offline.Response)}
	s.tiers[name] = tier
	return tier, nil
}

// Names lists the tiers currently held.
func (s *TierStore) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tiers))
	for name := range s.tiers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Delete drops the tier and every entry in it. Open handles start failing.
func (s *TierStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	tier, ok := s.tiers[name]
	delete(s.tiers, name)
	s.mu.Unlock()
	if ok {
		tier.close()
	}
	return nil
}

// Tier is one in-memory partition. Stored responses are deep copies.
type Tier struct {
	name    string
	mu      sync.RWMutex
	closed  bool
	entries map[string]*offline.Response
}

// Name returns the tier name.
func (t *Tier) Name() string {
	return t.name
}

// Match returns a copy of the stored response for url.
func (t *Tier) Match(_ context.Context, url string) (*offline.Response, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, offline.ErrTierClosed
	}
	resp, ok := t.entries[url]
	if !ok {
		return nil, offline.ErrNotFound
	}
	return resp.Clone(), nil
}

// Put stores a copy of resp under url.
func (t *Tier) Put(_ context.Context, url string, resp *offline.Response) error {
	if resp == nil {
		return fmt.Errorf("put %s: nil response", url)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return offline.ErrTierClosed
	}
	t.entries[url] = resp.Clone()
	return nil
}

// Delete removes the entry for url.
func (t *Tier) Delete(_ context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return offline.ErrTierClosed
	}
	delete(t.entries, url)
	return nil
}

// Keys lists the stored URLs in lexical order.
func (t *Tier) Keys(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return nil, offline.ErrTierClosed
	}
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

func (t *Tier) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
}
