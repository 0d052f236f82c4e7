package scope

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type memKey struct {
	tenantID int64
	kind     Kind
}

// MemoryStore is an in-process Store. Transactions are serialized and rolled
// back by snapshot.
type MemoryStore struct {
	st   *memState
	inTx bool
}

type memState struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	entries map[memKey]map[string]Entry
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &memState{entries: make(map[memKey]map[string]Entry)}}
}

// RunInTx serializes fn against other transactions and rolls back its writes on error
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	s.st.mu.RLock()
	snap := make(map[memKey]map[string]Entry, len(s.st.entries))
	for k, v := range s.st.entries {
		snap[k] = maps.Clone(v)
	}
	s.st.mu.RUnlock()

	if err := fn(&MemoryStore{st: s.st, inTx: true}); err != nil {
		s.st.mu.Lock()
		s.st.entries = snap
		s.st.mu.Unlock()
		return err
	}
	return nil
}

// ListEntries returns the tenant's entries of kind ordered by code
func (s *MemoryStore) ListEntries(ctx context.Context, tenantID int64, kind Kind) ([]Entry, error) {
	if _, err := tableFor(kind); err != nil {
		return nil, err
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()

	list := s.st.entries[memKey{tenantID, kind}]
	entries := make([]Entry, 0, len(list))
	for _, code := range slices.Sorted(maps.Keys(list)) {
		entries = append(entries, list[code])
	}
	return entries, nil
}

// LockTenant is a no-op; RunInTx already serializes writers
func (s *MemoryStore) LockTenant(ctx context.Context, tenantID int64, kind Kind) error {
	return nil
}

// ReplaceEntries includes exactly codes and excludes the rest
func (s *MemoryStore) ReplaceEntries(ctx context.Context, tenantID int64, kind Kind, codes []string, source string) error {
	if _, err := tableFor(kind); err != nil {
		return err
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	key := memKey{tenantID, kind}
	list := s.st.entries[key]
	if list == nil {
		list = make(map[string]Entry)
		s.st.entries[key] = list
	}

	now := time.Now().UTC()
	for code, e := range list {
		if e.Included && !slices.Contains(codes, code) {
			e.Included = false
			e.UpdatedAt = now
			list[code] = e
		}
	}
	for _, code := range codes {
		list[code] = Entry{Code: code, Included: true, Source: source, UpdatedAt: now}
	}
	return nil
}
