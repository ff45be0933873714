// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

type memRow struct {
	value   []byte
	version uint64
}

// MemoryStore is the in-process backend used by tests and single-node dev
// runs. Versions are per-row counters; all operations are linearized by one
// lock, which is exactly the CAS the contract asks for.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]*memRow
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]map[string]map[string]*memRow)}
}

func (s *MemoryStore) partition(table, pk string, create bool) map[string]*memRow {
	t, ok := s.tables[table]
	if !ok {
		if !create {
			return nil
		}
		t = make(map[string]map[string]*memRow)
		s.tables[table] = t
	}
	p, ok := t[pk]
	if !ok {
		if !create {
			return nil
		}
		p = make(map[string]*memRow)
		t[pk] = p
	}
	return p
}

func (s *MemoryStore) Insert(ctx context.Context, table string, e Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(table, e.PartitionKey, true)
	if _, ok := p[e.RowKey]; ok {
		return "", ErrAlreadyExists
	}
	p[e.RowKey] = &memRow{value: cloneBytes(e.Value), version: 1}
	return "1", nil
}

func (s *MemoryStore) Get(ctx context.Context, table, pk, rk string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.partition(table, pk, false)
	if p == nil {
		return nil, ErrNotFound
	}
	row, ok := p[rk]
	if !ok {
		return nil, ErrNotFound
	}
	return &Entity{
		PartitionKey: pk,
		RowKey:       rk,
		Value:        cloneBytes(row.value),
		Version:      strconv.FormatUint(row.version, 10),
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, table string, e Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(table, e.PartitionKey, true)
	row, ok := p[e.RowKey]
	if !ok {
		p[e.RowKey] = &memRow{value: cloneBytes(e.Value), version: 1}
		return "1", nil
	}
	row.value = cloneBytes(e.Value)
	row.version++
	return strconv.FormatUint(row.version, 10), nil
}

func (s *MemoryStore) Update(ctx context.Context, table string, e Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.partition(table, e.PartitionKey, false)
	if p == nil {
		return "", ErrNotFound
	}
	row, ok := p[e.RowKey]
	if !ok {
		return "", ErrNotFound
	}
	if strconv.FormatUint(row.version, 10) != e.Version {
		return "", ErrPreconditionFailed
	}
	row.value = cloneBytes(e.Value)
	row.version++
	return strconv.FormatUint(row.version, 10), nil
}

func (s *MemoryStore) Delete(ctx context.Context, table, pk, rk string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.partition(table, pk, false); p != nil {
		delete(p, rk)
	}
	return nil
}

func (s *MemoryStore) DeletePartition(ctx context.Context, table, pk string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[table]
	if !ok {
		return 0, nil
	}
	n := len(t[pk])
	delete(t, pk)
	return n, nil
}

func (s *MemoryStore) Scan(ctx context.Context, table, pk string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.partition(table, pk, false)
	if p == nil {
		return nil, nil
	}
	out := make([]Entity, 0, len(p))
	for rk, row := range p {
		out = append(out, Entity{
			PartitionKey: pk,
			RowKey:       rk,
			Value:        cloneBytes(row.value),
			Version:      strconv.FormatUint(row.version, 10),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowKey < out[j].RowKey })
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
