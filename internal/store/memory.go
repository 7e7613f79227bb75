package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is the in-process backend. It keeps a type index for fast
// type-scoped reads and supports JSON export.
type Memory struct {
	mu          sync.RWMutex
	records     map[string]*Record
	typeIndex   map[string][]string
	lastUpdated time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]*Record),
		typeIndex: make(map[string][]string),
	}
}

// Add stores a record, assigning id, priority default and timestamp when
// unset.
func (m *Memory) Add(_ context.Context, r *Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	m.records[r.ID] = r
	m.typeIndex[r.Type] = append(m.typeIndex[r.Type], r.ID)
	m.lastUpdated = time.Now()
	return r.ID, nil
}

// Get returns the record with id or ErrNotFound.
func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// List returns records matching f in timestamp order.
func (m *Memory) List(_ context.Context, f Filter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	if f.Type != "" {
		for _, id := range m.typeIndex[f.Type] {
			if r, ok := m.records[id]; ok && f.Matches(r) {
				out = append(out, r)
			}
		}
	} else {
		for _, r := range m.records {
			if f.Matches(r) {
				out = append(out, r)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Clear removes everything, returning the removed count.
func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.records)
	m.records = make(map[string]*Record)
	m.typeIndex = make(map[string][]string)
	m.lastUpdated = time.Now()
	return n, nil
}

// Summary counts records by type and priority.
func (m *Memory) Summary(_ context.Context) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Summary{
		Total:       len(m.records),
		ByType:      make(map[string]int),
		ByPriority:  make(map[Priority]int),
		LastUpdated: m.lastUpdated,
	}
	for _, r := range m.records {
		s.ByType[r.Type]++
		s.ByPriority[r.Priority]++
	}
	return s, nil
}

// ExportJSON renders all records plus their summary as indented JSON.
func (m *Memory) ExportJSON(ctx context.Context) (string, error) {
	records, err := m.List(ctx, Filter{})
	if err != nil {
		return "", err
	}
	summary, err := m.Summary(ctx)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(map[string]any{
		"results": records,
		"summary": summary,
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }
