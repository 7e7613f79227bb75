// Package store holds normalized result records produced by the processing
// pipeline. Backends: in-memory, Redis and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record id is unknown.
var ErrNotFound = errors.New("store: record not found")

// Priority levels for stored results.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// ParsePriority maps a free-form string onto a Priority, defaulting to
// medium. Type and priority fields are parsed once at ingestion.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityInfo:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Record is one normalized result.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	FilePath  string         `json:"file_path,omitempty"`
	Line      int            `json:"line,omitempty"`
	Message   string         `json:"message,omitempty"`
	Priority  Priority       `json:"priority"`
	Tags      []string       `json:"tags,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Filter narrows List results. Zero-valued fields match everything.
type Filter struct {
	Type     string
	Source   string
	FilePath string
	Priority Priority
	Tag      string
}

// Matches reports whether r satisfies every set field of f.
func (f Filter) Matches(r *Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.FilePath != "" && r.FilePath != f.FilePath {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Summary aggregates record counts.
type Summary struct {
	Total       int              `json:"total"`
	ByType      map[string]int   `json:"by_type"`
	ByPriority  map[Priority]int `json:"by_priority"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Store is the contract the pipeline writes into. Implementations assign
// the record an id when one is not set.
type Store interface {
	Add(ctx context.Context, r *Record) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, f Filter) ([]*Record, error)
	Clear(ctx context.Context) (int, error)
	Summary(ctx context.Context) (*Summary, error)
	Close() error
}
