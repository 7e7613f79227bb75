package store

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func seedRecords(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	records := []*Record{
		{Type: "code_quality", Source: "agent-1", FilePath: "main.go", Line: 10,
			Message: "long function", Priority: PriorityHigh, Tags: []string{"style"}},
		{Type: "security", Source: "agent-2", FilePath: "auth.go", Line: 42,
			Message: "hardcoded secret", Priority: PriorityCritical, Tags: []string{"secrets", "audit"}},
		{Type: "code_quality", Source: "agent-1", FilePath: "util.go",
			Message: "unused variable", Priority: PriorityLow},
	}
	for _, r := range records {
		if _, err := s.Add(ctx, r); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
}

func TestMemoryAddGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.Add(ctx, &Record{Type: "security", Source: "agent-1", Message: "issue"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id == "" {
		t.Fatal("empty id assigned")
	}

	r, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.Priority != PriorityMedium {
		t.Fatalf("default priority = %s, want medium", r.Priority)
	}
	if r.Timestamp.IsZero() {
		t.Fatal("timestamp not assigned")
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryListFilters(t *testing.T) {
	m := NewMemory()
	seedRecords(t, m)
	ctx := context.Background()

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by type", Filter{Type: "code_quality"}, 2},
		{"by source", Filter{Source: "agent-2"}, 1},
		{"by file", Filter{FilePath: "main.go"}, 1},
		{"by priority", Filter{Priority: PriorityCritical}, 1},
		{"by tag", Filter{Tag: "audit"}, 1},
		{"combined", Filter{Type: "code_quality", Source: "agent-1", Priority: PriorityLow}, 1},
		{"no match", Filter{Type: "performance"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d records, want %d", len(got), tc.want)
			}
		})
	}
}

func TestMemorySummaryAndClear(t *testing.T) {
	m := NewMemory()
	seedRecords(t, m)
	ctx := context.Background()

	summary, err := m.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 3 {
		t.Fatalf("total = %d, want 3", summary.Total)
	}
	if summary.ByType["code_quality"] != 2 || summary.ByType["security"] != 1 {
		t.Fatalf("by_type = %v", summary.ByType)
	}
	if summary.ByPriority[PriorityCritical] != 1 {
		t.Fatalf("by_priority = %v", summary.ByPriority)
	}

	n, err := m.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 3 {
		t.Fatalf("cleared %d, want 3", n)
	}
	records, _ := m.List(ctx, Filter{})
	if len(records) != 0 {
		t.Fatalf("%d records after clear", len(records))
	}
}

func TestMemoryExportJSON(t *testing.T) {
	m := NewMemory()
	seedRecords(t, m)

	out, err := m.ExportJSON(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, want := range []string{"main.go", "hardcoded secret", "\"summary\""} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if got := ParsePriority("high"); got != PriorityHigh {
		t.Fatalf("parse high = %s", got)
	}
	if got := ParsePriority("bogus"); got != PriorityMedium {
		t.Fatalf("parse bogus = %s, want medium default", got)
	}
	if got := ParsePriority(""); got != PriorityMedium {
		t.Fatalf("parse empty = %s, want medium default", got)
	}
}
