package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/zapscan/zapscan/internal/history"
	"github.com/zapscan/zapscan/internal/testutil"
)

func newTestStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"), &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStart_InsertsInFlightEntry(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordStart(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty id")
	}

	entries, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ID != id || e.Target != "https://example.com" || e.Status != "started" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.FinishedAt != nil {
		t.Error("in-flight entry must have nil FinishedAt")
	}
}

func TestRecordFinish_MarksTerminal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordStart(ctx, "https://example.com")
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	if err := s.RecordFinish(ctx, id, "failed", "scan timed out"); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	entries, _ := s.Recent(ctx, 10)
	e := entries[0]
	if e.Status != "failed" || e.Error != "scan timed out" {
		t.Errorf("unexpected entry after finish: %+v", e)
	}
	if e.FinishedAt == nil || e.FinishedAt.Before(e.StartedAt) {
		t.Errorf("bad FinishedAt: %+v", e.FinishedAt)
	}
}

func TestRecent_NewestFirstAndLimited(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	targets := []string{"https://a.example", "https://b.example", "https://c.example"}
	for _, target := range targets {
		if _, err := s.RecordStart(ctx, target); err != nil {
			t.Fatalf("RecordStart %s: %v", target, err)
		}
	}

	entries, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(entries))
	}
}

func TestRecent_EmptyStoreIsEmptyNotNilError(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	entries, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty history, got %d", len(entries))
	}
}
