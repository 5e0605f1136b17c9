package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/designcheck/dbopen"
	"github.com/hazyhaar/designcheck/outcome"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

func sampleRun(id string, started time.Time) *outcome.Summary {
	s := &outcome.Summary{
		RunID:     id,
		Blocks:    []string{"button", "card"},
		Iteration: 2,
		StartedAt: started,
		Results: []outcome.ElementResult{
			{ID: id + "-a", Key: "button-primary", Block: "button", Story: "primary", NodeID: "1:2",
				Passed: true, MismatchRatio: 0.0004, ThresholdPercent: 0.1, Mismatched: 4, Total: 10000,
				Width: 100, Height: 100, CreatedAt: started},
			{ID: id + "-b", Key: "card", Block: "card", NodeID: "3:4",
				MismatchRatio: 0.0525, ThresholdPercent: 0.1, Truncated: true, CreatedAt: started},
			{ID: id + "-c", Key: "hero", Block: "hero", NodeID: "5:6",
				Error: "capture: timeout", CreatedAt: started},
		},
		FinishedAt: started.Add(5 * time.Second),
	}
	s.Tally()
	return s
}

func TestSaveAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleRun("run-1", started)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("get: got nil")
	}
	if got.Passed != 1 || got.Failed != 1 || got.Errored != 1 {
		t.Errorf("tally: got %d/%d/%d", got.Passed, got.Failed, got.Errored)
	}
	if len(got.Blocks) != 2 || got.Blocks[1] != "card" {
		t.Errorf("blocks: got %v", got.Blocks)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("started: got %v", got.StartedAt)
	}
	if len(got.Results) != 3 {
		t.Fatalf("results: got %d", len(got.Results))
	}
	keys := []string{got.Results[0].Key, got.Results[1].Key, got.Results[2].Key}
	if keys[0] != "button-primary" || keys[1] != "card" || keys[2] != "hero" {
		t.Errorf("order: got %v", keys)
	}
	card := got.Results[1]
	if card.Passed || !card.Truncated || card.MismatchPercent != 5.25 {
		t.Errorf("card: %+v", card)
	}
	if got.Results[2].Status() != outcome.StatusError {
		t.Errorf("hero status: %s", got.Results[2].Status())
	}
}

func TestGetRunMissing(t *testing.T) {
	s := testStore(t)
	got, err := s.GetRun(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestSaveRunReplacesResults(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	run := sampleRun("run-1", time.Now())
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	run.Results = run.Results[:1]
	run.Tally()
	if err := s.SaveRun(ctx, run); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 1 || got.Passed != 1 || got.Failed != 0 {
		t.Errorf("after resave: %d results, %d passed, %d failed", len(got.Results), got.Passed, got.Failed)
	}
}

func TestSaveRunRequiresID(t *testing.T) {
	s := testStore(t)
	if err := s.SaveRun(context.Background(), &outcome.Summary{}); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := s.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("limit: got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("order: got %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestElementHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b"} {
		if err := s.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatal(err)
		}
	}
	hist, err := s.ElementHistory(ctx, "card", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("got %d entries", len(hist))
	}
	if hist[0].ID != "run-b-b" {
		t.Errorf("newest first: got %s", hist[0].ID)
	}
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	s, err := Open(path, dbopen.WithBusyTimeout(2500))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.SaveRun(context.Background(), sampleRun("run-1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	var busy int
	if err := s.DB.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 2500 {
		t.Errorf("busy_timeout = %d, want 2500", busy)
	}
}
