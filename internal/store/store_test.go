package store

import (
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/scanmark/scanmark/internal/model"
	"github.com/scanmark/scanmark/internal/sheet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(id string) model.Run {
	return model.Run{
		ID:            id,
		CreatedAt:     time.Now().Truncate(time.Second),
		ResponsesFile: "responses.csv",
		KeysFile:      "keys.csv",
		NumQuestions:  3,
		NumRows:       2,
		NumMissingKey: 1,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStore(t)

	count, err := s.RunCount()
	if err != nil {
		t.Fatalf("RunCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 runs, got %d", count)
	}

	run := testRun("run-1")
	results := []model.RowResult{
		{RunID: "run-1", Position: 1, StudentID: "1001", FormCode: "A", Score: "100.00", Points: "3.00"},
		{RunID: "run-1", Position: 2, StudentID: "1002", FormCode: "B", Score: "NO KEY FOUND", Points: "NO KEY FOUND"},
	}
	if err := s.SaveRun(run, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.ResponsesFile != "responses.csv" {
		t.Errorf("ResponsesFile = %q, want responses.csv", got.ResponsesFile)
	}
	if got.NumMissingKey != 1 {
		t.Errorf("NumMissingKey = %d, want 1", got.NumMissingKey)
	}

	// Not found.
	_, err = s.GetRun("nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}

	count, _ = s.RunCount()
	if count != 1 {
		t.Errorf("expected 1 run, got %d", count)
	}
}

func TestGetRunResults(t *testing.T) {
	s := newTestStore(t)

	run := testRun("run-1")
	results := []model.RowResult{
		{RunID: "run-1", Position: 2, StudentID: "1002", FormCode: "B", Score: "50.00", Points: "1.50"},
		{RunID: "run-1", Position: 1, StudentID: "1001", FormCode: "A", Score: "100.00", Points: "3.00"},
	}
	if err := s.SaveRun(run, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := s.GetRunResults("run-1")
	if err != nil {
		t.Fatalf("GetRunResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	// Results come back in row order regardless of insert order.
	if got[0].Position != 1 || got[0].StudentID != "1001" {
		t.Errorf("first result = %+v, want position 1", got[0])
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)

	older := testRun("run-old")
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := testRun("run-new")

	if err := s.SaveRun(older, nil); err != nil {
		t.Fatalf("SaveRun older: %v", err)
	}
	if err := s.SaveRun(newer, nil); err != nil {
		t.Fatalf("SaveRun newer: %v", err)
	}

	runs, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" {
		t.Errorf("first run = %q, want run-new", runs[0].ID)
	}

	last, err := s.LastRunID()
	if err != nil {
		t.Fatalf("LastRunID: %v", err)
	}
	if last != "run-new" {
		t.Errorf("LastRunID = %q, want run-new", last)
	}
}

func TestGetRunView(t *testing.T) {
	s := newTestStore(t)

	run := testRun("run-1")
	results := []model.RowResult{
		{RunID: "run-1", Position: 1, StudentID: "1001", FormCode: "A", Score: "100.00", Points: "3.00"},
	}
	if err := s.SaveRun(run, results); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	view, err := s.GetRunView("run-1")
	if err != nil {
		t.Fatalf("GetRunView: %v", err)
	}
	if view.Run.ID != "run-1" {
		t.Errorf("view run ID = %q, want run-1", view.Run.ID)
	}
	if len(view.Results) != 1 || view.Results[0].Score != "100.00" {
		t.Errorf("view results = %+v", view.Results)
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	// Missing key returns empty string.
	v, err := s.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := s.SetMetadata("k", "v1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	v, _ = s.GetMetadata("k")
	if v != "v1" {
		t.Errorf("expected v1, got %q", v)
	}

	// Update existing.
	if err := s.SetMetadata("k", "v2"); err != nil {
		t.Fatalf("SetMetadata update: %v", err)
	}
	v, _ = s.GetMetadata("k")
	if v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}
}

func TestResultsFromSheet(t *testing.T) {
	scored, err := sheet.Read(strings.NewReader(
		"Student ID,Test Form Code,Total Score (%),Total Points,Q1\n" +
			"1001,A,100.00,1.00,1\n" +
			"1002,B,0.00,0.00,0\n"))
	if err != nil {
		t.Fatalf("sheet.Read: %v", err)
	}

	results := ResultsFromSheet("run-1", scored)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	want := model.RowResult{RunID: "run-1", Position: 1, StudentID: "1001", FormCode: "A", Score: "100.00", Points: "1.00"}
	if results[0] != want {
		t.Errorf("results[0] = %+v, want %+v", results[0], want)
	}
	if results[1].Position != 2 || results[1].Score != "0.00" {
		t.Errorf("results[1] = %+v", results[1])
	}
}
