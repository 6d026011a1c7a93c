// Package store archives completed scoring runs in a local sqlite database.
package store

import (
	"database/sql"
	"fmt"

	"github.com/scanmark/scanmark/internal/model"
	"github.com/scanmark/scanmark/internal/sheet"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scoring_runs (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		responses_file TEXT NOT NULL DEFAULT '',
		keys_file TEXT NOT NULL DEFAULT '',
		num_questions INTEGER NOT NULL DEFAULT 0,
		num_rows INTEGER NOT NULL DEFAULT 0,
		num_missing_key INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_results (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		student_id TEXT NOT NULL DEFAULT '',
		form_code TEXT NOT NULL DEFAULT '',
		score TEXT NOT NULL DEFAULT '',
		points TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES scoring_runs(id)
	);

	CREATE TABLE IF NOT EXISTS tool_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveRun stores a run and its per-row results in one transaction and
// records it as the most recent run.
func (s *Store) SaveRun(run model.Run, results []model.RowResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO scoring_runs (id, created_at, responses_file, keys_file, num_questions, num_rows, num_missing_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CreatedAt, run.ResponsesFile, run.KeysFile, run.NumQuestions, run.NumRows, run.NumMissingKey,
	)
	if err != nil {
		return err
	}

	for _, r := range results {
		_, err := tx.Exec(
			`INSERT INTO run_results (run_id, position, student_id, form_code, score, points)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, r.Position, r.StudentID, r.FormCode, r.Score, r.Points,
		)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`INSERT INTO tool_metadata (key, value) VALUES ('last_run_id', ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		run.ID, run.ID,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetRun returns a run by ID.
func (s *Store) GetRun(id string) (model.Run, error) {
	var r model.Run
	err := s.db.QueryRow(
		`SELECT id, created_at, responses_file, keys_file, num_questions, num_rows, num_missing_key
		 FROM scoring_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.CreatedAt, &r.ResponsesFile, &r.KeysFile, &r.NumQuestions, &r.NumRows, &r.NumMissingKey)
	return r, err
}

// ListRuns returns all archived runs, newest first.
func (s *Store) ListRuns() ([]model.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, responses_file, keys_file, num_questions, num_rows, num_missing_key
		 FROM scoring_runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []model.Run
	for rows.Next() {
		var r model.Run
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.ResponsesFile, &r.KeysFile, &r.NumQuestions, &r.NumRows, &r.NumMissingKey); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunResults returns the per-row results of a run in row order.
func (s *Store) GetRunResults(runID string) ([]model.RowResult, error) {
	rows, err := s.db.Query(
		`SELECT run_id, position, student_id, form_code, score, points
		 FROM run_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.RowResult
	for rows.Next() {
		var r model.RowResult
		if err := rows.Scan(&r.RunID, &r.Position, &r.StudentID, &r.FormCode, &r.Score, &r.Points); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetRunView builds a full view of a run with its results.
func (s *Store) GetRunView(runID string) (*model.RunView, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}
	results, err := s.GetRunResults(runID)
	if err != nil {
		return nil, err
	}
	return &model.RunView{Run: run, Results: results}, nil
}

// RunCount returns the number of archived runs.
func (s *Store) RunCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM scoring_runs`).Scan(&count)
	return count, err
}

// ResultsFromSheet extracts the archivable per-row summary from a scored
// sheet produced by the scoring package.
func ResultsFromSheet(runID string, scored *sheet.Sheet) []model.RowResult {
	results := make([]model.RowResult, 0, scored.RowCount())
	for i, row := range scored.Rows() {
		results = append(results, model.RowResult{
			RunID:     runID,
			Position:  i + 1,
			StudentID: scored.FieldValue(row, sheet.StudentID),
			FormCode:  scored.FieldValue(row, sheet.TestFormCode),
			Score:     scored.FieldValue(row, sheet.Score),
			Points:    scored.FieldValue(row, sheet.Points),
		})
	}
	return results
}
