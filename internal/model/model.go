package model

import "time"

// Run records one completed scoring run for the archive.
type Run struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	ResponsesFile string    `json:"responses_file"`
	KeysFile      string    `json:"keys_file"`
	NumQuestions  int       `json:"num_questions"`
	NumRows       int       `json:"num_rows"`
	NumMissingKey int       `json:"num_missing_key"`
}

// RowResult is the archived summary of one scored response row.
type RowResult struct {
	RunID     string `json:"run_id"`
	Position  int    `json:"position"`
	StudentID string `json:"student_id"`
	FormCode  string `json:"form_code"`
	Score     string `json:"score"`
	Points    string `json:"points"`
}

// RunView combines a run with its per-row results for display and export.
type RunView struct {
	Run     Run         `json:"run"`
	Results []RowResult `json:"results"`
}

// ServeConfig holds runtime HTTP service parameters set via CLI flags.
type ServeConfig struct {
	Addr        string
	APIPassword string // empty disables authentication
	Lang        string
}
