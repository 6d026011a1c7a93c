// Package sheet implements the tabular currency passed between the scoring
// components: an ordered table of declared field columns followed by answer
// columns named Q1..QN, optionally followed by per-question point columns
// P1..PN on key sheets.
package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Field identifies a declared (non-answer) column in a sheet.
type Field string

const (
	LastName     Field = "last_name"
	FirstName    Field = "first_name"
	MiddleName   Field = "middle_name"
	TestFormCode Field = "test_form_code"
	StudentID    Field = "student_id"
	CourseID     Field = "course_id"
	SourceFile   Field = "source_file"

	// Virtual columns computed by the scorer.
	Score  Field = "score"
	Points Field = "points"
)

// ColumnNames maps fields to the header names used in CSV files.
// If you change these, also update the manual.
var ColumnNames = map[Field]string{
	LastName:     "Last Name",
	FirstName:    "First Name",
	MiddleName:   "Middle Name",
	TestFormCode: "Test Form Code",
	StudentID:    "Student ID",
	CourseID:     "Course ID",
	SourceFile:   "Source File",
	Score:        "Total Score (%)",
	Points:       "Total Points",
}

const (
	firstQuestionName = "Q1"
	firstWeightName   = "P1"
)

// Sheet is a lightweight matrix of strings. Rows are structured as
// field_a, field_b, ..., Q1, Q2, Q3, ... and every row has the same length
// as the header after CleanUp.
type Sheet struct {
	Fields       []Field
	NumQuestions int

	header      []string
	rows        [][]string
	weights     [][]float64
	fieldIdx    map[Field]int
	firstAnswer int
}

// New creates an empty sheet with the given declared fields and question
// count. The header is built from ColumnNames plus Q1..QN.
func New(fields []Field, numQuestions int) *Sheet {
	s := &Sheet{
		Fields:       append([]Field(nil), fields...),
		NumQuestions: numQuestions,
		fieldIdx:     make(map[Field]int, len(fields)),
		firstAnswer:  len(fields),
	}
	for i, f := range fields {
		s.header = append(s.header, ColumnNames[f])
		s.fieldIdx[f] = i
	}
	for i := 0; i < numQuestions; i++ {
		s.header = append(s.header, fmt.Sprintf("Q%d", i+1))
	}
	return s
}

// Read parses a CSV-shaped sheet. The first record is the header; header
// names matching ColumnNames are recognized as fields. A "Q1" column marks
// the start of the answer columns and a "P1" column, when present, marks
// the start of per-question point weights.
func Read(r io.Reader) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	stripAll(header)

	q1 := indexOf(header, firstQuestionName)
	p1 := indexOf(header, firstWeightName)

	s := &Sheet{
		header:      header,
		fieldIdx:    make(map[Field]int),
		firstAnswer: q1,
	}
	for i, name := range header {
		if q1 >= 0 && i >= q1 {
			break
		}
		for f, colName := range ColumnNames {
			if name == colName {
				if _, dup := s.fieldIdx[f]; !dup {
					s.Fields = append(s.Fields, f)
					s.fieldIdx[f] = i
				}
				break
			}
		}
	}
	lastAnswer := len(header)
	if p1 >= 0 {
		lastAnswer = p1
	}
	if q1 >= 0 {
		s.NumQuestions = lastAnswer - q1
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(s.rows)+2, err)
		}
		stripAll(record)
		row := record
		if p1 >= 0 && p1 <= len(record) {
			row = record[:p1]
			w := make([]float64, 0, len(record)-p1)
			for _, cell := range record[p1:] {
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					return nil, fmt.Errorf("row %d: invalid point weight %q: %w", len(s.rows)+2, cell, err)
				}
				w = append(w, v)
			}
			s.weights = append(s.weights, w)
		} else {
			s.weights = append(s.weights, nil)
		}
		s.rows = append(s.rows, row)
	}
	if p1 >= 0 {
		s.header = header[:p1]
	}
	return s, nil
}

// Header returns the header row.
func (s *Sheet) Header() []string { return s.header }

// Rows returns the data rows, header excluded.
func (s *Sheet) Rows() [][]string { return s.rows }

// RowCount returns the number of data rows.
func (s *Sheet) RowCount() int { return len(s.rows) }

// RowWeights returns the point weights attached to row i, or nil when the
// sheet carries no P1..PN columns.
func (s *Sheet) RowWeights(i int) []float64 {
	if i < 0 || i >= len(s.weights) {
		return nil
	}
	return s.weights[i]
}

// FieldIndex returns the header position of a declared field, or -1.
func (s *Sheet) FieldIndex(f Field) int {
	if i, ok := s.fieldIdx[f]; ok {
		return i
	}
	return -1
}

// FieldValue returns the value of a declared field in the given row, or ""
// when the field is absent.
func (s *Sheet) FieldValue(row []string, f Field) string {
	i := s.FieldIndex(f)
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// FirstAnswerIndex returns the header position of the Q1 column, or -1 when
// the sheet has no answer columns.
func (s *Sheet) FirstAnswerIndex() int { return s.firstAnswer }

// Append adds a row built from per-field values plus answer cells. Missing
// fields become empty cells; all cells are stripped of surrounding spaces.
func (s *Sheet) Append(fields map[Field]string, answers []string) {
	row := make([]string, 0, len(s.Fields)+len(answers))
	for _, f := range s.Fields {
		row = append(row, strings.TrimSpace(fields[f]))
	}
	for _, a := range answers {
		row = append(row, strings.TrimSpace(a))
	}
	s.rows = append(s.rows, row)
	s.weights = append(s.weights, nil)
}

// WriteCSV serializes the sheet, header first.
func (s *Sheet) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.header); err != nil {
		return err
	}
	for _, row := range s.rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVTransposed serializes the sheet with rows and columns swapped.
// Rows must be uniform length (run CleanUp first).
func (s *Sheet) WriteCSVTransposed(w io.Writer) error {
	cw := csv.NewWriter(w)
	for col := range s.header {
		out := make([]string, 0, len(s.rows)+1)
		out = append(out, s.header[col])
		for _, row := range s.rows {
			cell := ""
			if col < len(row) {
				cell = row[col]
			}
			out = append(out, cell)
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatTimestampForFile renders a timestamp as a file name prefix.
// A nil timestamp yields an empty prefix.
func FormatTimestampForFile(ts *time.Time) string {
	if ts == nil {
		return ""
	}
	return strings.ReplaceAll(ts.Format("2006-01-02_15:04:05"), ":", "-") + "__"
}

// SortByName orders the data rows by last, first, and middle name. Sheets
// without name columns fall back to the form code; sheets without either are
// left untouched.
func (s *Sheet) SortByName() {
	keys := []Field{LastName, FirstName, MiddleName}
	var indexes []int
	for _, f := range keys {
		if i := s.FieldIndex(f); i >= 0 {
			indexes = append(indexes, i)
		}
	}
	if len(indexes) == 0 {
		if i := s.FieldIndex(TestFormCode); i >= 0 {
			indexes = []int{i}
		} else {
			return
		}
	}
	sort.SliceStable(s.rows, func(a, b int) bool {
		ra, rb := s.rows[a], s.rows[b]
		for _, i := range indexes {
			va, vb := cellAt(ra, i), cellAt(rb, i)
			if va != vb {
				return va < vb
			}
		}
		return false
	})
}

// CleanUp trims unused trailing answer headers, replaces empty answer cells
// with replaceEmptyWith, and pads or truncates rows so every row matches the
// header length. Field cells are left as-is.
func (s *Sheet) CleanUp(replaceEmptyWith string) {
	longest := 0
	for _, row := range s.rows {
		if n := len(row) - countTrailingEmpty(row); n > longest {
			longest = n
		}
	}
	if len(s.rows) == 0 || longest > len(s.header) {
		longest = len(s.header)
	}
	if longest < s.firstAnswer {
		longest = s.firstAnswer
	}
	s.header = s.header[:longest]
	for i, row := range s.rows {
		cleaned := make([]string, 0, longest)
		for j, cell := range row {
			if j >= longest {
				break
			}
			if s.firstAnswer >= 0 && j >= s.firstAnswer && cell == "" {
				cell = replaceEmptyWith
			}
			cleaned = append(cleaned, cell)
		}
		for len(cleaned) < longest {
			cleaned = append(cleaned, replaceEmptyWith)
		}
		s.rows[i] = cleaned
	}
	if s.firstAnswer >= 0 {
		s.NumQuestions = longest - s.firstAnswer
	}
}

// Reorder rearranges each row's answers according to a form-arrangement map
// sheet: one row per form code, with the answer columns holding the 1-based
// source position for each question. The form code of reordered rows is
// cleared, since the arrangement already normalized them to a single order.
func (s *Sheet) Reorder(arrangement *Sheet) error {
	fcIdx := arrangement.FieldIndex(TestFormCode)
	q1 := arrangement.FirstAnswerIndex()
	if fcIdx < 0 || q1 < 0 {
		return fmt.Errorf("arrangement sheet must have %q and %q columns",
			ColumnNames[TestFormCode], firstQuestionName)
	}

	orderMap := make(map[string][]int, arrangement.RowCount())
	for _, row := range arrangement.Rows() {
		code := cellAt(row, fcIdx)
		order := make([]int, 0, len(row)-q1)
		for _, cell := range row[q1:] {
			n, err := strconv.Atoi(cell)
			if err != nil {
				return fmt.Errorf("arrangement entry for %q: invalid position %q", code, cell)
			}
			order = append(order, n-1)
		}
		if err := validateOrder(code, order, s.NumQuestions); err != nil {
			return err
		}
		orderMap[code] = order
	}

	sheetFC := s.FieldIndex(TestFormCode)
	sheetQ1 := s.FirstAnswerIndex()
	if sheetFC < 0 || sheetQ1 < 0 {
		return fmt.Errorf("sheet must have %q and %q columns to reorder",
			ColumnNames[TestFormCode], firstQuestionName)
	}

	for i, row := range s.rows {
		code := cellAt(row, sheetFC)
		order, ok := orderMap[code]
		if !ok {
			return fmt.Errorf("arrangement file is missing entry for key %q", code)
		}
		reordered := append([]string(nil), row[:sheetQ1]...)
		for _, src := range order {
			reordered = append(reordered, cellAt(row, sheetQ1+src))
		}
		reordered[sheetFC] = ""
		s.rows[i] = reordered
	}
	return nil
}

func validateOrder(code string, order []int, numQuestions int) error {
	if len(order) != numQuestions {
		return fmt.Errorf("arrangement entry for %q is invalid: expected %d positions, got %d",
			code, numQuestions, len(order))
	}
	seen := make(map[int]bool, len(order))
	for _, n := range order {
		if n < 0 || n >= numQuestions || seen[n] {
			return fmt.Errorf("arrangement entry for %q is invalid: positions must be a permutation of 1..%d",
				code, numQuestions)
		}
		seen[n] = true
	}
	return nil
}

func indexOf(row []string, name string) int {
	for i, cell := range row {
		if cell == name {
			return i
		}
	}
	return -1
}

func stripAll(row []string) {
	for i, cell := range row {
		row[i] = strings.TrimSpace(cell)
	}
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func countTrailingEmpty(row []string) int {
	n := 0
	for i := len(row) - 1; i >= 0; i-- {
		if row[i] != "" {
			break
		}
		n++
	}
	return n
}
