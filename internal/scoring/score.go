package scoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/scanmark/scanmark/internal/sheet"
)

const (
	// KeyNotFound flags a response row whose form code has no matching key
	// and no wildcard key exists. The row is kept in the output.
	KeyNotFound = "NO KEY FOUND"

	// Ungraded flags a response row for which every question was excluded,
	// leaving the percentage without a denominator.
	Ungraded = "UNGRADED"

	// NotApplicable is the serialized graded value of an excluded question,
	// deliberately not a valid number so consumers can tell it apart from
	// zero credit.
	NotApplicable = "NA"
)

// ErrInvalidResponseFormat means the response sheet has no Q1 column.
var ErrInvalidResponseFormat = errors.New("invalid response sheet: answer columns must be named Q1 through QN")

// Score grades every response row against the key sheet and returns a new
// sheet holding the original identifying fields, the computed score and
// points columns, and one graded value per question. Neither input is
// mutated; scoring the same pair twice yields identical output.
func Score(responses, keys *sheet.Sheet) (*sheet.Sheet, error) {
	dict, err := BuildKeyDict(keys)
	if err != nil {
		return nil, fmt.Errorf("build key dictionary: %w", err)
	}

	// The longest key variant decides the question count for the whole
	// run; shorter variants (say, a makeup exam) leave trailing cells
	// empty.
	numQuestions := 0
	for _, entry := range dict {
		if len(entry.Specs) > numQuestions {
			numQuestions = len(entry.Specs)
		}
	}

	q1 := responses.FirstAnswerIndex()
	if q1 < 0 {
		return nil, ErrInvalidResponseFormat
	}
	fcIdx := responses.FieldIndex(sheet.TestFormCode)

	outFields := make([]sheet.Field, 0, len(responses.Fields)+2)
	outFields = append(outFields, responses.Fields...)
	outFields = append(outFields, sheet.Score, sheet.Points)
	scored := sheet.New(outFields, numQuestions)

	for _, row := range responses.Rows() {
		fields := make(map[sheet.Field]string, len(responses.Fields)+2)
		for _, f := range responses.Fields {
			fields[f] = responses.FieldValue(row, f)
		}

		formCode := ""
		if fcIdx >= 0 && fcIdx < len(row) {
			formCode = row[fcIdx]
		}
		slog.Debug("scoring response", "form_code", formCode)

		// A wildcard key overrides per-form keys for every row.
		entry, ok := dict[Wildcard]
		if !ok {
			entry, ok = dict[formCode]
		}
		if !ok {
			fields[sheet.Score] = KeyNotFound
			fields[sheet.Points] = KeyNotFound
			scored.Append(fields, nil)
			continue
		}

		var answers []string
		if q1 < len(row) {
			answers = row[q1:]
		}
		n := min(len(answers), len(entry.Specs))

		var earned, denominator, totalWeight float64
		for _, w := range entry.Weights {
			totalWeight += w
		}
		cells := make([]string, 0, n)
		for i := 0; i < n; i++ {
			res := Grade(answers[i], entry.Specs[i], entry.Weights[i])
			switch res.Verdict {
			case Excluded:
				cells = append(cells, NotApplicable)
			default:
				denominator += entry.Weights[i]
				earned += res.Points
				cells = append(cells, formatPoints(res.Points))
			}
		}

		if denominator == 0 {
			fields[sheet.Score] = Ungraded
			fields[sheet.Points] = Ungraded
		} else {
			fraction := earned / denominator
			fields[sheet.Score] = formatRounded(fraction * 100)
			fields[sheet.Points] = formatRounded(fraction * totalWeight)
		}
		scored.Append(fields, cells)
	}

	return scored, nil
}

// MissingKeyCount reports how many rows of a scored sheet were flagged with
// the key-not-found sentinel.
func MissingKeyCount(scored *sheet.Sheet) int {
	n := 0
	for _, row := range scored.Rows() {
		if scored.FieldValue(row, sheet.Score) == KeyNotFound {
			n++
		}
	}
	return n
}

// formatRounded renders a score or point total rounded to 2 decimal digits.
func formatRounded(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64)
}

// formatPoints renders a per-question graded value without trailing zeros.
func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
