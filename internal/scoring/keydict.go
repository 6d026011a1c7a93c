package scoring

import (
	"fmt"

	"github.com/scanmark/scanmark/internal/sheet"
)

// KeyEntry is one published key variant: parsed specifications plus the
// point weight of each question, in question order. Specs and Weights are
// always the same length.
type KeyEntry struct {
	Specs   []Spec
	Weights []float64
}

// BuildKeyDict converts a key sheet into a mapping from form code to its
// key entry. When the sheet has no form-code column every key row is filed
// under the wildcard code, meaning it applies to all submissions.
//
// Point weights come from the sheet's P1..PN columns; variants without
// explicit weights default every question to weight 1.
func BuildKeyDict(keys *sheet.Sheet) (map[string]KeyEntry, error) {
	q1 := keys.FirstAnswerIndex()
	if q1 < 0 {
		return nil, ErrInvalidKeyFormat
	}
	fcIdx := keys.FieldIndex(sheet.TestFormCode)

	dict := make(map[string]KeyEntry, keys.RowCount())
	for i, row := range keys.Rows() {
		code := Wildcard
		if fcIdx >= 0 && fcIdx < len(row) {
			code = row[fcIdx]
		}

		var raw []string
		if q1 < len(row) {
			raw = row[q1:]
		}
		specs := make([]Spec, 0, len(raw))
		for qi, cell := range raw {
			sp, err := ParseSpec(cell)
			if err != nil {
				return nil, fmt.Errorf("key %q, question %d: %w", code, qi+1, err)
			}
			specs = append(specs, sp)
		}

		weights := keys.RowWeights(i)
		if len(weights) == 0 {
			weights = make([]float64, len(specs))
			for j := range weights {
				weights[j] = 1
			}
		}
		// A weight row shorter or longer than the answer row truncates
		// both to the shorter length.
		if len(weights) < len(specs) {
			specs = specs[:len(weights)]
		} else if len(specs) < len(weights) {
			weights = weights[:len(specs)]
		}

		dict[code] = KeyEntry{Specs: specs, Weights: weights}
	}
	return dict, nil
}
