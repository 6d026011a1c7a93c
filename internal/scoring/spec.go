// Package scoring grades submitted answer sheets against answer keys and
// assembles the scored output sheet.
package scoring

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Wildcard is the reserved form code meaning "applies to every submission".
const Wildcard = "*"

var (
	// ErrInvalidKeyFormat means the key sheet has no Q1 column, so the
	// scorer cannot tell where the answers begin.
	ErrInvalidKeyFormat = errors.New("invalid key sheet: answer columns must be named Q1 through QN")

	// ErrUnsupportedSpec means a key cell is outside the closed
	// specification grammar. A malformed key invalidates the whole run.
	ErrUnsupportedSpec = errors.New("unsupported answer specification")
)

// Kind tags the closed set of correct-answer specification variants.
type Kind int

const (
	// Single is exactly one letter or digit.
	Single Kind = iota
	// Set is a bracketed, pipe-delimited set of acceptable choices,
	// e.g. [A|C]. Credit is given on any intersection with the answer.
	Set
	// Canceled is a bare "*": everyone is excluded from this question.
	Canceled
	// PrefixSingle is "*X": credit on exact match, excluded otherwise.
	PrefixSingle
	// PrefixSet is "*[X|Y]": credit on intersection, excluded otherwise.
	PrefixSet
)

// Spec is one parsed correct-answer specification. Parsing happens once per
// key cell at key-build time, never per submission.
type Spec struct {
	Kind    Kind
	Choice  string   // Single, PrefixSingle
	Choices []string // Set, PrefixSet, in source order
}

// ParseSpec parses a raw key cell into a Spec. Any shape outside the
// documented grammar is a data-entry error in the key sheet and is rejected
// with ErrUnsupportedSpec rather than silently mis-scored.
func ParseSpec(raw string) (Spec, error) {
	v := strings.TrimSpace(raw)
	switch {
	case v == Wildcard:
		return Spec{Kind: Canceled}, nil
	case strings.HasPrefix(v, Wildcard):
		inner, err := ParseSpec(v[1:])
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedSpec, raw)
		}
		switch inner.Kind {
		case Single:
			return Spec{Kind: PrefixSingle, Choice: inner.Choice}, nil
		case Set:
			return Spec{Kind: PrefixSet, Choices: inner.Choices}, nil
		default:
			return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedSpec, raw)
		}
	case strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]"):
		choices, ok := parseSet(v)
		if !ok {
			return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedSpec, raw)
		}
		return Spec{Kind: Set, Choices: choices}, nil
	case utf8.RuneCountInString(v) == 1:
		return Spec{Kind: Single, Choice: v}, nil
	default:
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedSpec, raw)
	}
}

// parseSet splits a bracketed pipe-delimited value into its alternatives.
func parseSet(v string) ([]string, bool) {
	body := strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if body == "" {
		return nil, false
	}
	parts := strings.Split(body, "|")
	choices := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, false
		}
		choices = append(choices, p)
	}
	return choices, true
}
