package scoring

import "strings"

// Verdict classifies the outcome of grading one answer.
type Verdict int

const (
	// NoCredit means the answer was wrong: zero credit, counted in the
	// denominator.
	NoCredit Verdict = iota
	// Credit means full credit for the question's weight.
	Credit
	// Excluded means the question does not count for this submission at
	// all: excluded from both numerator and denominator.
	Excluded
)

// Result is the graded value of one answer.
type Result struct {
	Verdict Verdict
	Points  float64 // the question weight when Verdict is Credit, else 0
}

// Grade scores one submitted answer against one parsed specification and
// weight. Pure function, total over the parsed Spec variants.
func Grade(answer string, spec Spec, weight float64) Result {
	switch spec.Kind {
	case Canceled:
		return Result{Verdict: Excluded}
	case Single:
		if answer == spec.Choice {
			return Result{Verdict: Credit, Points: weight}
		}
		return Result{Verdict: NoCredit}
	case Set:
		if intersects(answerSet(answer), spec.Choices) {
			return Result{Verdict: Credit, Points: weight}
		}
		return Result{Verdict: NoCredit}
	case PrefixSingle:
		if answer == spec.Choice {
			return Result{Verdict: Credit, Points: weight}
		}
		return Result{Verdict: Excluded}
	case PrefixSet:
		if intersects(answerSet(answer), spec.Choices) {
			return Result{Verdict: Credit, Points: weight}
		}
		return Result{Verdict: Excluded}
	}
	return Result{Verdict: NoCredit}
}

// answerSet parses a submitted answer with the same set syntax as key cells:
// a student marking multiple bubbles arrives as [A|B]. Anything that does not
// parse as a set is a singleton.
func answerSet(answer string) []string {
	if strings.HasPrefix(answer, "[") && strings.HasSuffix(answer, "]") {
		if choices, ok := parseSet(answer); ok {
			return choices
		}
	}
	return []string{answer}
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
