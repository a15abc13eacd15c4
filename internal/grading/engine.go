package grading

import (
	"context"
	"errors"
	"strings"
)

// Q is the minimal view of a question needed for grading. It mirrors the exam
// package's question without importing it, so the store can depend on the
// grader and not the other way around.
type Q struct {
	Kind       string // "choice" | "essay"
	Mode       string // "single" | "multiple"
	Policy     string // choice policy
	Points     float64
	OptionIDs  []string
	CorrectIDs []string
}

// Result is the outcome of grading a single answer.
type Result struct {
	Points      float64 // points awarded automatically
	MaxPoints   float64 // the question's max points
	NeedsManual bool    // true if teacher review is required
}

// Strategy grades a single question kind.
type Strategy interface {
	Grade(ctx context.Context, q Q, content string) (Result, error)
}

// Grader routes by question kind to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, content string) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, content string) (Result, error) {
	s, ok := g.strategies[q.Kind]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true}, nil
	}
	return s.Grade(ctx, q, content)
}

// NewDefaultGrader installs the built-in strategies.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			"choice": choiceStrategy{},
			"essay":  essayStrategy{},
		},
	}
}

type choiceStrategy struct{}

func (choiceStrategy) Grade(_ context.Context, q Q, content string) (Result, error) {
	res := Result{MaxPoints: q.Points}
	selected := ParseSelection(content)
	if q.Mode == "single" {
		if len(selected) == 1 && contains(q.CorrectIDs, selected[0]) {
			res.Points = q.Points
		}
		return res, nil
	}

	totalCorrect := len(q.CorrectIDs)
	if totalCorrect == 0 {
		return res, nil
	}
	var good, bad int
	for _, id := range selected {
		if contains(q.CorrectIDs, id) {
			good++
		} else {
			bad++
		}
	}

	switch q.Policy {
	case "all_or_nothing", "":
		if good == totalCorrect && bad == 0 {
			res.Points = q.Points
		}
	case "average_correct":
		res.Points = float64(good) / float64(totalCorrect) * q.Points
	case "average_correct_and_incorrect":
		net := good - bad
		if net < 0 {
			net = 0
		}
		res.Points = float64(net) / float64(totalCorrect) * q.Points
	default:
		return res, errors.New("unknown choice policy: " + q.Policy)
	}
	return res, nil
}

// essayStrategy never awards points automatically.
type essayStrategy struct{}

func (essayStrategy) Grade(_ context.Context, q Q, _ string) (Result, error) {
	return Result{MaxPoints: q.Points, NeedsManual: true}, nil
}

// ParseSelection splits a saved choice answer into option ids. Tolerates the
// bracketed/quoted forms older clients sent ("[a, b]", `"a","b"`).
func ParseSelection(content string) []string {
	r := strings.NewReplacer("[", "", "]", "", `"`, "")
	var out []string
	for _, p := range strings.Split(r.Replace(content), ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JoinSelection is the inverse of ParseSelection: the canonical stored form.
func JoinSelection(ids []string) string {
	return strings.Join(ids, ",")
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
