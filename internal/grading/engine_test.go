package grading

import (
	"context"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestChoiceSingle(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{
		Kind:       "choice",
		Mode:       "single",
		Points:     2,
		OptionIDs:  []string{"a", "b", "c"},
		CorrectIDs: []string{"b"},
	}

	cases := []struct {
		name    string
		content string
		want    float64
	}{
		{"correct", "b", 2},
		{"wrong", "a", 0},
		{"empty", "", 0},
		{"multiple selected", "a,b", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := g.Grade(context.Background(), q, tc.content)
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if !almostEqual(res.Points, tc.want) {
				t.Fatalf("points = %v, want %v", res.Points, tc.want)
			}
			if res.NeedsManual {
				t.Fatal("choice answers never need manual review")
			}
		})
	}
}

func TestChoiceMultiplePolicies(t *testing.T) {
	g := NewDefaultGrader()
	base := Q{
		Kind:       "choice",
		Mode:       "multiple",
		Points:     4,
		OptionIDs:  []string{"a", "b", "c", "d"},
		CorrectIDs: []string{"a", "c"},
	}

	cases := []struct {
		name    string
		policy  string
		content string
		want    float64
	}{
		{"all-or-nothing exact", "all_or_nothing", "a,c", 4},
		{"all-or-nothing partial", "all_or_nothing", "a", 0},
		{"all-or-nothing extra pick", "all_or_nothing", "a,c,b", 0},
		{"all-or-nothing default policy", "", "a,c", 4},
		{"average-correct half", "average_correct", "a,b", 2},
		{"average-correct full ignores wrong", "average_correct", "a,b,c", 4},
		{"net penalizes wrong", "average_correct_and_incorrect", "a,b", 0},
		{"net floor at zero", "average_correct_and_incorrect", "b,d", 0},
		{"net exact", "average_correct_and_incorrect", "a,c", 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := base
			q.Policy = tc.policy
			res, err := g.Grade(context.Background(), q, tc.content)
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if !almostEqual(res.Points, tc.want) {
				t.Fatalf("points = %v, want %v", res.Points, tc.want)
			}
		})
	}
}

func TestChoiceUnknownPolicy(t *testing.T) {
	g := NewDefaultGrader()
	q := Q{Kind: "choice", Mode: "multiple", Policy: "bogus", Points: 1, CorrectIDs: []string{"a"}}
	if _, err := g.Grade(context.Background(), q, "a"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestEssayNeedsManual(t *testing.T) {
	g := NewDefaultGrader()
	res, err := g.Grade(context.Background(), Q{Kind: "essay", Points: 10}, "an answer")
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if !res.NeedsManual {
		t.Fatal("essay must need manual review")
	}
	if res.Points != 0 {
		t.Fatalf("essay auto points = %v, want 0", res.Points)
	}
	if res.MaxPoints != 10 {
		t.Fatalf("max points = %v, want 10", res.MaxPoints)
	}
}

func TestParseSelection(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b", []string{"a", "b"}},
		{"[a, b]", []string{"a", "b"}},
		{`"a","c"`, []string{"a", "c"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tc := range cases {
		got := ParseSelection(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("ParseSelection(%q) = %v, want %v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ParseSelection(%q) = %v, want %v", tc.in, got, tc.want)
			}
		}
	}
}
