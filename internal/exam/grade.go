package exam

import (
	"context"

	"github.com/examdesk/examdesk/internal/grading"
)

// AutoGradeChoiceAnswers grades every ungraded choice answer of the attempt in
// place and returns how many were graded. Essay answers are left for manual
// grading. Answers whose question no longer exists are skipped.
func AutoGradeChoiceAnswers(ctx context.Context, e Exam, a *Attempt, grader grading.Grader) int {
	graded := 0
	for i := range a.Answers {
		ans := &a.Answers[i]
		if ans.Graded {
			continue
		}
		q := e.Question(ans.QuestionID)
		if q == nil || q.Kind != KindChoice {
			continue
		}
		res, err := grader.Grade(ctx, GradingView(*q), ans.Content)
		if err != nil {
			continue
		}
		ans.PartialScore = res.Points
		ans.Graded = true
		ans.AutoGraded = true
		graded++
	}
	a.Graded = a.AllGraded()
	return graded
}

// SumPartialScores recomputes the attempt's final score from its answers.
func SumPartialScores(a *Attempt) {
	sum := 0.0
	for _, ans := range a.Answers {
		sum += ans.PartialScore
	}
	a.FinalScore = sum
}
