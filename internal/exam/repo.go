package exam

import (
	"context"
	"time"

	"github.com/examdesk/examdesk/internal/grading"
)

type ListOpts struct {
	Q          string
	Limit      int
	Offset     int
	ViewerID   string
	ViewerRole string // "student" | "teacher" | "admin"
}

type AttemptListOpts struct {
	ExamID    string
	StudentID string
	State     string // optional: in_progress|submitted|expired
	Limit     int
	Offset    int
}

type ExamSummary struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	State       ExamState  `json:"state"`
	DurationMin int        `json:"duration_minutes"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	OwnerID     string     `json:"owner_id"`
}

// Store is the persistence boundary. Attempt lifecycle rules (idempotent
// start, save-while-in-progress, idempotent submit with auto-grading) live in
// the implementations so every caller gets the same semantics.
type Store interface {
	PutExam(ctx context.Context, e Exam) error
	GetExam(ctx context.Context, id string) (Exam, error)
	DeleteExam(ctx context.Context, id string) error
	ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error)
	ListExamsByState(ctx context.Context, st ExamState) ([]Exam, error)

	Enroll(ctx context.Context, examID, studentID string) error
	IsEnrolled(ctx context.Context, examID, studentID string) (bool, error)
	ListEnrollments(ctx context.Context, examID string) ([]string, error)

	// StartAttempt is idempotent: an in-progress, non-expired attempt for the
	// pair is returned as-is. An expired one is finalized first.
	StartAttempt(ctx context.Context, examID, studentID string, now time.Time) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	AttemptByExamStudent(ctx context.Context, examID, studentID string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	ListExpiredAttempts(ctx context.Context, now time.Time) ([]Attempt, error)

	// SaveAnswer rejects writes once the attempt is terminal or past its
	// deadline, so a late autosave cannot resurrect a submitted attempt.
	SaveAnswer(ctx context.Context, attemptID, studentID, questionID, content string, now time.Time) (Attempt, error)

	// Submit is idempotent; expired marks the terminal state as expired
	// rather than submitted. Choice answers are auto-graded on the way.
	Submit(ctx context.Context, attemptID, studentID string, now time.Time, expired bool) (Attempt, error)

	// SaveAttempt persists grading/finalization updates made by the workflow.
	SaveAttempt(ctx context.Context, a Attempt) error
}

// GradingView converts a question into the grader's input shape.
func GradingView(q Question) grading.Q {
	ids := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		ids = append(ids, o.ID)
	}
	return grading.Q{
		Kind:       string(q.Kind),
		Mode:       string(q.Mode),
		Policy:     string(q.Policy),
		Points:     q.Points,
		OptionIDs:  ids,
		CorrectIDs: q.CorrectOptionIDs(),
	}
}

// AttemptDeadline computes min(start + duration, exam end).
func AttemptDeadline(e Exam, start time.Time) time.Time {
	d := start.Add(time.Duration(e.DurationMin) * time.Minute)
	if e.EndAt != nil && e.EndAt.Before(d) {
		return *e.EndAt
	}
	return d
}
