// Package workflow implements the teacher-facing exam lifecycle: authoring in
// draft, readiness, scheduling, grading of closed exams, and publication of
// scores. Every operation is ownership-checked and guarded by the exam state
// table; illegal moves return *exam.TransitionError with a user-facing
// message and change nothing.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/grading"
	"github.com/examdesk/examdesk/internal/journal"
)

type Service struct {
	store   exam.Store
	grader  grading.Grader
	journal journal.Recorder
	now     func() time.Time
}

func NewService(store exam.Store, grader grading.Grader, rec journal.Recorder) *Service {
	if rec == nil {
		rec = journal.Nop{}
	}
	return &Service{store: store, grader: grader, journal: rec, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func transitionf(format string, args ...interface{}) error {
	return &exam.TransitionError{Msg: fmt.Sprintf(format, args...)}
}

// ownedExam loads the exam and enforces that teacherID is its owner.
func (s *Service) ownedExam(ctx context.Context, examID, teacherID string) (exam.Exam, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return exam.Exam{}, err
	}
	if e.OwnerID != teacherID {
		return exam.Exam{}, exam.ErrForbidden
	}
	return e, nil
}

type ExamInput struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DurationMin int        `json:"duration_minutes"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
}

func (s *Service) CreateExam(ctx context.Context, teacherID string, in ExamInput) (exam.Exam, error) {
	if in.Title == "" {
		return exam.Exam{}, transitionf("exam title is required")
	}
	e := exam.Exam{
		ID:          uuid.NewString(),
		OwnerID:     teacherID,
		Title:       in.Title,
		Description: in.Description,
		DurationMin: in.DurationMin,
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		State:       exam.StateDraft,
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	s.journal.Record(ctx, teacherID, "exam.created", e.ID, nil)
	return e, nil
}

func (s *Service) UpdateExam(ctx context.Context, examID, teacherID string, in ExamInput) (exam.Exam, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Exam{}, err
	}
	if e.State != exam.StateDraft {
		return exam.Exam{}, transitionf("only draft exams can be edited")
	}
	if in.Title != "" {
		e.Title = in.Title
	}
	e.Description = in.Description
	if in.DurationMin > 0 {
		e.DurationMin = in.DurationMin
	}
	if in.StartAt != nil {
		e.StartAt = in.StartAt
	}
	if in.EndAt != nil {
		e.EndAt = in.EndAt
	}
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	return e, nil
}

func (s *Service) DeleteExam(ctx context.Context, examID, teacherID string) error {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return err
	}
	if e.State != exam.StateDraft && e.State != exam.StateReady {
		return transitionf("only draft or ready exams can be deleted")
	}
	if err := s.store.DeleteExam(ctx, examID); err != nil {
		return err
	}
	s.journal.Record(ctx, teacherID, "exam.deleted", examID, nil)
	return nil
}

// AddQuestion attaches a question to a draft exam, enforcing the choice
// invariants (>=2 options; single mode exactly one correct; multiple mode at
// least one correct; positive points).
func (s *Service) AddQuestion(ctx context.Context, examID, teacherID string, q exam.Question) (exam.Question, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Question{}, err
	}
	if e.State != exam.StateDraft {
		return exam.Question{}, transitionf("questions can only be added while the exam is a draft")
	}
	if err := validateQuestion(&q); err != nil {
		return exam.Question{}, err
	}
	q.ID = uuid.NewString()
	q.ExamID = examID
	for i := range q.Options {
		if q.Options[i].ID == "" {
			q.Options[i].ID = uuid.NewString()
		}
	}
	e.Questions = append(e.Questions, q)
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Question{}, err
	}
	return q, nil
}

func (s *Service) RemoveQuestion(ctx context.Context, examID, teacherID, questionID string) error {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return err
	}
	if e.State != exam.StateDraft {
		return transitionf("questions can only be removed while the exam is a draft")
	}
	// Build a fresh slice; compacting in place would scribble over the
	// backing array shared with copies handed out by the store.
	kept := make([]exam.Question, 0, len(e.Questions))
	found := false
	for _, q := range e.Questions {
		if q.ID == questionID {
			found = true
			continue
		}
		kept = append(kept, q)
	}
	if !found {
		return exam.ErrQuestionNotFound
	}
	e.Questions = kept
	return s.store.PutExam(ctx, e)
}

func validateQuestion(q *exam.Question) error {
	if q.Points <= 0 {
		return transitionf("question points must be positive")
	}
	switch q.Kind {
	case exam.KindEssay:
		return nil
	case exam.KindChoice:
	default:
		return transitionf("unknown question kind %q", q.Kind)
	}
	if len(q.Options) < 2 {
		return transitionf("choice questions need at least two options")
	}
	correct := len(q.CorrectOptionIDs())
	switch q.Mode {
	case exam.ModeSingle:
		if correct != 1 {
			return transitionf("single-choice questions need exactly one correct option")
		}
		q.MaxChoices = 1
	case exam.ModeMultiple:
		if correct < 1 {
			return transitionf("multiple-choice questions need at least one correct option")
		}
		if q.MaxChoices <= 0 || q.MaxChoices > len(q.Options) {
			q.MaxChoices = len(q.Options)
		}
	default:
		return transitionf("unknown choice mode %q", q.Mode)
	}
	if q.Policy == "" {
		q.Policy = exam.PolicyAllOrNothing
	}
	return nil
}

// MarkReady moves a draft exam to ready after the authoring checks pass.
func (s *Service) MarkReady(ctx context.Context, examID, teacherID string) (exam.Exam, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Exam{}, err
	}
	if e.State != exam.StateDraft {
		return exam.Exam{}, transitionf("only draft exams can be marked ready")
	}
	if e.Title == "" {
		return exam.Exam{}, transitionf("exam title is required")
	}
	if len(e.Questions) == 0 {
		return exam.Exam{}, transitionf("an exam needs at least one question before it can be ready")
	}
	if err := validateSchedule(e.StartAt, e.EndAt, e.DurationMin); err != nil {
		return exam.Exam{}, err
	}
	e.State = exam.StateReady
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	s.journal.Record(ctx, teacherID, "exam.ready", e.ID, nil)
	return e, nil
}

// Schedule sets the exam window and duration. Allowed in draft, ready and
// open; the state does not change.
func (s *Service) Schedule(ctx context.Context, examID, teacherID string, start, end time.Time, durationMin int) (exam.Exam, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Exam{}, err
	}
	if e.State == exam.StateClosed {
		return exam.Exam{}, transitionf("closed exams cannot be rescheduled")
	}
	if err := validateSchedule(&start, &end, durationMin); err != nil {
		return exam.Exam{}, err
	}
	e.StartAt, e.EndAt, e.DurationMin = &start, &end, durationMin
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	return e, nil
}

func validateSchedule(start, end *time.Time, durationMin int) error {
	if start == nil || end == nil {
		return transitionf("exam start and end must be scheduled")
	}
	if end.Before(*start) {
		return transitionf("exam end must be after its start")
	}
	if durationMin <= 0 {
		return transitionf("exam duration must be positive")
	}
	if window := int(end.Sub(*start) / time.Minute); durationMin > window {
		return transitionf("exam duration (%d min) exceeds the scheduled window (%d min)", durationMin, window)
	}
	return nil
}

func (s *Service) EnrollStudent(ctx context.Context, examID, teacherID, studentID string) error {
	if _, err := s.ownedExam(ctx, examID, teacherID); err != nil {
		return err
	}
	return s.store.Enroll(ctx, examID, studentID)
}

// AttemptsNeedingGrading lists terminal attempts of the teacher's exam that
// still have an ungraded essay answer, oldest submission first.
func (s *Service) AttemptsNeedingGrading(ctx context.Context, examID, teacherID string) ([]exam.Attempt, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListAttempts(ctx, exam.AttemptListOpts{ExamID: examID})
	if err != nil {
		return nil, err
	}
	var out []exam.Attempt
	for _, a := range all {
		if !a.State.Terminal() || a.Graded {
			continue
		}
		for _, ans := range a.Answers {
			q := e.Question(ans.QuestionID)
			if q != nil && q.Kind == exam.KindEssay && !ans.Graded {
				out = append(out, a)
				break
			}
		}
	}
	// oldest submission first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].SubmittedAt != nil && out[i].SubmittedAt != nil &&
				out[j].SubmittedAt.Before(*out[i].SubmittedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GradeEssay records a manual grade for one essay answer of a terminal
// attempt. The score must fit [0, question points].
func (s *Service) GradeEssay(ctx context.Context, attemptID, teacherID, questionID string, score float64, comment string) (exam.Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, err
	}
	e, err := s.ownedExam(ctx, a.ExamID, teacherID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if e.State != exam.StateClosed {
		return exam.Attempt{}, transitionf("grading is only possible once the exam is closed")
	}
	if !a.State.Terminal() {
		return exam.Attempt{}, transitionf("this attempt is still in progress and cannot be graded")
	}
	q := e.Question(questionID)
	if q == nil {
		return exam.Attempt{}, exam.ErrQuestionNotFound
	}
	if q.Kind != exam.KindEssay {
		return exam.Attempt{}, transitionf("only essay questions can be graded manually")
	}
	if score < 0 {
		return exam.Attempt{}, transitionf("the score cannot be negative")
	}
	if score > q.Points {
		return exam.Attempt{}, transitionf("the score (%.1f) exceeds the question's points (%.1f)", score, q.Points)
	}
	ans := a.Answer(questionID)
	if ans == nil {
		// An unanswered essay still gets a grade entry (typically zero).
		a.Answers = append(a.Answers, exam.Answer{
			ID:         uuid.NewString(),
			AttemptID:  a.ID,
			QuestionID: questionID,
			UpdatedAt:  s.now().Unix(),
		})
		ans = a.Answer(questionID)
	}
	ans.PartialScore = score
	ans.Comment = comment
	ans.Graded = true
	ans.AutoGraded = false
	a.Graded = a.AllGraded()
	exam.SumPartialScores(&a)
	if err := s.store.SaveAttempt(ctx, a); err != nil {
		return exam.Attempt{}, err
	}
	return a, nil
}

// UndoGrade resets one answer's grade and the attempt's graded flag.
func (s *Service) UndoGrade(ctx context.Context, attemptID, teacherID, questionID string) (exam.Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if _, err := s.ownedExam(ctx, a.ExamID, teacherID); err != nil {
		return exam.Attempt{}, err
	}
	ans := a.Answer(questionID)
	if ans == nil {
		return exam.Attempt{}, exam.ErrAnswerNotFound
	}
	ans.PartialScore = 0
	ans.Comment = ""
	ans.Graded = false
	ans.AutoGraded = false
	a.Graded = false
	a.FinalScoreComputed = false
	exam.SumPartialScores(&a)
	if err := s.store.SaveAttempt(ctx, a); err != nil {
		return exam.Attempt{}, err
	}
	return a, nil
}

// AutoGradeChoice grades every ungraded choice answer across the closed
// exam's terminal attempts and returns how many answers were graded.
func (s *Service) AutoGradeChoice(ctx context.Context, examID, teacherID string) (int, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return 0, err
	}
	if e.State != exam.StateClosed {
		return 0, transitionf("auto-grading is only possible once the exam is closed")
	}
	attempts, err := s.store.ListAttempts(ctx, exam.AttemptListOpts{ExamID: examID})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, a := range attempts {
		if !a.State.Terminal() {
			continue
		}
		n := exam.AutoGradeChoiceAnswers(ctx, e, &a, s.grader)
		if n == 0 {
			continue
		}
		exam.SumPartialScores(&a)
		if err := s.store.SaveAttempt(ctx, a); err != nil {
			return total, err
		}
		total += n
	}
	s.journal.Record(ctx, teacherID, "exam.autograded", examID, map[string]int{"answers": total})
	return total, nil
}

// ComputeFinalScores sums partial scores per terminal attempt and marks the
// final score computed. It fails if any essay answer is still ungraded.
func (s *Service) ComputeFinalScores(ctx context.Context, examID, teacherID string) ([]exam.Attempt, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return nil, err
	}
	if e.State != exam.StateClosed {
		return nil, transitionf("final scores can only be computed once the exam is closed")
	}
	attempts, err := s.store.ListAttempts(ctx, exam.AttemptListOpts{ExamID: examID})
	if err != nil {
		return nil, err
	}
	for _, a := range attempts {
		if !a.State.Terminal() {
			continue
		}
		for _, ans := range a.Answers {
			q := e.Question(ans.QuestionID)
			if q != nil && q.Kind == exam.KindEssay && !ans.Graded {
				return nil, transitionf("essay answers are still ungraded; grade them before computing final scores")
			}
		}
	}
	var out []exam.Attempt
	for _, a := range attempts {
		if !a.State.Terminal() {
			continue
		}
		exam.AutoGradeChoiceAnswers(ctx, e, &a, s.grader)
		exam.SumPartialScores(&a)
		a.FinalScoreComputed = true
		a.Graded = a.AllGraded()
		if err := s.store.SaveAttempt(ctx, a); err != nil {
			return out, err
		}
		out = append(out, a)
	}
	s.journal.Record(ctx, teacherID, "exam.finalized", examID, map[string]int{"attempts": len(out)})
	return out, nil
}

// PublishScores flips scores-visible on a closed, fully graded exam.
func (s *Service) PublishScores(ctx context.Context, examID, teacherID string) (exam.Exam, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Exam{}, err
	}
	if e.State != exam.StateClosed {
		return exam.Exam{}, transitionf("scores can only be published once the exam is closed")
	}
	attempts, err := s.store.ListAttempts(ctx, exam.AttemptListOpts{ExamID: examID})
	if err != nil {
		return exam.Exam{}, err
	}
	for _, a := range attempts {
		if a.State.Terminal() && !a.Graded {
			return exam.Exam{}, transitionf("not every attempt is fully graded yet")
		}
	}
	e.ScoresVisible = true
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	s.journal.Record(ctx, teacherID, "exam.scores_published", examID, nil)
	return e, nil
}

func (s *Service) HideScores(ctx context.Context, examID, teacherID string) (exam.Exam, error) {
	e, err := s.ownedExam(ctx, examID, teacherID)
	if err != nil {
		return exam.Exam{}, err
	}
	e.ScoresVisible = false
	if err := s.store.PutExam(ctx, e); err != nil {
		return exam.Exam{}, err
	}
	s.journal.Record(ctx, teacherID, "exam.scores_hidden", examID, nil)
	return e, nil
}

// StudentResult is gated on the exam being closed with scores visible, even
// when a score already exists internally.
func (s *Service) StudentResult(ctx context.Context, examID, studentID string) (exam.Result, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return exam.Result{}, err
	}
	if e.State != exam.StateClosed || !e.ScoresVisible {
		return exam.Result{}, exam.ErrNotAvailable
	}
	a, err := s.store.AttemptByExamStudent(ctx, examID, studentID)
	if err != nil {
		return exam.Result{}, err
	}
	return exam.Result{
		ExamID:     e.ID,
		ExamTitle:  e.Title,
		AttemptID:  a.ID,
		State:      a.State,
		FinalScore: a.FinalScore,
		MaxScore:   e.MaxScore(),
	}, nil
}
