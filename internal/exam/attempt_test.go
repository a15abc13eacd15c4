package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/examdesk/examdesk/internal/grading"
)

func openExam(t *testing.T, store Store, now time.Time) Exam {
	t.Helper()
	end := now.Add(2 * time.Hour)
	e := Exam{
		ID:          "exam-1",
		OwnerID:     "teacher-1",
		Title:       "Midterm",
		DurationMin: 30,
		EndAt:       &end,
		State:       StateOpen,
		Questions: []Question{
			{
				ID: "q1", ExamID: "exam-1", Kind: KindChoice, Prompt: "pick one",
				Points: 2, Mode: ModeSingle,
				Options: []Option{{ID: "a", Correct: true}, {ID: "b"}},
			},
			{ID: "q2", ExamID: "exam-1", Kind: KindEssay, Prompt: "explain", Points: 5},
		},
	}
	if err := store.PutExam(context.Background(), e); err != nil {
		t.Fatalf("put exam: %v", err)
	}
	if err := store.Enroll(context.Background(), e.ID, "student-1"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return e
}

func TestStartAttemptIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a1, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	a2, err := store.StartAttempt(ctx, "exam-1", "student-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if a1.ID != a2.ID {
		t.Fatalf("restart created a new attempt: %s vs %s", a1.ID, a2.ID)
	}
	want := now.Add(30 * time.Minute)
	if !a1.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", a1.Deadline, want)
	}
}

func TestStartAttemptDeadlineClampedToExamEnd(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := openExam(t, store, now)

	// Start 10 minutes before the exam closes; the window wins over duration.
	late := e.EndAt.Add(-10 * time.Minute)
	a, err := store.StartAttempt(ctx, "exam-1", "student-1", late)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.Deadline.Equal(*e.EndAt) {
		t.Fatalf("deadline = %v, want exam end %v", a.Deadline, *e.EndAt)
	}
}

func TestStartAttemptGuards(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := openExam(t, store, now)

	if _, err := store.StartAttempt(ctx, "exam-1", "stranger", now); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("unenrolled start: err = %v, want ErrNotEnrolled", err)
	}

	e.State = StateClosed
	if err := store.PutExam(ctx, e); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.StartAttempt(ctx, "exam-1", "student-1", now); !errors.Is(err, ErrExamNotOpen) {
		t.Fatalf("closed start: err = %v, want ErrExamNotOpen", err)
	}
}

func TestSaveAnswerRejectsLateAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "a", now.Add(time.Minute)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.SaveAnswer(ctx, a.ID, "someone-else", "q1", "b", now.Add(time.Minute)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign save: err = %v, want ErrForbidden", err)
	}
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "missing", "x", now.Add(time.Minute)); !errors.Is(err, ErrQuestionNotFound) {
		t.Fatalf("unknown question: err = %v, want ErrQuestionNotFound", err)
	}

	// Past the deadline the attempt is no longer editable.
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "b", now.Add(31*time.Minute)); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("late save: err = %v, want ErrNotEditable", err)
	}

	if _, err := store.Submit(ctx, a.ID, "student-1", now.Add(2*time.Minute), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "b", now.Add(3*time.Minute)); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("post-submit save: err = %v, want ErrNotEditable", err)
	}
}

func TestSubmitIdempotentAndAutoGrades(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a, _ := store.StartAttempt(ctx, "exam-1", "student-1", now)
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "a", now); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q2", "free text", now); err != nil {
		t.Fatalf("save: %v", err)
	}

	s1, err := store.Submit(ctx, a.ID, "student-1", now.Add(5*time.Minute), false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if s1.State != AttemptSubmitted {
		t.Fatalf("state = %s, want submitted", s1.State)
	}
	choice := s1.Answer("q1")
	if choice == nil || !choice.Graded || !choice.AutoGraded || choice.PartialScore != 2 {
		t.Fatalf("choice answer not auto-graded: %+v", choice)
	}
	essay := s1.Answer("q2")
	if essay == nil || essay.Graded {
		t.Fatalf("essay must await manual grading: %+v", essay)
	}
	if s1.Graded {
		t.Fatal("attempt with ungraded essay must not be marked graded")
	}

	// A second submit (for instance a client retry) does not change anything.
	s2, err := store.Submit(ctx, a.ID, "student-1", now.Add(10*time.Minute), true)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if s2.State != AttemptSubmitted {
		t.Fatalf("resubmit flipped state to %s", s2.State)
	}
	if !s2.SubmittedAt.Equal(*s1.SubmittedAt) {
		t.Fatalf("resubmit moved SubmittedAt: %v vs %v", s2.SubmittedAt, s1.SubmittedAt)
	}
}

func TestStartAttemptConcurrentSingleActive(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	const workers = 64
	ids := make([]string, workers)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			a, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
			if err != nil {
				t.Errorf("start %d: %v", i, err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	close(gate)
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent starts produced distinct attempts: %s vs %s", ids[0], ids[i])
		}
	}
	active, err := store.ListAttempts(ctx, AttemptListOpts{ExamID: "exam-1", State: string(AttemptInProgress)})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("in-progress attempts = %d, want 1", len(active))
	}
}

func TestSaveAnswerRacingSubmitKeepsTerminalState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 200; i++ {
		store := NewInMemoryStore(grading.NewDefaultGrader())
		openExam(t, store, now)
		a, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "a", now); err != nil {
			t.Fatalf("save: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := store.Submit(ctx, a.ID, "student-1", now.Add(time.Minute), false); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			// Racing the submit: allowed before, ErrNotEditable after.
			if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q2", "draft", now.Add(time.Minute)); err != nil && !errors.Is(err, ErrNotEditable) {
				t.Errorf("racing save: %v", err)
			}
		}()
		wg.Wait()

		got, err := store.GetAttempt(ctx, a.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != AttemptSubmitted {
			t.Fatalf("late save revived the attempt: state = %s", got.State)
		}
		choice := got.Answer("q1")
		if choice == nil || !choice.Graded || choice.PartialScore != 2 {
			t.Fatalf("auto-graded answer lost in the race: %+v", choice)
		}
	}
}

func TestExpiredAttemptFinalizedOnRestart(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore(grading.NewDefaultGrader())
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a1, _ := store.StartAttempt(ctx, "exam-1", "student-1", now)

	// Coming back after the deadline finalizes the stale attempt as expired
	// and hands out a fresh one.
	later := now.Add(45 * time.Minute)
	a2, err := store.StartAttempt(ctx, "exam-1", "student-1", later)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if a2.ID == a1.ID {
		t.Fatal("expected a fresh attempt after expiry")
	}
	old, err := store.GetAttempt(ctx, a1.ID)
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.State != AttemptExpired {
		t.Fatalf("old attempt state = %s, want expired", old.State)
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := Attempt{State: AttemptInProgress, StartedAt: now, Deadline: now.Add(90 * time.Second)}

	if got := a.RemainingSeconds(now); got != 90 {
		t.Fatalf("remaining = %d, want 90", got)
	}
	if got := a.RemainingSeconds(now.Add(2 * time.Minute)); got != 0 {
		t.Fatalf("past-deadline remaining = %d, want 0", got)
	}
	a.State = AttemptSubmitted
	if got := a.RemainingSeconds(now); got != 0 {
		t.Fatalf("terminal remaining = %d, want 0", got)
	}
}

func TestStripAnswerKeys(t *testing.T) {
	qs := []Question{{
		ID: "q1", Kind: KindChoice,
		Options: []Option{{ID: "a", Correct: true}, {ID: "b"}},
	}}
	stripped := StripAnswerKeys(qs)
	for _, o := range stripped[0].Options {
		if o.Correct {
			t.Fatalf("option %s still flagged correct", o.ID)
		}
	}
	if !qs[0].Options[0].Correct {
		t.Fatal("strip mutated the source slice")
	}
}
