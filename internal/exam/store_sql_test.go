package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/examdesk/examdesk/internal/db"
	"github.com/examdesk/examdesk/internal/grading"
)

func sqliteStore(t *testing.T, name string) *SQLStore {
	t.Helper()
	dsn := "file:" + name + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	// Serialize connections so the in-memory DB survives the whole test.
	dbh.SetMaxOpenConns(1)
	return NewSQLStore(dbh, "sqlite", grading.NewDefaultGrader())
}

func TestSQLActiveAttemptIndex(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t, "active_index")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// A second in-progress row for the same student must be rejected by the
	// unique active-attempt index.
	if err := store.insertAttempt(ctx, Attempt{
		ID: "dup", ExamID: "exam-1", StudentID: "student-1",
		State: AttemptInProgress, StartedAt: now, Deadline: now.Add(30 * time.Minute),
	}); err == nil {
		t.Fatal("second in-progress attempt was accepted")
	}

	// Once the attempt is terminal the index no longer blocks a fresh one.
	if _, err := store.Submit(ctx, a.ID, "student-1", now.Add(time.Minute), false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.insertAttempt(ctx, Attempt{
		ID: "fresh", ExamID: "exam-1", StudentID: "student-1",
		State: AttemptInProgress, StartedAt: now.Add(2 * time.Minute), Deadline: now.Add(32 * time.Minute),
	}); err != nil {
		t.Fatalf("fresh attempt after submit: %v", err)
	}
}

func TestSQLStartAttemptConcurrent(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t, "start_concurrent")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	const workers = 16
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
}

func TestSQLLateSaveRejectedAfterSubmit(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t, "late_save")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	openExam(t, store, now)

	a, err := store.StartAttempt(ctx, "exam-1", "student-1", now)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q1", "a", now); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Submit(ctx, a.ID, "student-1", now.Add(time.Minute), false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := store.SaveAnswer(ctx, a.ID, "student-1", "q2", "too late", now.Add(2*time.Minute)); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("late save: err = %v, want ErrNotEditable", err)
	}
	// The conditional write leaves a terminal row alone even when handed a
	// stale in-progress snapshot directly.
	stale := a
	stale.State = AttemptInProgress
	if err := store.saveAnswersInProgress(ctx, stale); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("stale write: err = %v, want ErrNotEditable", err)
	}

	got, err := store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != AttemptSubmitted {
		t.Fatalf("state = %s, want submitted", got.State)
	}
	choice := got.Answer("q1")
	if choice == nil || !choice.Graded || choice.PartialScore != 2 {
		t.Fatalf("auto-graded answer lost: %+v", choice)
	}
}
