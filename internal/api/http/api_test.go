package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/grading"
	"github.com/examdesk/examdesk/internal/rbac"
	"github.com/examdesk/examdesk/internal/session"
	"github.com/examdesk/examdesk/internal/workflow"
)

// asUser injects subject and role the way the JWT middleware does, without a
// token round trip.
func asUser(sub, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := rbac.WithSubject(r.Context(), sub)
			ctx = rbac.WithRole(ctx, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func studentRouter(store exam.Store, svc *workflow.Service, studentID string) http.Handler {
	r := chi.NewRouter()
	r.Use(asUser(studentID, "student"))
	r.Post("/attempts", StartAttemptHandler(store))
	r.Get("/attempts/{attemptID}/session", SessionViewHandler(store))
	r.Post("/attempts/{attemptID}/answers", SaveAnswerHandler(store))
	r.Get("/attempts/{attemptID}/remaining", RemainingTimeHandler(store))
	r.Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(store))
	r.Get("/exams/{examID}/result", StudentResultHandler(svc))
	return r
}

// seedOpenExam creates an open exam with one single-choice and one essay
// question and enrolls the student. Returns the exam as stored.
func seedOpenExam(t *testing.T, store exam.Store, studentID string) exam.Exam {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	start := now.Add(-time.Minute)
	end := now.Add(2 * time.Hour)
	e := exam.Exam{
		ID: "exam-1", OwnerID: "teacher-1", Title: "Midterm",
		DurationMin: 30, StartAt: &start, EndAt: &end, State: exam.StateOpen,
		Questions: []exam.Question{
			{ID: "q1", ExamID: "exam-1", Kind: exam.KindChoice, Prompt: "pick", Points: 2,
				Mode:    exam.ModeSingle,
				Options: []exam.Option{{ID: "a", Correct: true}, {ID: "b"}}},
			{ID: "q2", ExamID: "exam-1", Kind: exam.KindEssay, Prompt: "explain", Points: 5},
		},
	}
	if err := store.PutExam(ctx, e); err != nil {
		t.Fatalf("put exam: %v", err)
	}
	if err := store.Enroll(ctx, e.ID, studentID); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return e
}

func TestStudentFlowOverHTTP(t *testing.T) {
	store := exam.NewInMemoryStore(grading.NewDefaultGrader())
	svc := workflow.NewService(store, grading.NewDefaultGrader(), nil)
	seedOpenExam(t, store, "student-1")

	srv := httptest.NewServer(studentRouter(store, svc, "student-1"))
	defer srv.Close()

	// Start an attempt.
	resp, err := http.Post(srv.URL+"/attempts", "application/json",
		bytes.NewBufferString(`{"exam_id":"exam-1"}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var a exam.Attempt
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		t.Fatalf("decode attempt: %v", err)
	}
	resp.Body.Close()
	if a.State != exam.AttemptInProgress {
		t.Fatalf("state = %s, want in_progress", a.State)
	}

	// The session client drives the rest over the same endpoints.
	api := session.NewHTTPAPI(srv.URL, "unused-in-test", srv.Client())
	view, err := api.LoadSession(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if len(view.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(view.Questions))
	}
	for _, q := range view.Questions {
		for _, o := range q.Options {
			if o.Correct {
				t.Fatalf("answer key leaked for question %s", q.ID)
			}
		}
	}
	if view.RemainingSeconds <= 0 || view.RemainingSeconds > 30*60 {
		t.Fatalf("remaining = %d, want within the 30 minute window", view.RemainingSeconds)
	}

	if err := api.SaveAnswer(context.Background(), a.ID, "q1", "a"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := api.SaveAnswer(context.Background(), a.ID, "q2", "because"); err != nil {
		t.Fatalf("save essay: %v", err)
	}

	remaining, err := api.RemainingSeconds(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining <= 0 {
		t.Fatalf("remaining = %d, want positive", remaining)
	}

	submitted, err := api.Submit(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.State != exam.AttemptSubmitted {
		t.Fatalf("state = %s, want submitted", submitted.State)
	}

	// Saving again after submission is rejected with a conflict.
	if err := api.SaveAnswer(context.Background(), a.ID, "q1", "b"); err == nil {
		t.Fatal("post-submit save must fail")
	}

	// Results are gated until the teacher closes and publishes.
	res, err := http.Get(srv.URL + "/exams/exam-1/result")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-publication result status = %d, want 403", res.StatusCode)
	}
}

func TestForeignAttemptHiddenOverHTTP(t *testing.T) {
	store := exam.NewInMemoryStore(grading.NewDefaultGrader())
	svc := workflow.NewService(store, grading.NewDefaultGrader(), nil)
	seedOpenExam(t, store, "student-1")

	a, err := store.StartAttempt(context.Background(), "exam-1", "student-1", time.Now())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// A different student behind the same routes gets 403s.
	srv := httptest.NewServer(studentRouter(store, svc, "student-2"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/attempts/" + a.ID + "/session")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign session status = %d, want 403", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/attempts/"+a.ID+"/answers", "application/json",
		bytes.NewBufferString(`{"question_id":"q1","content":"a"}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign save status = %d, want 403", resp.StatusCode)
	}
}

func TestGradingAndPublicationOverHTTP(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore(grading.NewDefaultGrader())
	svc := workflow.NewService(store, grading.NewDefaultGrader(), nil)
	e := seedOpenExam(t, store, "student-1")

	a, _ := store.StartAttempt(ctx, e.ID, "student-1", time.Now())
	store.SaveAnswer(ctx, a.ID, "student-1", "q1", "a", time.Now())
	store.SaveAnswer(ctx, a.ID, "student-1", "q2", "because", time.Now())
	store.Submit(ctx, a.ID, "student-1", time.Now(), false)

	stored, _ := store.GetExam(ctx, e.ID)
	stored.State = exam.StateClosed
	store.PutExam(ctx, stored)

	r := chi.NewRouter()
	r.Use(asUser("teacher-1", "teacher"))
	r.Get("/exams/{examID}/grading", NeedsGradingHandler(svc))
	r.Post("/attempts/{attemptID}/grades", GradeEssayHandler(svc))
	r.Post("/exams/{examID}/finalize", ComputeFinalHandler(svc))
	r.Post("/exams/{examID}/publish", PublishScoresHandler(svc))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/exams/" + e.ID + "/grading")
	if err != nil {
		t.Fatalf("grading list: %v", err)
	}
	var pending []exam.Attempt
	json.NewDecoder(resp.Body).Decode(&pending)
	resp.Body.Close()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	// Publishing before grading conflicts.
	resp, _ = http.Post(srv.URL+"/exams/"+e.ID+"/publish", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("premature publish status = %d, want 409", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/attempts/"+a.ID+"/grades", "application/json",
		bytes.NewBufferString(`{"question_id":"q2","score":4,"comment":"solid"}`))
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grade status = %d, want 200", resp.StatusCode)
	}

	resp, _ = http.Post(srv.URL+"/exams/"+e.ID+"/finalize", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize status = %d, want 200", resp.StatusCode)
	}
	resp, _ = http.Post(srv.URL+"/exams/"+e.ID+"/publish", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("publish status = %d, want 200", resp.StatusCode)
	}

	res, err := svc.StudentResult(ctx, e.ID, "student-1")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if res.FinalScore != 6 || res.MaxScore != 7 {
		t.Fatalf("result = %+v, want 6/7", res)
	}
}
