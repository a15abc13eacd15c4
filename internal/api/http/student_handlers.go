package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/rbac"
)

// POST /attempts  { "exam_id": "..." }
// Starting is idempotent: an in-progress, non-expired attempt for the caller
// is returned unchanged.
func StartAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExamID string `json:"exam_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.ExamID == "" {
			http.Error(w, "exam_id required", http.StatusBadRequest)
			return
		}
		student := rbac.SubjectFromContext(r.Context())
		a, err := store.StartAttempt(r.Context(), req.ExamID, student, time.Now())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// GET /attempts/{attemptID}/session
// Question list (answer keys stripped) with any saved answer per question and
// the authoritative remaining seconds.
func SessionViewHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		student := rbac.SubjectFromContext(r.Context())
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if a.StudentID != student {
			writeErr(w, exam.ErrForbidden)
			return
		}
		e, err := store.GetExam(r.Context(), a.ExamID)
		if err != nil {
			writeErr(w, err)
			return
		}
		stripped := exam.StripAnswerKeys(e.Questions)
		view := exam.SessionView{
			AttemptID:        a.ID,
			ExamID:           e.ID,
			ExamTitle:        e.Title,
			State:            a.State,
			RemainingSeconds: a.RemainingSeconds(time.Now()),
			Questions:        make([]exam.SessionQuestion, 0, len(stripped)),
		}
		for _, q := range stripped {
			sq := exam.SessionQuestion{Question: q}
			if ans := a.Answer(q.ID); ans != nil {
				sq.SavedAnswer = ans.Content
			}
			view.Questions = append(view.Questions, sq)
		}
		writeJSON(w, view)
	}
}

// POST /attempts/{attemptID}/answers  { "question_id": "...", "content": "..." }
func SaveAnswerHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		var req struct {
			QuestionID string `json:"question_id"`
			Content    string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.QuestionID == "" {
			http.Error(w, "question_id required", http.StatusBadRequest)
			return
		}
		student := rbac.SubjectFromContext(r.Context())
		if _, err := store.SaveAnswer(r.Context(), id, student, req.QuestionID, req.Content, time.Now()); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// GET /attempts/{attemptID}/remaining
func RemainingTimeHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		student := rbac.SubjectFromContext(r.Context())
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if a.StudentID != student {
			writeErr(w, exam.ErrForbidden)
			return
		}
		writeJSON(w, map[string]interface{}{
			"remaining_seconds": a.RemainingSeconds(time.Now()),
			"state":             a.State,
		})
	}
}

// POST /attempts/{attemptID}/submit
// Idempotent: submitting a terminal attempt returns it unchanged.
func SubmitAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		student := rbac.SubjectFromContext(r.Context())
		now := time.Now()
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		expired := a.ExpiredAt(now)
		a, err = store.Submit(r.Context(), id, student, now, expired)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := store.GetAttempt(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())
		if role == "student" && a.StudentID != sub {
			writeErr(w, exam.ErrForbidden)
			return
		}
		writeJSON(w, a)
	}
}
