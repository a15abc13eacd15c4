package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/rbac"
	"github.com/examdesk/examdesk/internal/workflow"
)

// POST /exams
func CreateExamHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in workflow.ExamInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		e, err := svc.CreateExam(r.Context(), rbac.SubjectFromContext(r.Context()), in)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}

// PUT /exams/{examID}
func UpdateExamHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in workflow.ExamInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		e, err := svc.UpdateExam(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()), in)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}

// DELETE /exams/{examID}
func DeleteExamHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.DeleteExam(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// GET /exams/{examID}
// Teachers see the full exam; students get answer keys stripped.
func GetExamHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := store.GetExam(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		sub := rbac.SubjectFromContext(r.Context())
		if role == "student" {
			e.Questions = exam.StripAnswerKeys(e.Questions)
		} else if role == "teacher" && e.OwnerID != sub {
			writeErr(w, exam.ErrForbidden)
			return
		}
		writeJSON(w, e)
	}
}

// POST /exams/{examID}/questions
func AddQuestionHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q exam.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		out, err := svc.AddQuestion(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()), q)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, out)
	}
}

// DELETE /exams/{examID}/questions/{questionID}
func RemoveQuestionHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.RemoveQuestion(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()), chi.URLParam(r, "questionID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "removed"})
	}
}

// POST /exams/{examID}/ready
func MarkReadyHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.MarkReady(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}

// POST /exams/{examID}/schedule  { "start_at": ..., "end_at": ..., "duration_minutes": ... }
func ScheduleExamHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StartAt     time.Time `json:"start_at"`
			EndAt       time.Time `json:"end_at"`
			DurationMin int       `json:"duration_minutes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		e, err := svc.Schedule(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()), req.StartAt, req.EndAt, req.DurationMin)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}

// POST /exams/{examID}/enrollments  { "student_id": "..." }
func EnrollStudentHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			StudentID string `json:"student_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.StudentID == "" {
			http.Error(w, "student_id required", http.StatusBadRequest)
			return
		}
		err := svc.EnrollStudent(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()), req.StudentID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "enrolled"})
	}
}

// GET /exams/{examID}/enrollments
func ListEnrollmentsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		e, err := store.GetExam(r.Context(), examID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if e.OwnerID != rbac.SubjectFromContext(r.Context()) {
			writeErr(w, exam.ErrForbidden)
			return
		}
		ids, err := store.ListEnrollments(r.Context(), examID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"exam_id": examID, "students": ids})
	}
}
