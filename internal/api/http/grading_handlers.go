package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk/internal/rbac"
	"github.com/examdesk/examdesk/internal/workflow"
)

// GET /exams/{examID}/grading
func NeedsGradingHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := svc.AttemptsNeedingGrading(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, attempts)
	}
}

// POST /attempts/{attemptID}/grades  { "question_id": ..., "score": ..., "comment": ... }
func GradeEssayHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuestionID string  `json:"question_id"`
			Score      float64 `json:"score"`
			Comment    string  `json:"comment"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		a, err := svc.GradeEssay(r.Context(), chi.URLParam(r, "attemptID"),
			rbac.SubjectFromContext(r.Context()), req.QuestionID, req.Score, req.Comment)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// DELETE /attempts/{attemptID}/grades/{questionID}
func UndoGradeHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.UndoGrade(r.Context(), chi.URLParam(r, "attemptID"),
			rbac.SubjectFromContext(r.Context()), chi.URLParam(r, "questionID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /exams/{examID}/autograde
func AutoGradeHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.AutoGradeChoice(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, map[string]int{"graded": n})
	}
}

// POST /exams/{examID}/finalize
func ComputeFinalHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := svc.ComputeFinalScores(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, attempts)
	}
}

// POST /exams/{examID}/publish
func PublishScoresHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.PublishScores(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}

// POST /exams/{examID}/hide
func HideScoresHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := svc.HideScores(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, e)
	}
}
