package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/rbac"
	"github.com/examdesk/examdesk/internal/workflow"
)

// GET /exams?q=&limit=&offset=
// Students see only open exams they are enrolled in; teachers see their own.
func ListExamsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := exam.ListOpts{
			Q:          r.URL.Query().Get("q"),
			Limit:      parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset:     parseIntDefault(r.URL.Query().Get("offset"), 0),
			ViewerID:   rbac.SubjectFromContext(r.Context()),
			ViewerRole: rbac.RoleFromContext(r.Context()),
		}
		out, err := store.ListExams(r.Context(), opts)
		if err != nil {
			writeErr(w, err)
			return
		}
		if out == nil {
			out = []exam.ExamSummary{}
		}
		writeJSON(w, out)
	}
}

// GET /exams/{examID}/attempts?state=&limit=&offset=
func ListAttemptsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := chi.URLParam(r, "examID")
		e, err := store.GetExam(r.Context(), examID)
		if err != nil {
			writeErr(w, err)
			return
		}
		sub := rbac.SubjectFromContext(r.Context())
		if rbac.RoleFromContext(r.Context()) == "teacher" && e.OwnerID != sub {
			writeErr(w, exam.ErrForbidden)
			return
		}
		out, err := store.ListAttempts(r.Context(), exam.AttemptListOpts{
			ExamID: examID,
			State:  r.URL.Query().Get("state"),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 100),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		if out == nil {
			out = []exam.Attempt{}
		}
		writeJSON(w, out)
	}
}

// GET /exams/{examID}/result
// Returns the caller's own result; gated on closed+published.
func StudentResultHandler(svc *workflow.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.StudentResult(r.Context(), chi.URLParam(r, "examID"),
			rbac.SubjectFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, res)
	}
}
