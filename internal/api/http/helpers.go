package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/examdesk/examdesk/internal/exam"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps domain errors to HTTP statuses. Workflow transition failures
// carry their message through verbatim.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, exam.ErrExamNotFound),
		errors.Is(err, exam.ErrAttemptNotFound),
		errors.Is(err, exam.ErrQuestionNotFound),
		errors.Is(err, exam.ErrAnswerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, exam.ErrForbidden),
		errors.Is(err, exam.ErrNotEnrolled):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, exam.ErrNotAvailable):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, exam.ErrNotEditable),
		errors.Is(err, exam.ErrExamNotOpen),
		exam.IsTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
