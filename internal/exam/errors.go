package exam

import "errors"

var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAnswerNotFound   = errors.New("answer not found")
	ErrForbidden        = errors.New("forbidden")
	ErrNotEnrolled      = errors.New("student not enrolled in exam")
	ErrExamNotOpen      = errors.New("exam is not open")

	// ErrNotEditable covers answer writes against a terminal or expired
	// attempt. A late autosave racing a submit lands here and is dropped.
	ErrNotEditable = errors.New("attempt can no longer be modified")

	// ErrNotAvailable gates student result queries until the exam is closed
	// and scores are published.
	ErrNotAvailable = errors.New("results not available")
)

// TransitionError is an illegal workflow transition. The message is surfaced
// to the teacher verbatim; no state change happens.
type TransitionError struct{ Msg string }

func (e *TransitionError) Error() string { return e.Msg }

// IsTransition reports whether err is a workflow transition failure.
func IsTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
