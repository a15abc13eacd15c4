package exam

import "time"

// ExamState is the lifecycle state of an exam. Transitions are driven by the
// owning teacher (draft -> ready) and by the lifecycle sweeper (ready -> open,
// open -> closed).
type ExamState string

const (
	StateDraft  ExamState = "draft"
	StateReady  ExamState = "ready"
	StateOpen   ExamState = "open"
	StateClosed ExamState = "closed"
)

// AttemptState tracks one student's pass over an exam. submitted and expired
// are both terminal; expired means the deadline forced the submission.
type AttemptState string

const (
	AttemptInProgress AttemptState = "in_progress"
	AttemptSubmitted  AttemptState = "submitted"
	AttemptExpired    AttemptState = "expired"
)

// Terminal reports whether no further answer writes are accepted.
func (s AttemptState) Terminal() bool {
	return s == AttemptSubmitted || s == AttemptExpired
}

type QuestionKind string

const (
	KindChoice QuestionKind = "choice"
	KindEssay  QuestionKind = "essay"
)

type ChoiceMode string

const (
	ModeSingle   ChoiceMode = "single"
	ModeMultiple ChoiceMode = "multiple"
)

// ChoicePolicy selects how a multi-select choice answer is scored.
type ChoicePolicy string

const (
	PolicyAllOrNothing            ChoicePolicy = "all_or_nothing"
	PolicyAverageCorrect          ChoicePolicy = "average_correct"
	PolicyAverageCorrectIncorrect ChoicePolicy = "average_correct_and_incorrect"
)

type Option struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Correct bool   `json:"correct,omitempty"`
}

type Question struct {
	ID     string       `json:"id"`
	ExamID string       `json:"exam_id"`
	Kind   QuestionKind `json:"kind"`
	Prompt string       `json:"prompt"`
	Points float64      `json:"points"`

	// Choice-only fields.
	Options    []Option     `json:"options,omitempty"`
	Mode       ChoiceMode   `json:"mode,omitempty"`
	Policy     ChoicePolicy `json:"policy,omitempty"`
	MaxChoices int          `json:"max_choices,omitempty"`
}

// CorrectOptionIDs returns the ids of options flagged correct.
func (q Question) CorrectOptionIDs() []string {
	var out []string
	for _, o := range q.Options {
		if o.Correct {
			out = append(out, o.ID)
		}
	}
	return out
}

type Exam struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	DurationMin   int        `json:"duration_minutes"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	State         ExamState  `json:"state"`
	ScoresVisible bool       `json:"scores_visible"`
	Questions     []Question `json:"questions,omitempty"`
	CreatedAt     int64      `json:"created_at,omitempty"`
}

// Question looks up a question by id, nil if absent.
func (e *Exam) Question(id string) *Question {
	for i := range e.Questions {
		if e.Questions[i].ID == id {
			return &e.Questions[i]
		}
	}
	return nil
}

// MaxScore is the sum of all question point values.
func (e Exam) MaxScore() float64 {
	sum := 0.0
	for _, q := range e.Questions {
		sum += q.Points
	}
	return sum
}

type Answer struct {
	ID         string `json:"id"`
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	// Content is a comma-joined set of option ids for choice questions,
	// free text for essays.
	Content      string  `json:"content"`
	UpdatedAt    int64   `json:"updated_at"`
	PartialScore float64 `json:"partial_score"`
	Comment      string  `json:"comment,omitempty"`
	Graded       bool    `json:"graded"`
	AutoGraded   bool    `json:"auto_graded"`
}

type Attempt struct {
	ID        string       `json:"id"`
	ExamID    string       `json:"exam_id"`
	StudentID string       `json:"student_id"`
	State     AttemptState `json:"state"`
	StartedAt time.Time    `json:"started_at"`
	// Deadline is min(started_at + exam duration, exam end). The server clock
	// is the only authority on it.
	Deadline           time.Time  `json:"deadline"`
	SubmittedAt        *time.Time `json:"submitted_at,omitempty"`
	FinalScore         float64    `json:"final_score"`
	FinalScoreComputed bool       `json:"final_score_computed"`
	Graded             bool       `json:"graded"`
	Answers            []Answer   `json:"answers,omitempty"`
}

// RemainingSeconds is the authoritative countdown value served to clients.
func (a Attempt) RemainingSeconds(now time.Time) int {
	if a.State.Terminal() {
		return 0
	}
	d := a.Deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// ExpiredAt reports whether an in-progress attempt has outlived its deadline.
func (a Attempt) ExpiredAt(now time.Time) bool {
	return a.State == AttemptInProgress && now.After(a.Deadline)
}

// Answer returns the attempt's answer for a question, nil if none saved.
func (a *Attempt) Answer(questionID string) *Answer {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i]
		}
	}
	return nil
}

// AllGraded reports whether every saved answer carries a grade.
func (a Attempt) AllGraded() bool {
	for _, ans := range a.Answers {
		if !ans.Graded {
			return false
		}
	}
	return true
}

// SessionQuestion is the student-safe question view served during an attempt:
// correctness flags are stripped and any previously saved answer is attached.
type SessionQuestion struct {
	Question
	SavedAnswer string `json:"saved_answer,omitempty"`
}

// SessionView is the payload consumed by the attempt session client.
type SessionView struct {
	AttemptID        string            `json:"attempt_id"`
	ExamID           string            `json:"exam_id"`
	ExamTitle        string            `json:"exam_title"`
	State            AttemptState      `json:"state"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Questions        []SessionQuestion `json:"questions"`
}

// Result is what a student sees once scores are published.
type Result struct {
	ExamID     string       `json:"exam_id"`
	ExamTitle  string       `json:"exam_title"`
	AttemptID  string       `json:"attempt_id"`
	State      AttemptState `json:"state"`
	FinalScore float64      `json:"final_score"`
	MaxScore   float64      `json:"max_score"`
}

// StripAnswerKeys removes correctness flags before a question list leaves the
// server toward a student.
func StripAnswerKeys(qs []Question) []Question {
	out := make([]Question, len(qs))
	copy(out, qs)
	for i := range out {
		if len(out[i].Options) == 0 {
			continue
		}
		opts := make([]Option, len(out[i].Options))
		copy(opts, out[i].Options)
		for j := range opts {
			opts[j].Correct = false
		}
		out[i].Options = opts
	}
	return out
}
