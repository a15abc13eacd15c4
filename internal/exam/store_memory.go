package exam

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk/internal/grading"
)

// memoryStore mirrors SQLStore semantics without a database. Tests and the
// workflow package lean on it.
type memoryStore struct {
	mu          sync.RWMutex // held across whole attempt operations, not per map access
	grader      grading.Grader
	exams       map[string]Exam
	attempts    map[string]Attempt
	enrollments map[string]map[string]bool // examID -> studentIDs
}

func NewInMemoryStore(grader grading.Grader) Store {
	return &memoryStore{
		grader:      grader,
		exams:       map[string]Exam{},
		attempts:    map[string]Attempt{},
		enrollments: map[string]map[string]bool{},
	}
}

func (m *memoryStore) PutExam(_ context.Context, e Exam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	m.exams[e.ID] = e
	return nil
}

func (m *memoryStore) GetExam(_ context.Context, id string) (Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return Exam{}, ErrExamNotFound
	}
	return e, nil
}

func (m *memoryStore) DeleteExam(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[id]; !ok {
		return ErrExamNotFound
	}
	delete(m.exams, id)
	delete(m.enrollments, id)
	return nil
}

func (m *memoryStore) ListExams(_ context.Context, opts ListOpts) ([]ExamSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ExamSummary
	for _, e := range m.exams {
		switch opts.ViewerRole {
		case "teacher":
			if e.OwnerID != opts.ViewerID {
				continue
			}
		case "student":
			if !m.enrollments[e.ID][opts.ViewerID] {
				continue
			}
		}
		if opts.Q != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, ExamSummary{
			ID: e.ID, Title: e.Title, State: e.State, DurationMin: e.DurationMin,
			StartAt: e.StartAt, EndAt: e.EndAt, OwnerID: e.OwnerID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) ListExamsByState(_ context.Context, st ExamState) ([]Exam, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Exam
	for _, e := range m.exams {
		if e.State == st {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) Enroll(_ context.Context, examID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.exams[examID]; !ok {
		return ErrExamNotFound
	}
	if m.enrollments[examID] == nil {
		m.enrollments[examID] = map[string]bool{}
	}
	m.enrollments[examID][studentID] = true
	return nil
}

func (m *memoryStore) IsEnrolled(_ context.Context, examID, studentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enrollments[examID][studentID], nil
}

func (m *memoryStore) ListEnrollments(_ context.Context, examID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id := range m.enrollments[examID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) StartAttempt(ctx context.Context, examID, studentID string, now time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exams[examID]
	if !ok {
		return Attempt{}, ErrExamNotFound
	}
	if e.State != StateOpen {
		return Attempt{}, ErrExamNotOpen
	}
	if !m.enrollments[examID][studentID] {
		return Attempt{}, ErrNotEnrolled
	}

	if existing := m.latestAttemptLocked(examID, studentID); existing != nil {
		if existing.State == AttemptInProgress && !existing.ExpiredAt(now) {
			return *existing, nil
		}
		if existing.ExpiredAt(now) {
			if _, err := m.submitLocked(ctx, existing.ID, studentID, now, true); err != nil {
				return Attempt{}, err
			}
		}
	}

	a := Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		State:     AttemptInProgress,
		StartedAt: now,
		Deadline:  AttemptDeadline(e, now),
	}
	m.attempts[a.ID] = a
	return a, nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memoryStore) AttemptByExamStudent(_ context.Context, examID, studentID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	found := m.latestAttemptLocked(examID, studentID)
	if found == nil {
		return Attempt{}, ErrAttemptNotFound
	}
	return *found, nil
}

// latestAttemptLocked requires m.mu to be held.
func (m *memoryStore) latestAttemptLocked(examID, studentID string) *Attempt {
	var found *Attempt
	for _, a := range m.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			if found == nil || a.StartedAt.After(found.StartedAt) {
				cp := a
				found = &cp
			}
		}
	}
	return found
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if opts.ExamID != "" && a.ExamID != opts.ExamID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.State != "" && string(a.State) != opts.State {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memoryStore) ListExpiredAttempts(_ context.Context, now time.Time) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.ExpiredAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) SaveAnswer(_ context.Context, attemptID, studentID, questionID, content string, now time.Time) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	if a.StudentID != studentID {
		return Attempt{}, ErrForbidden
	}
	if a.State.Terminal() || a.ExpiredAt(now) {
		return Attempt{}, ErrNotEditable
	}
	e, ok := m.exams[a.ExamID]
	if !ok {
		return Attempt{}, ErrExamNotFound
	}
	if e.Question(questionID) == nil {
		return Attempt{}, ErrQuestionNotFound
	}
	upsertAnswer(&a, questionID, content, now)
	m.attempts[a.ID] = a
	return a, nil
}

func (m *memoryStore) Submit(ctx context.Context, attemptID, studentID string, now time.Time, expired bool) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitLocked(ctx, attemptID, studentID, now, expired)
}

// submitLocked requires m.mu to be held for writing.
func (m *memoryStore) submitLocked(ctx context.Context, attemptID, studentID string, now time.Time, expired bool) (Attempt, error) {
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	if studentID != "" && a.StudentID != studentID {
		return Attempt{}, ErrForbidden
	}
	if a.State.Terminal() {
		return a, nil
	}
	e, ok := m.exams[a.ExamID]
	if !ok {
		return Attempt{}, ErrExamNotFound
	}
	AutoGradeChoiceAnswers(ctx, e, &a, m.grader)
	a.State = AttemptSubmitted
	if expired {
		a.State = AttemptExpired
	}
	t := now
	a.SubmittedAt = &t
	m.attempts[a.ID] = a
	return a, nil
}

func (m *memoryStore) SaveAttempt(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.ID]; !ok {
		return ErrAttemptNotFound
	}
	m.attempts[a.ID] = a
	return nil
}
