package session

import (
	"sort"
	"strings"
	"sync"
)

// AnswerStore holds the in-session copy of answers, keyed by question id. The
// authoritative copy lives server-side; this one exists so the UI responds
// without waiting on the network.
type AnswerStore struct {
	mu      sync.Mutex
	answers map[string]string
	total   int
}

func NewAnswerStore(totalQuestions int) *AnswerStore {
	return &AnswerStore{answers: map[string]string{}, total: totalQuestions}
}

// Seed loads previously saved answers at session start.
func (s *AnswerStore) Seed(saved map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for q, c := range saved {
		if strings.TrimSpace(c) != "" {
			s.answers[q] = c
		}
	}
}

// Set replaces the content for a question.
func (s *AnswerStore) Set(questionID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[questionID] = content
}

// Get returns the current content for a question.
func (s *AnswerStore) Get(questionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers[questionID]
}

// SelectSingle replaces the selection of a single-choice question: choosing B
// after A leaves exactly {B}.
func (s *AnswerStore) SelectSingle(questionID, optionID string) {
	s.Set(questionID, optionID)
}

// Toggle adds or removes an option from a multiple-choice selection. Adding
// beyond max is a no-op, not an error. It returns the new selection.
func (s *AnswerStore) Toggle(questionID, optionID string, max int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	selected := splitSelection(s.answers[questionID])
	idx := -1
	for i, id := range selected {
		if id == optionID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		selected = append(selected[:idx], selected[idx+1:]...)
	} else {
		if max > 0 && len(selected) >= max {
			return selected
		}
		selected = append(selected, optionID)
		sort.Strings(selected)
	}
	s.answers[questionID] = strings.Join(selected, ",")
	return selected
}

// Snapshot returns every non-empty answer; the periodic bulk save re-sends
// exactly this set.
func (s *AnswerStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answers))
	for q, c := range s.answers {
		if strings.TrimSpace(c) != "" {
			out[q] = c
		}
	}
	return out
}

// Progress reports answered and total question counts. Display only; an
// attempt may be submitted with unanswered questions.
func (s *AnswerStore) Progress() (answered, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.answers {
		if strings.TrimSpace(c) != "" {
			answered++
		}
	}
	return answered, s.total
}

func splitSelection(content string) []string {
	var out []string
	for _, p := range strings.Split(content, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
