// Package session drives one student's exam attempt from question load to
// submission: a server-synchronized countdown, per-answer autosave, a
// periodic bulk re-save, and auto-submission on expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/examdesk/examdesk/internal/exam"
)

const (
	// tickPeriod is the server clock-sync cadence.
	tickPeriod = 1 * time.Second
	// bulkSavePeriod is the redundant full re-save cadence.
	bulkSavePeriod = 30 * time.Second
)

var (
	// ErrSessionLoad is fatal: the attempt is gone or not the caller's.
	ErrSessionLoad = errors.New("session load failed")
	// ErrSubmission is fatal to the session; the shell offers retry/quit.
	ErrSubmission = errors.New("submission failed")
)

// API is the server surface the client consumes. The bearer credential is
// bound into the implementation at construction, not read from any global.
type API interface {
	LoadSession(ctx context.Context, attemptID string) (exam.SessionView, error)
	SaveAnswer(ctx context.Context, attemptID, questionID, content string) error
	RemainingSeconds(ctx context.Context, attemptID string) (int, error)
	Submit(ctx context.Context, attemptID string) (exam.Attempt, error)
}

// Notice is how the client surfaces user-visible messages to the shell.
type Notice func(msg string)

type persistReq struct {
	questionID string
	content    string
}

// Client is the attempt session state machine. Client-local states are only
// in-progress and terminal; the server keeps the submitted/expired
// distinction.
type Client struct {
	api    API
	clock  Clock
	notify Notice

	attemptID string

	mu             sync.Mutex
	view           exam.SessionView
	answers        *AnswerStore
	remaining      int
	terminal       bool
	result         exam.Attempt // terminal attempt from the first successful submit
	submitInFlight bool
	autoSubmitted  bool
	loaded         bool

	persistQ chan persistReq
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewClient(api API, clock Clock, notify Notice) *Client {
	if clock == nil {
		clock = NewRealClock()
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Client{
		api:      api,
		clock:    clock,
		notify:   notify,
		persistQ: make(chan persistReq, 256),
		stopped:  make(chan struct{}),
	}
}

// LoadSession fetches the question list with saved answers and the remaining
// time, and seeds the answer store. Failure is fatal to the session.
func (c *Client) LoadSession(ctx context.Context, attemptID string) error {
	view, err := c.api.LoadSession(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionLoad, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attemptID = attemptID
	c.view = view
	c.remaining = view.RemainingSeconds
	c.terminal = view.State.Terminal()
	c.answers = NewAnswerStore(len(view.Questions))
	saved := make(map[string]string, len(view.Questions))
	for _, q := range view.Questions {
		if q.SavedAnswer != "" {
			saved[q.ID] = q.SavedAnswer
		}
	}
	c.answers.Seed(saved)
	c.loaded = true
	return nil
}

// Run starts the 1-second clock tick, the 30-second bulk save and the persist
// worker, and blocks until the session ends or ctx is done. Call after a
// successful LoadSession.
func (c *Client) Run(ctx context.Context) {
	tick := c.clock.NewTicker(tickPeriod)
	save := c.clock.NewTicker(bulkSavePeriod)
	defer tick.Stop()
	defer save.Stop()

	go c.persistWorker(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case <-tick.C():
			c.Tick(ctx)
		case <-save.C():
			c.PeriodicBulkSave(ctx)
		}
	}
}

// RecordAnswer updates the answer store synchronously and schedules a
// best-effort persist. It never blocks the caller and never fails: a lost
// persist is repaired by the next periodic bulk save.
func (c *Client) RecordAnswer(questionID, content string) {
	c.mu.Lock()
	if c.terminal || !c.loaded {
		c.mu.Unlock()
		return
	}
	c.answers.Set(questionID, content)
	c.mu.Unlock()
	c.enqueuePersist(questionID, content)
}

// SelectSingle records a single-choice selection, replacing any prior one.
func (c *Client) SelectSingle(questionID, optionID string) {
	c.mu.Lock()
	if c.terminal || !c.loaded {
		c.mu.Unlock()
		return
	}
	c.answers.SelectSingle(questionID, optionID)
	content := c.answers.Get(questionID)
	c.mu.Unlock()
	c.enqueuePersist(questionID, content)
}

// ToggleOption flips one option of a multiple-choice question, bounded by the
// question's configured maximum; exceeding it is a no-op.
func (c *Client) ToggleOption(questionID, optionID string) {
	c.mu.Lock()
	if c.terminal || !c.loaded {
		c.mu.Unlock()
		return
	}
	max := 0
	for _, q := range c.view.Questions {
		if q.ID == questionID {
			max = q.MaxChoices
			break
		}
	}
	c.answers.Toggle(questionID, optionID, max)
	content := c.answers.Get(questionID)
	c.mu.Unlock()
	c.enqueuePersist(questionID, content)
}

func (c *Client) enqueuePersist(questionID, content string) {
	select {
	case c.persistQ <- persistReq{questionID: questionID, content: content}:
	default:
		// Queue full: drop; the 30s bulk save re-sends everything anyway.
		log.Printf("session: persist queue full, dropping save for question %s", questionID)
	}
}

func (c *Client) persistWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		case req := <-c.persistQ:
			if err := c.api.SaveAnswer(ctx, c.attemptID, req.questionID, req.content); err != nil {
				// Transient: logged, retried by the next bulk save.
				log.Printf("session: save answer %s: %v", req.questionID, err)
			}
		}
	}
}

// Tick runs once per second: it asks the server for the authoritative
// remaining time (the local clock may drift or be paused) and auto-submits at
// zero if no submission is already in flight.
func (c *Client) Tick(ctx context.Context) {
	c.mu.Lock()
	if c.terminal || c.submitInFlight || !c.loaded {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	remaining, err := c.api.RemainingSeconds(ctx, c.attemptID)
	if err != nil {
		log.Printf("session: remaining time: %v", err)
		return
	}

	c.mu.Lock()
	c.remaining = remaining
	expired := remaining <= 0 && !c.terminal && !c.submitInFlight
	c.mu.Unlock()

	if expired {
		// Flush answer changes that have not been persisted yet, then submit:
		// a selection made moments before expiry still counts.
		c.PeriodicBulkSave(ctx)
		c.autoSubmit(ctx)
	}
}

// PeriodicBulkSave re-sends every non-empty answer regardless of whether it
// changed, so a single lost RecordAnswer persist cannot lose data.
func (c *Client) PeriodicBulkSave(ctx context.Context) {
	c.mu.Lock()
	if c.terminal || !c.loaded {
		c.mu.Unlock()
		return
	}
	snap := c.answers.Snapshot()
	c.mu.Unlock()

	ids := make([]string, 0, len(snap))
	for q := range snap {
		ids = append(ids, q)
	}
	sort.Strings(ids)
	for _, q := range ids {
		if err := c.api.SaveAnswer(ctx, c.attemptID, q, snap[q]); err != nil {
			log.Printf("session: bulk save %s: %v", q, err)
		}
	}
}

// Submit sends the attempt in. Submission is idempotent server-side, so a
// manual submit racing the expiry tick converges on one terminal result.
func (c *Client) Submit(ctx context.Context) (exam.Attempt, error) {
	return c.submit(ctx, false)
}

func (c *Client) autoSubmit(ctx context.Context) {
	if _, err := c.submit(ctx, true); err != nil {
		log.Printf("session: auto-submit: %v", err)
	}
}

func (c *Client) submit(ctx context.Context, auto bool) (exam.Attempt, error) {
	c.mu.Lock()
	if c.terminal {
		res := c.result
		c.mu.Unlock()
		return res, nil
	}
	if c.submitInFlight {
		c.mu.Unlock()
		return exam.Attempt{}, nil
	}
	c.submitInFlight = true
	c.mu.Unlock()

	a, err := c.api.Submit(ctx, c.attemptID)

	c.mu.Lock()
	c.submitInFlight = false
	if err != nil {
		c.mu.Unlock()
		return exam.Attempt{}, fmt.Errorf("%w: %v", ErrSubmission, err)
	}
	c.terminal = true
	c.result = a
	c.remaining = 0
	c.autoSubmitted = auto
	c.mu.Unlock()

	if auto {
		c.notify("Your attempt was submitted automatically because time expired.")
	} else {
		c.notify("Your attempt was submitted.")
	}
	c.stop()
	return a, nil
}

// LeaveAndPreserve exits the session without submitting. Persisted answers
// stay on the server; the attempt remains in progress and can be resumed with
// another LoadSession.
func (c *Client) LeaveAndPreserve() {
	c.stop()
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// Remaining is the last server-reported remaining seconds.
func (c *Client) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Terminal reports whether the session reached its client-local terminal
// state.
func (c *Client) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// AutoSubmitted reports whether the terminal state came from expiry.
func (c *Client) AutoSubmitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoSubmitted
}

// Progress reports answered/total for display.
func (c *Client) Progress() (answered, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers == nil {
		return 0, 0
	}
	return c.answers.Progress()
}

// Answers exposes the in-session answer store.
func (c *Client) Answers() *AnswerStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}
