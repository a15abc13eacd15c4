// Package lifecycle runs the scheduled transitions no user triggers: opening
// ready exams at their start, closing open exams at their end, and submitting
// in-progress attempts whose deadline passed.
package lifecycle

import (
	"context"
	"log"
	"time"

	"github.com/examdesk/examdesk/internal/exam"
	"github.com/examdesk/examdesk/internal/journal"
)

type Sweeper struct {
	store   exam.Store
	journal journal.Recorder
	now     func() time.Time
}

func NewSweeper(store exam.Store, rec journal.Recorder) *Sweeper {
	if rec == nil {
		rec = journal.Nop{}
	}
	return &Sweeper{store: store, journal: rec, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run blocks, sweeping exams every examEvery and attempts every attemptEvery,
// until ctx is done. Meant to run in its own goroutine next to the HTTP
// server.
func (s *Sweeper) Run(ctx context.Context, examEvery, attemptEvery time.Duration) {
	examTick := time.NewTicker(examEvery)
	attemptTick := time.NewTicker(attemptEvery)
	defer examTick.Stop()
	defer attemptTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-examTick.C:
			if opened, closed, err := s.SweepExams(ctx); err != nil {
				log.Printf("lifecycle: exam sweep: %v", err)
			} else if opened+closed > 0 {
				log.Printf("lifecycle: opened %d, closed %d exams", opened, closed)
			}
		case <-attemptTick.C:
			if n, err := s.SweepAttempts(ctx); err != nil {
				log.Printf("lifecycle: attempt sweep: %v", err)
			} else if n > 0 {
				log.Printf("lifecycle: submitted %d expired attempts", n)
			}
		}
	}
}

// SweepExams opens ready exams whose window has begun and closes open exams
// whose window has ended.
func (s *Sweeper) SweepExams(ctx context.Context) (opened, closed int, err error) {
	now := s.now()

	ready, err := s.store.ListExamsByState(ctx, exam.StateReady)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range ready {
		if e.StartAt == nil || e.EndAt == nil {
			continue
		}
		if now.Before(*e.StartAt) || now.After(*e.EndAt) {
			continue
		}
		e.State = exam.StateOpen
		if err := s.store.PutExam(ctx, e); err != nil {
			return opened, closed, err
		}
		s.journal.Record(ctx, "system", "exam.opened", e.ID, nil)
		opened++
	}

	open, err := s.store.ListExamsByState(ctx, exam.StateOpen)
	if err != nil {
		return opened, 0, err
	}
	for _, e := range open {
		if e.EndAt == nil || !now.After(*e.EndAt) {
			continue
		}
		e.State = exam.StateClosed
		if err := s.store.PutExam(ctx, e); err != nil {
			return opened, closed, err
		}
		s.journal.Record(ctx, "system", "exam.closed", e.ID, nil)
		closed++
	}
	return opened, closed, nil
}

// SweepAttempts submits every in-progress attempt past its deadline as
// expired. The submission path auto-grades choice answers like any other.
func (s *Sweeper) SweepAttempts(ctx context.Context) (int, error) {
	now := s.now()
	expired, err := s.store.ListExpiredAttempts(ctx, now)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range expired {
		if _, err := s.store.Submit(ctx, a.ID, "", now, true); err != nil {
			log.Printf("lifecycle: expire attempt %s: %v", a.ID, err)
			continue
		}
		s.journal.Record(ctx, "system", "attempt.expired", a.ID, nil)
		n++
	}
	return n, nil
}
