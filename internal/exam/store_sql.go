package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/examdesk/examdesk/internal/grading"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	grader grading.Grader
}

func NewSQLStore(db *sql.DB, driver string, grader grading.Grader) *SQLStore {
	return &SQLStore{db: db, driver: driver, grader: grader}
}

func (s *SQLStore) PutExam(ctx context.Context, e Exam) error {
	qj, err := json.Marshal(e.Questions)
	if err != nil {
		return err
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams
		(id,owner_id,title,description,duration_min,start_at,end_at,state,scores_visible,questions_json,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, description=EXCLUDED.description,
			duration_min=EXCLUDED.duration_min, start_at=EXCLUDED.start_at,
			end_at=EXCLUDED.end_at, state=EXCLUDED.state,
			scores_visible=EXCLUDED.scores_visible, questions_json=EXCLUDED.questions_json`,
		e.ID, e.OwnerID, e.Title, e.Description, e.DurationMin,
		nullTime(e.StartAt), nullTime(e.EndAt), string(e.State), e.ScoresVisible,
		string(qj), e.CreatedAt)
	return err
}

func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,owner_id,title,description,duration_min,start_at,end_at,state,scores_visible,questions_json,created_at
		FROM exams WHERE id=$1`, id)
	return scanExam(row)
}

func (s *SQLStore) DeleteExam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM exams WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExamNotFound
	}
	return nil
}

func (s *SQLStore) ListExams(ctx context.Context, opts ListOpts) ([]ExamSummary, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	switch opts.ViewerRole {
	case "teacher":
		add("owner_id=$%d", opts.ViewerID)
	case "student":
		add("id IN (SELECT exam_id FROM enrollments WHERE student_id=$%d)", opts.ViewerID)
	}
	if opts.Q != "" {
		add("title LIKE $%d", "%"+opts.Q+"%")
	}
	q := `SELECT id,owner_id,title,state,duration_min,start_at,end_at FROM exams`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExamSummary
	for rows.Next() {
		var es ExamSummary
		var st string
		var startAt, endAt sql.NullInt64
		if err := rows.Scan(&es.ID, &es.OwnerID, &es.Title, &st, &es.DurationMin, &startAt, &endAt); err != nil {
			return nil, err
		}
		es.State = ExamState(st)
		es.StartAt = timePtr(startAt)
		es.EndAt = timePtr(endAt)
		out = append(out, es)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListExamsByState(ctx context.Context, st ExamState) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,owner_id,title,description,duration_min,start_at,end_at,state,scores_visible,questions_json,created_at
		FROM exams WHERE state=$1`, string(st))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) Enroll(ctx context.Context, examID, studentID string) error {
	if _, err := s.GetExam(ctx, examID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO enrollments (exam_id,student_id)
		VALUES ($1,$2) ON CONFLICT DO NOTHING`, examID, studentID)
	return err
}

func (s *SQLStore) IsEnrolled(ctx context.Context, examID, studentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE exam_id=$1 AND student_id=$2`,
		examID, studentID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLStore) ListEnrollments(ctx context.Context, examID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT student_id FROM enrollments WHERE exam_id=$1 ORDER BY student_id`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) StartAttempt(ctx context.Context, examID, studentID string, now time.Time) (Attempt, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return Attempt{}, err
	}
	if e.State != StateOpen {
		return Attempt{}, ErrExamNotOpen
	}
	ok, err := s.IsEnrolled(ctx, examID, studentID)
	if err != nil {
		return Attempt{}, err
	}
	if !ok {
		return Attempt{}, ErrNotEnrolled
	}

	existing, err := s.AttemptByExamStudent(ctx, examID, studentID)
	switch {
	case err == nil:
		if existing.State == AttemptInProgress && !existing.ExpiredAt(now) {
			return existing, nil
		}
		if existing.ExpiredAt(now) {
			if _, err := s.Submit(ctx, existing.ID, studentID, now, true); err != nil {
				return Attempt{}, err
			}
		}
	case errors.Is(err, ErrAttemptNotFound):
	default:
		return Attempt{}, err
	}

	a := Attempt{
		ID:        uuid.NewString(),
		ExamID:    examID,
		StudentID: studentID,
		State:     AttemptInProgress,
		StartedAt: now,
		Deadline:  AttemptDeadline(e, now),
	}
	if err := s.insertAttempt(ctx, a); err != nil {
		// The unique active-attempt index rejects a second in-progress row.
		// A concurrent start won the race; hand back its attempt.
		if won, lerr := s.AttemptByExamStudent(ctx, examID, studentID); lerr == nil &&
			won.State == AttemptInProgress && !won.ExpiredAt(now) {
			return won, nil
		}
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) insertAttempt(ctx context.Context, a Attempt) error {
	aj, _ := json.Marshal(a.Answers)
	_, err := s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,exam_id,student_id,state,started_at,deadline,submitted_at,final_score,final_computed,graded,answers_json)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.ExamID, a.StudentID, string(a.State), a.StartedAt.Unix(), a.Deadline.Unix(),
		nullTime(a.SubmittedAt), a.FinalScore, a.FinalScoreComputed, a.Graded, string(aj))
	return err
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,exam_id,student_id,state,started_at,deadline,submitted_at,final_score,final_computed,graded,answers_json
		FROM attempts WHERE id=$1`, id)
	return scanAttempt(row)
}

func (s *SQLStore) AttemptByExamStudent(ctx context.Context, examID, studentID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,exam_id,student_id,state,started_at,deadline,submitted_at,final_score,final_computed,graded,answers_json
		FROM attempts WHERE exam_id=$1 AND student_id=$2 ORDER BY started_at DESC LIMIT 1`, examID, studentID)
	return scanAttempt(row)
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if opts.ExamID != "" {
		add("exam_id=$%d", opts.ExamID)
	}
	if opts.StudentID != "" {
		add("student_id=$%d", opts.StudentID)
	}
	if opts.State != "" {
		add("state=$%d", opts.State)
	}
	q := `SELECT id,exam_id,student_id,state,started_at,deadline,submitted_at,final_score,final_computed,graded,answers_json FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListExpiredAttempts(ctx context.Context, now time.Time) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,exam_id,student_id,state,started_at,deadline,submitted_at,final_score,final_computed,graded,answers_json
		FROM attempts WHERE state=$1 AND deadline < $2`, string(AttemptInProgress), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveAnswer(ctx context.Context, attemptID, studentID, questionID, content string, now time.Time) (Attempt, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.StudentID != studentID {
		return Attempt{}, ErrForbidden
	}
	if a.State.Terminal() || a.ExpiredAt(now) {
		return Attempt{}, ErrNotEditable
	}
	e, err := s.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, err
	}
	if e.Question(questionID) == nil {
		return Attempt{}, ErrQuestionNotFound
	}
	upsertAnswer(&a, questionID, content, now)
	if err := s.saveAnswersInProgress(ctx, a); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// saveAnswersInProgress writes the answer blob only while the attempt is
// still in progress. A submit that lands between the read above and this
// write leaves zero rows matched, and the late save is rejected instead of
// clobbering the terminal row.
func (s *SQLStore) saveAnswersInProgress(ctx context.Context, a Attempt) error {
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET answers_json=$1
		WHERE id=$2 AND state=$3`,
		string(aj), a.ID, string(AttemptInProgress))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotEditable
	}
	return nil
}

func (s *SQLStore) Submit(ctx context.Context, attemptID, studentID string, now time.Time, expired bool) (Attempt, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if studentID != "" && a.StudentID != studentID {
		return Attempt{}, ErrForbidden
	}
	if a.State.Terminal() {
		return a, nil
	}
	e, err := s.GetExam(ctx, a.ExamID)
	if err != nil {
		return Attempt{}, err
	}
	AutoGradeChoiceAnswers(ctx, e, &a, s.grader)
	a.State = AttemptSubmitted
	if expired {
		a.State = AttemptExpired
	}
	t := now
	a.SubmittedAt = &t
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return Attempt{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET
		state=$1, submitted_at=$2, final_score=$3, final_computed=$4, graded=$5, answers_json=$6
		WHERE id=$7 AND state=$8`,
		string(a.State), nullTime(a.SubmittedAt), a.FinalScore, a.FinalScoreComputed,
		a.Graded, string(aj), a.ID, string(AttemptInProgress))
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// A concurrent submit got there first. Its terminal row is the result.
		return s.GetAttempt(ctx, attemptID)
	}
	return a, nil
}

func (s *SQLStore) SaveAttempt(ctx context.Context, a Attempt) error {
	aj, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts SET
		state=$1, submitted_at=$2, final_score=$3, final_computed=$4, graded=$5, answers_json=$6
		WHERE id=$7`,
		string(a.State), nullTime(a.SubmittedAt), a.FinalScore, a.FinalScoreComputed,
		a.Graded, string(aj), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// --- scanning helpers ---

type rowScanner interface{ Scan(dest ...interface{}) error }

func scanExam(row rowScanner) (Exam, error) {
	var e Exam
	var st, qjson string
	var startAt, endAt sql.NullInt64
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.DurationMin,
		&startAt, &endAt, &st, &e.ScoresVisible, &qjson, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Exam{}, ErrExamNotFound
	}
	if err != nil {
		return Exam{}, err
	}
	e.State = ExamState(st)
	e.StartAt = timePtr(startAt)
	e.EndAt = timePtr(endAt)
	if err := json.Unmarshal([]byte(qjson), &e.Questions); err != nil {
		return Exam{}, err
	}
	return e, nil
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var st, ajson string
	var started, deadline int64
	var submitted sql.NullInt64
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &st, &started, &deadline,
		&submitted, &a.FinalScore, &a.FinalScoreComputed, &a.Graded, &ajson)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	a.State = AttemptState(st)
	a.StartedAt = time.Unix(started, 0)
	a.Deadline = time.Unix(deadline, 0)
	if submitted.Valid {
		t := time.Unix(submitted.Int64, 0)
		a.SubmittedAt = &t
	}
	if err := json.Unmarshal([]byte(ajson), &a.Answers); err != nil {
		a.Answers = nil
	}
	return a, nil
}

func upsertAnswer(a *Attempt, questionID, content string, now time.Time) {
	if ans := a.Answer(questionID); ans != nil {
		if ans.Graded {
			return
		}
		ans.Content = content
		ans.UpdatedAt = now.Unix()
		return
	}
	a.Answers = append(a.Answers, Answer{
		ID:         uuid.NewString(),
		AttemptID:  a.ID,
		QuestionID: questionID,
		Content:    content,
		UpdatedAt:  now.Unix(),
	})
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
