package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/db"
)

// Repo reads and writes questions and submissions through a db.Handle, so the
// same code runs against the pool or inside a transaction.
type Repo struct {
	h db.Handle
}

func NewRepo(h db.Handle) Repo { return Repo{h: h} }

// ---- questions ----

const questionColumns = `id, cert_type, module_id, kind, prompt, points, time_limit_sec, correct_option, published, published_at, created_at`

func scanQuestion(row interface{ Scan(...any) error }) (Question, error) {
	var (
		q         Question
		kind      string
		published bool
		pubAt     sql.NullInt64
		created   int64
	)
	if err := row.Scan(&q.ID, &q.CertType, &q.ModuleID, &kind, &q.Prompt, &q.Points, &q.TimeLimitSec,
		&q.CorrectOption, &published, &pubAt, &created); err != nil {
		return Question{}, err
	}
	q.Kind = QuestionKind(kind)
	q.Published = published
	q.PublishedAt = db.FromUnix(pubAt)
	q.CreatedAt = time.Unix(created, 0).UTC()
	return q, nil
}

func (r Repo) queryQuestions(ctx context.Context, query string, args ...any) ([]Question, error) {
	rows, err := r.h.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Question returns found=false when id does not exist.
func (r Repo) Question(ctx context.Context, id string) (q Question, found bool, err error) {
	q, err = scanQuestion(r.h.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, false, nil
	}
	if err != nil {
		return Question{}, false, err
	}
	return q, true, nil
}

func (r Repo) PutQuestion(ctx context.Context, q Question) error {
	_, err := r.h.Exec(ctx, `INSERT INTO questions (`+questionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET cert_type=EXCLUDED.cert_type, module_id=EXCLUDED.module_id,
			kind=EXCLUDED.kind, prompt=EXCLUDED.prompt, points=EXCLUDED.points,
			time_limit_sec=EXCLUDED.time_limit_sec, correct_option=EXCLUDED.correct_option,
			published=EXCLUDED.published, published_at=EXCLUDED.published_at`,
		q.ID, q.CertType, q.ModuleID, string(q.Kind), q.Prompt, q.Points, q.TimeLimitSec, q.CorrectOption,
		q.Published, db.Unix(q.PublishedAt), q.CreatedAt.Unix())
	return err
}

// Questions lists a module's questions in creation order.
func (r Repo) Questions(ctx context.Context, certType, moduleID string, publishedOnly bool) ([]Question, error) {
	q := `SELECT ` + questionColumns + ` FROM questions WHERE cert_type=? AND module_id=?`
	if publishedOnly {
		q += ` AND published=?`
		return r.queryQuestions(ctx, q+` ORDER BY created_at, id`, certType, moduleID, true)
	}
	return r.queryQuestions(ctx, q+` ORDER BY created_at, id`, certType, moduleID)
}

// PublishedQuestions are the questions that take part in scoring.
func (r Repo) PublishedQuestions(ctx context.Context, certType, moduleID string) ([]Question, error) {
	return r.Questions(ctx, certType, moduleID, true)
}

// PublishedPoints sums published question points per module of certType.
func (r Repo) PublishedPoints(ctx context.Context, certType string) (map[string]float64, error) {
	rows, err := r.h.Query(ctx, `SELECT module_id, SUM(points) FROM questions
		WHERE cert_type=? AND published=? GROUP BY module_id`, certType, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var (
			m   string
			sum float64
		)
		if err := rows.Scan(&m, &sum); err != nil {
			return nil, err
		}
		out[m] = sum
	}
	return out, rows.Err()
}

// ---- submissions ----

const submissionColumns = `id, exam_id, cert_type, module_id, candidate_id, status, answers_json, grades_json,
	examiner_id, examiner_notes, provisional_score, final_score, total_score, started_at, submitted_at, graded_at`

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var (
		s                 Submission
		status            string
		answers, grades   string
		final             sql.NullFloat64
		started           int64
		submitted, graded sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.ExamID, &s.CertType, &s.ModuleID, &s.CandidateID, &status, &answers, &grades,
		&s.ExaminerID, &s.ExaminerNotes, &s.ProvisionalScore, &final, &s.TotalScore, &started, &submitted, &graded); err != nil {
		return Submission{}, err
	}
	s.Status = Status(status)
	s.Answers = map[string]interface{}{}
	if err := json.Unmarshal([]byte(answers), &s.Answers); err != nil {
		return Submission{}, err
	}
	s.Grades = map[string]QuestionGrade{}
	if err := json.Unmarshal([]byte(grades), &s.Grades); err != nil {
		return Submission{}, err
	}
	if final.Valid {
		v := final.Float64
		s.FinalScore = &v
	}
	s.StartedAt = time.Unix(started, 0).UTC()
	s.SubmittedAt = db.FromUnix(submitted)
	s.GradedAt = db.FromUnix(graded)
	return s, nil
}

func (r Repo) submission(ctx context.Context, lock bool, where string, args ...any) (Submission, bool, error) {
	q := `SELECT ` + submissionColumns + ` FROM submissions WHERE ` + where
	if lock {
		q += r.h.ForUpdate()
	}
	s, err := scanSubmission(r.h.QueryRow(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Submission{}, false, nil
	}
	if err != nil {
		return Submission{}, false, err
	}
	return s, true, nil
}

// Submission loads by id; lock adds a row lock where the driver supports it.
func (r Repo) Submission(ctx context.Context, id string, lock bool) (Submission, bool, error) {
	return r.submission(ctx, lock, `id=?`, id)
}

func (r Repo) SubmissionFor(ctx context.Context, examID, candidateID string, lock bool) (Submission, bool, error) {
	return r.submission(ctx, lock, `exam_id=? AND candidate_id=?`, examID, candidateID)
}

// InsertDraft creates s unless the candidate already has a submission for the exam.
func (r Repo) InsertDraft(ctx context.Context, s Submission) error {
	_, err := r.h.Exec(ctx, `INSERT INTO submissions (id, exam_id, cert_type, module_id, candidate_id, status, answers_json, started_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (exam_id, candidate_id) DO NOTHING`,
		s.ID, s.ExamID, s.CertType, s.ModuleID, s.CandidateID, string(StatusDraft), `{}`, s.StartedAt.Unix())
	return err
}

func (r Repo) SaveSubmission(ctx context.Context, s Submission) error {
	answers, err := json.Marshal(nonNilAnswers(s.Answers))
	if err != nil {
		return err
	}
	grades := []byte(`{}`)
	if len(s.Grades) > 0 {
		if grades, err = json.Marshal(s.Grades); err != nil {
			return err
		}
	}
	var final any
	if s.FinalScore != nil {
		final = *s.FinalScore
	}
	_, err = r.h.Exec(ctx, `UPDATE submissions
		SET status=?, answers_json=?, grades_json=?, examiner_id=?, examiner_notes=?,
			provisional_score=?, final_score=?, total_score=?, submitted_at=?, graded_at=?
		WHERE id=?`,
		string(s.Status), string(answers), string(grades), s.ExaminerID, s.ExaminerNotes,
		s.ProvisionalScore, final, s.TotalScore, db.Unix(s.SubmittedAt), db.Unix(s.GradedAt),
		s.ID)
	return err
}

func nonNilAnswers(a map[string]interface{}) map[string]interface{} {
	if a == nil {
		return map[string]interface{}{}
	}
	return a
}

// Submissions lists by filter, most recently submitted first.
func (r Repo) Submissions(ctx context.Context, f Filter) ([]Submission, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, string(f.Status))
	}
	if f.ExaminerID != "" {
		where = append(where, "examiner_id=?")
		args = append(args, f.ExaminerID)
	}
	if f.CertType != "" {
		where = append(where, "cert_type=?")
		args = append(args, f.CertType)
	}
	if f.CandidateID != "" {
		where = append(where, "candidate_id=?")
		args = append(args, f.CandidateID)
	}
	q := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY COALESCE(submitted_at, started_at) DESC, id`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += ` LIMIT ? OFFSET ?`
	args = append(args, limit, max(f.Offset, 0))

	rows, err := r.h.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountByStatus counts submissions per status, every status present.
func (r Repo) CountByStatus(ctx context.Context) (map[Status]int, error) {
	out := map[Status]int{StatusDraft: 0, StatusSubmitted: 0, StatusUnderReview: 0, StatusGraded: 0}
	rows, err := r.h.Query(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			s string
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

// LatestGraded returns the most recently graded submission per module of
// certType for the candidate.
func (r Repo) LatestGraded(ctx context.Context, candidateID, certType string) (map[string]Submission, error) {
	rows, err := r.h.Query(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE candidate_id=? AND cert_type=? AND status=?
		ORDER BY graded_at`, candidateID, certType, string(StatusGraded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out[s.ModuleID] = s
	}
	return out, rows.Err()
}

// GradedPairs lists distinct (candidate, certification) pairs with at least
// one graded submission. An empty certType matches all.
func (r Repo) GradedPairs(ctx context.Context, certType string) ([]Pair, error) {
	q := `SELECT DISTINCT candidate_id, cert_type FROM submissions WHERE status=?`
	args := []any{string(StatusGraded)}
	if certType != "" {
		q += ` AND cert_type=?`
		args = append(args, certType)
	}
	rows, err := r.h.Query(ctx, q+` ORDER BY cert_type, candidate_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Pair{}
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.CandidateID, &p.CertType); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
