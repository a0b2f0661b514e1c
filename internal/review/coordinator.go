// Package review runs the examiner workflow: assigning submitted exams to an
// examiner and recording the examiner's final grades.
package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/grading"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
)

type Coordinator struct {
	db      *db.DB
	dir     directory.Directory
	checker *rbac.Checker
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(c *Coordinator) { c.log = l } }
func WithChecker(ch *rbac.Checker) Option    { return func(c *Coordinator) { c.checker = ch } }

func NewCoordinator(d *db.DB, dir directory.Directory, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:      d,
		dir:     dir,
		checker: rbac.NewChecker(nil),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Assign hands a submitted exam to an examiner and moves it under review.
func (c *Coordinator) Assign(ctx context.Context, submissionID, examinerID string) (sub exam.Submission, err error) {
	const op = "review.Assign"
	if submissionID == "" {
		return exam.Submission{}, apperr.Validation(op, "submission_id", "required")
	}
	person, err := c.dir.Lookup(ctx, examinerID)
	if err != nil {
		return exam.Submission{}, err
	}
	if !c.checker.Has(person.Role, rbac.PermSubmissionGrade) {
		return exam.Submission{}, apperr.Validation(op, "examiner_id", examinerID+" is not an examiner")
	}

	err = c.db.WithTx(ctx, func(h db.Handle) error {
		repo := exam.NewRepo(h)
		sub, err = load(ctx, repo, op, submissionID)
		if err != nil {
			return err
		}
		if err := exam.Transition(sub.Status, exam.StatusUnderReview); err != nil {
			return apperr.Conflict(op, err.Error())
		}
		sub.ExaminerID = person.ID
		sub.Status = exam.StatusUnderReview
		return repo.SaveSubmission(ctx, sub)
	})
	if err != nil {
		return exam.Submission{}, err
	}
	c.log.InfoContext(ctx, "examiner assigned", "submission_id", submissionID, "examiner_id", person.ID)
	return sub, nil
}

// Grade records per-question points awarded by the examiner and finalizes the
// submission. Published questions without an award score zero.
func (c *Coordinator) Grade(ctx context.Context, submissionID string, grades []grading.Award, notes string) (sub exam.Submission, err error) {
	const op = "review.Grade"
	err = c.db.WithTx(ctx, func(h db.Handle) error {
		repo := exam.NewRepo(h)
		sub, err = load(ctx, repo, op, submissionID)
		if err != nil {
			return err
		}
		if err := exam.Transition(sub.Status, exam.StatusGraded); err != nil {
			return apperr.Conflict(op, err.Error())
		}
		qs, err := repo.PublishedQuestions(ctx, sub.CertType, sub.ModuleID)
		if err != nil {
			return err
		}
		limits := make(map[string]float64, len(qs))
		for _, q := range qs {
			limits[q.ID] = q.Points
		}
		total, awarded, err := grading.Tally(limits, grades)
		if err != nil {
			return err
		}

		sub.Grades = make(map[string]exam.QuestionGrade, len(qs))
		for _, q := range qs {
			a := awarded[q.ID]
			sub.Grades[q.ID] = exam.QuestionGrade{Score: a.Score, Feedback: a.Feedback}
		}
		sub.ExaminerNotes = notes
		sub.FinalScore = &total
		sub.TotalScore = total
		sub.Status = exam.StatusGraded
		sub.GradedAt = c.now().UTC().Truncate(time.Second)
		return repo.SaveSubmission(ctx, sub)
	})
	if err != nil {
		return exam.Submission{}, err
	}
	c.log.InfoContext(ctx, "submission graded",
		"submission_id", submissionID, "examiner_id", sub.ExaminerID, "total_score", sub.TotalScore)
	return sub, nil
}

func (c *Coordinator) List(ctx context.Context, f exam.Filter) ([]exam.Submission, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("review.List", "status", "unknown status "+string(f.Status))
	}
	return exam.NewRepo(c.db.Handle()).Submissions(ctx, f)
}

// Stats counts submissions per status.
func (c *Coordinator) Stats(ctx context.Context) (map[exam.Status]int, error) {
	return exam.NewRepo(c.db.Handle()).CountByStatus(ctx)
}

func load(ctx context.Context, repo exam.Repo, op, id string) (exam.Submission, error) {
	sub, found, err := repo.Submission(ctx, id, true)
	if err != nil {
		return exam.Submission{}, err
	}
	if !found {
		return exam.Submission{}, apperr.NotFound(op, "submission "+id+" not found")
	}
	return sub, nil
}
