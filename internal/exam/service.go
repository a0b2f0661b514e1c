// Package exam owns the question bank and the submission lifecycle of a
// module exam: drafting, submitting with automatic scoring, and the progress
// update that a submission triggers.
package exam

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/grading"
	"github.com/mind-engage/mindengage-cert/internal/progress"
)

type Manager struct {
	db      *db.DB
	tracker *progress.Tracker
	grader  grading.Grader
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(m *Manager) { m.log = l } }
func WithGrader(g grading.Grader) Option     { return func(m *Manager) { m.grader = g } }
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

func NewManager(d *db.DB, tracker *progress.Tracker, opts ...Option) *Manager {
	m := &Manager{
		db:      d,
		tracker: tracker,
		grader:  grading.NewDefaultGrader(),
		now:     time.Now,
		newID:   uuid.NewString,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) clock() time.Time { return m.now().UTC().Truncate(time.Second) }

// GetOrCreateDraft returns the candidate's submission for examID, creating a
// draft on first access.
func (m *Manager) GetOrCreateDraft(ctx context.Context, candidateID, examID string) (sub Submission, err error) {
	const op = "exam.GetOrCreateDraft"
	certType, moduleID, err := m.parse(op, candidateID, examID)
	if err != nil {
		return Submission{}, err
	}
	err = m.db.WithTx(ctx, func(h db.Handle) error {
		repo := NewRepo(h)
		var found bool
		sub, found, err = repo.SubmissionFor(ctx, examID, candidateID, false)
		if err != nil || found {
			return err
		}
		if err := m.tracker.CheckWindowTx(ctx, h, op, candidateID, certType); err != nil {
			return err
		}
		draft := Submission{
			ID:          m.newID(),
			ExamID:      examID,
			CertType:    certType,
			ModuleID:    moduleID,
			CandidateID: candidateID,
			Status:      StatusDraft,
			StartedAt:   m.clock(),
		}
		if err := repo.InsertDraft(ctx, draft); err != nil {
			return err
		}
		sub, found, err = repo.SubmissionFor(ctx, examID, candidateID, false)
		if err == nil && !found {
			err = fmt.Errorf("draft for %s/%s vanished after insert", examID, candidateID)
		}
		return err
	})
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// SaveAnswers merges answers into the candidate's draft.
func (m *Manager) SaveAnswers(ctx context.Context, candidateID, examID string, answers map[string]interface{}) (sub Submission, err error) {
	const op = "exam.SaveAnswers"
	certType, moduleID, err := m.parse(op, candidateID, examID)
	if err != nil {
		return Submission{}, err
	}
	err = m.db.WithTx(ctx, func(h db.Handle) error {
		repo := NewRepo(h)
		var found bool
		sub, found, err = repo.SubmissionFor(ctx, examID, candidateID, true)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound(op, "no draft for "+examID)
		}
		if sub.Status != StatusDraft {
			return apperr.Conflict(op, "submission is "+string(sub.Status))
		}
		if err := m.tracker.CheckWindowTx(ctx, h, op, candidateID, certType); err != nil {
			return err
		}
		qs, err := repo.PublishedQuestions(ctx, certType, moduleID)
		if err != nil {
			return err
		}
		if err := checkAnswerIDs(op, qs, answers); err != nil {
			return err
		}
		sub.Answers = mergeAnswers(sub.Answers, answers)
		return repo.SaveSubmission(ctx, sub)
	})
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}

// Submit scores the candidate's answers, records the submission and completes
// the module, all in one transaction.
func (m *Manager) Submit(ctx context.Context, candidateID, examID string, answers map[string]interface{}, certType, moduleID string) (res Result, err error) {
	const op = "exam.Submit"
	if examID != ExamID(certType, moduleID) {
		return Result{}, apperr.Validation(op, "exam_id", "exam id does not match "+ExamID(certType, moduleID))
	}
	if _, _, err := m.parse(op, candidateID, examID); err != nil {
		return Result{}, err
	}

	err = m.db.WithTx(ctx, func(h db.Handle) error {
		if err := m.tracker.CheckWindowTx(ctx, h, op, candidateID, certType); err != nil {
			return err
		}
		repo := NewRepo(h)
		sub, found, err := repo.SubmissionFor(ctx, examID, candidateID, true)
		if err != nil {
			return err
		}
		if found && sub.Status != StatusDraft {
			return apperr.Conflict(op, "already "+string(sub.Status))
		}

		qs, err := repo.PublishedQuestions(ctx, certType, moduleID)
		if err != nil {
			return err
		}
		if err := checkAnswerIDs(op, qs, answers); err != nil {
			return err
		}
		all := mergeAnswers(sub.Answers, answers)
		score, maxScore, err := m.score(ctx, op, qs, all)
		if err != nil {
			return err
		}

		if !found {
			draft := Submission{
				ID:          m.newID(),
				ExamID:      examID,
				CertType:    certType,
				ModuleID:    moduleID,
				CandidateID: candidateID,
				Status:      StatusDraft,
				StartedAt:   m.clock(),
			}
			if err := repo.InsertDraft(ctx, draft); err != nil {
				return err
			}
			if sub, found, err = repo.SubmissionFor(ctx, examID, candidateID, true); err != nil {
				return err
			}
			if !found || sub.Status != StatusDraft {
				return apperr.Conflict(op, "submission already recorded")
			}
		}

		if err := Transition(sub.Status, StatusSubmitted); err != nil {
			return apperr.Conflict(op, err.Error())
		}
		sub.Answers = all
		sub.Status = StatusSubmitted
		sub.SubmittedAt = m.clock()
		sub.ProvisionalScore = score
		sub.TotalScore = score
		if err := repo.SaveSubmission(ctx, sub); err != nil {
			return err
		}
		if _, err := m.tracker.CompleteTx(ctx, h, candidateID, certType, moduleID, score, maxScore, sub.ID); err != nil {
			return err
		}
		res = Result{Score: score, MaxScore: maxScore, Percentage: Percentage(score, maxScore), Submission: sub}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.log.InfoContext(ctx, "exam submitted",
		"submission_id", res.Submission.ID, "candidate_id", candidateID, "exam_id", examID,
		"score", res.Score, "max_score", res.MaxScore)
	return res, nil
}

// Get loads a submission by id.
func (m *Manager) Get(ctx context.Context, id string) (Submission, error) {
	sub, found, err := NewRepo(m.db.Handle()).Submission(ctx, id, false)
	if err != nil {
		return Submission{}, err
	}
	if !found {
		return Submission{}, apperr.NotFound("exam.Get", "submission "+id+" not found")
	}
	return sub, nil
}

// Questions returns the published questions of an exam without answer keys.
func (m *Manager) Questions(ctx context.Context, examID string) ([]Question, error) {
	const op = "exam.Questions"
	certType, moduleID, ok := ParseExamID(examID)
	if !ok || !m.tracker.Orders().Has(certType, moduleID) {
		return nil, apperr.Validation(op, "exam_id", "unknown exam "+examID)
	}
	qs, err := NewRepo(m.db.Handle()).PublishedQuestions(ctx, certType, moduleID)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		qs[i] = qs[i].ForCandidate()
	}
	return qs, nil
}

func (m *Manager) score(ctx context.Context, op string, qs []Question, answers map[string]interface{}) (score, maxScore float64, err error) {
	for _, q := range qs {
		maxScore += q.Points
		resp, ok := answers[q.ID]
		if !ok || !grading.Answered(resp) {
			continue
		}
		r, err := m.grader.Grade(ctx, grading.Q{Kind: string(q.Kind), Points: q.Points, CorrectOption: q.CorrectOption}, resp)
		if err != nil {
			return 0, 0, apperr.Validation(op, "answers."+q.ID, err.Error())
		}
		score += r.AutoPoints
	}
	return score, maxScore, nil
}

func (m *Manager) parse(op, candidateID, examID string) (certType, moduleID string, err error) {
	if candidateID == "" {
		return "", "", apperr.Validation(op, "candidate_id", "required")
	}
	certType, moduleID, ok := ParseExamID(examID)
	if !ok {
		return "", "", apperr.Validation(op, "exam_id", "malformed exam id "+examID)
	}
	if !m.tracker.Orders().Has(certType, moduleID) {
		return "", "", apperr.Validation(op, "exam_id", "unknown exam "+examID)
	}
	return certType, moduleID, nil
}

// Percentage is score/maxScore as a percentage rounded to two decimals.
func Percentage(score, maxScore float64) float64 {
	if maxScore == 0 {
		return 0
	}
	return math.Round(score/maxScore*10000) / 100
}

func checkAnswerIDs(op string, qs []Question, answers map[string]interface{}) error {
	known := make(map[string]struct{}, len(qs))
	for _, q := range qs {
		known[q.ID] = struct{}{}
	}
	for id := range answers {
		if _, ok := known[id]; !ok {
			return apperr.Validation(op, "answers."+id, "not a published question of this exam")
		}
	}
	return nil
}

func mergeAnswers(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
