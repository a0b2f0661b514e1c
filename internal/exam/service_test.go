package exam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/db/dbtest"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/window"
)

const cert = "manager"

type fixture struct {
	db      *db.DB
	tracker *progress.Tracker
	catalog *Catalog
	mgr     *Manager
	now     time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: dbtest.Open(t), now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	orders := progress.NewOrders(map[string][]string{
		cert: {"leadership", "competences_professionnelles", "entrepreneuriat"},
	})
	f.tracker = progress.NewTracker(f.db, orders, window.New(3), progress.WithClock(f.clock))
	f.catalog = NewCatalog(f.db, orders, nil)
	f.catalog.now = f.clock
	f.mgr = NewManager(f.db, f.tracker, WithClock(f.clock))
	return f
}

func (f *fixture) publish(t *testing.T, q Question) Question {
	t.Helper()
	q, err := f.catalog.Put(context.Background(), q)
	require.NoError(t, err)
	q, err = f.catalog.Publish(context.Background(), q.ID, true)
	require.NoError(t, err)
	return q
}

// seedLeadership publishes three multiple-choice questions worth 1, 2 and 3
// points and one free-text question worth 5.
func (f *fixture) seedLeadership(t *testing.T) {
	t.Helper()
	for i, pts := range []float64{1, 2, 3} {
		f.publish(t, Question{
			ID: []string{"mc1", "mc2", "mc3"}[i], CertType: cert, ModuleID: "leadership",
			Kind: KindMultipleChoice, Points: pts, CorrectOption: "a",
		})
	}
	f.publish(t, Question{ID: "ft1", CertType: cert, ModuleID: "leadership", Kind: KindFreeText, Points: 5})
}

func TestSubmitScoresAndCompletesModule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	answers := map[string]interface{}{"mc1": "a", "mc2": "b", "mc3": "a", "ft1": "I lead by example."}
	res, err := f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), answers, cert, "leadership")
	require.NoError(t, err)

	assert.Equal(t, 9.0, res.Score)
	assert.Equal(t, 11.0, res.MaxScore)
	assert.Equal(t, 81.82, res.Percentage)
	assert.Equal(t, StatusSubmitted, res.Submission.Status)
	assert.Equal(t, 9.0, res.Submission.ProvisionalScore)
	assert.Equal(t, 9.0, res.Submission.TotalScore)
	assert.Nil(t, res.Submission.FinalScore)
	assert.Equal(t, f.now, res.Submission.SubmittedAt)

	rec, err := f.tracker.Get(ctx, "c1", cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusCompleted, rec.Status)
	assert.Equal(t, 9.0, rec.Score)
	assert.Equal(t, 11.0, rec.MaxScore)
	assert.Equal(t, res.Submission.ID, rec.SubmissionID)

	next, err := f.tracker.Get(ctx, "c1", cert, "competences_professionnelles")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusUnlocked, next.Status)

	stored, err := f.mgr.Get(ctx, res.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.Answers["mc2"])
}

func TestSubmitUnansweredAndUnpublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.catalog.Put(ctx, Question{ID: "draft-q", CertType: cert, ModuleID: "leadership", Kind: KindFreeText, Points: 50})
	require.NoError(t, err)
	_, err = f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	res, err := f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), map[string]interface{}{"mc3": "a", "ft1": "  "}, cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, 3.0, res.Score)
	assert.Equal(t, 11.0, res.MaxScore, "unpublished questions do not count")
}

func TestSubmitMalformedChoiceScoresZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	answers := map[string]interface{}{"mc1": 4, "mc2": "a", "ft1": "essay"}
	res, err := f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), answers, cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, 7.0, res.Score)
	assert.Equal(t, StatusSubmitted, res.Submission.Status)
}

func TestSubmitModuleWithoutQuestions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	res, err := f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), nil, cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.MaxScore)
	assert.Equal(t, 0.0, res.Percentage)
}

func TestSubmitTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	examID := ExamID(cert, "leadership")
	first, err := f.mgr.Submit(ctx, "c1", examID, map[string]interface{}{"mc1": "a"}, cert, "leadership")
	require.NoError(t, err)

	_, err = f.mgr.Submit(ctx, "c1", examID, map[string]interface{}{"mc1": "a", "mc2": "a"}, cert, "leadership")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	got, err := f.mgr.Get(ctx, first.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.TotalScore)
}

func TestConcurrentSubmitsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	const n = 4
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), map[string]interface{}{"mc1": "a"}, cert, "leadership")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperr.IsConflict(err), "%v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestSubmitRollsBackWhenModuleLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.publish(t, Question{ID: "cp1", CertType: cert, ModuleID: "competences_professionnelles", Kind: KindFreeText, Points: 4})

	examID := ExamID(cert, "competences_professionnelles")
	_, err := f.mgr.Submit(ctx, "c1", examID, map[string]interface{}{"cp1": "text"}, cert, "competences_professionnelles")
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err))

	_, found, err := NewRepo(f.db.Handle()).SubmissionFor(ctx, examID, "c1", false)
	require.NoError(t, err)
	assert.False(t, found, "submission must not survive a failed completion")
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	_, err = f.mgr.Submit(ctx, "c1", "manager:entrepreneuriat", nil, cert, "leadership")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.mgr.Submit(ctx, "c1", "other:leadership", nil, "other", "leadership")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.mgr.Submit(ctx, "", ExamID(cert, "leadership"), nil, cert, "leadership")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), map[string]interface{}{"nope": "a"}, cert, "leadership")
	assert.True(t, apperr.IsValidation(err))

	rec, err := f.tracker.Get(ctx, "c1", cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, progress.StatusUnlocked, rec.Status)
}

func TestSubmitAfterWindowExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)

	f.now = f.now.Add(72*time.Hour + time.Second)
	_, err = f.mgr.Submit(ctx, "c1", ExamID(cert, "leadership"), map[string]interface{}{"mc1": "a"}, cert, "leadership")
	require.Error(t, err)
	assert.True(t, apperr.IsExpired(err))

	_, err = f.mgr.GetOrCreateDraft(ctx, "c1", ExamID(cert, "leadership"))
	assert.True(t, apperr.IsExpired(err))
}

func TestDraftLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLeadership(t)
	_, err := f.tracker.Unlock(ctx, "c1", cert, "leadership")
	require.NoError(t, err)
	examID := ExamID(cert, "leadership")

	d1, err := f.mgr.GetOrCreateDraft(ctx, "c1", examID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, d1.Status)
	assert.Equal(t, f.now, d1.StartedAt)

	f.now = f.now.Add(time.Minute)
	d2, err := f.mgr.GetOrCreateDraft(ctx, "c1", examID)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, d2.ID)
	assert.Equal(t, d1.StartedAt, d2.StartedAt)

	_, err = f.mgr.SaveAnswers(ctx, "c1", examID, map[string]interface{}{"mc1": "a"})
	require.NoError(t, err)
	saved, err := f.mgr.SaveAnswers(ctx, "c1", examID, map[string]interface{}{"mc3": "a"})
	require.NoError(t, err)
	assert.Len(t, saved.Answers, 2)

	_, err = f.mgr.SaveAnswers(ctx, "c1", examID, map[string]interface{}{"bogus": "a"})
	assert.True(t, apperr.IsValidation(err))

	res, err := f.mgr.Submit(ctx, "c1", examID, map[string]interface{}{"ft1": "essay"}, cert, "leadership")
	require.NoError(t, err)
	assert.Equal(t, d1.ID, res.Submission.ID)
	assert.Equal(t, 9.0, res.Score)

	_, err = f.mgr.SaveAnswers(ctx, "c1", examID, map[string]interface{}{"mc2": "a"})
	assert.True(t, apperr.IsConflict(err))

	again, err := f.mgr.GetOrCreateDraft(ctx, "c1", examID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, again.Status)
}

func TestSaveAnswersWithoutDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.SaveAnswers(context.Background(), "c1", ExamID(cert, "leadership"), map[string]interface{}{})
	assert.True(t, apperr.IsNotFound(err))
}

func TestQuestionsHideAnswerKey(t *testing.T) {
	f := newFixture(t)
	f.seedLeadership(t)
	qs, err := f.mgr.Questions(context.Background(), ExamID(cert, "leadership"))
	require.NoError(t, err)
	require.Len(t, qs, 4)
	for _, q := range qs {
		assert.Empty(t, q.CorrectOption, q.ID)
	}
}

func TestGetUnknownSubmission(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Get(context.Background(), "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestTransitionAndExamID(t *testing.T) {
	assert.NoError(t, Transition(StatusDraft, StatusSubmitted))
	assert.NoError(t, Transition(StatusSubmitted, StatusUnderReview))
	assert.NoError(t, Transition(StatusUnderReview, StatusGraded))
	assert.Error(t, Transition(StatusDraft, StatusGraded))
	assert.Error(t, Transition(StatusGraded, StatusSubmitted))
	assert.Error(t, Transition(StatusSubmitted, StatusSubmitted))

	c, m, ok := ParseExamID("manager:leadership")
	assert.True(t, ok)
	assert.Equal(t, "manager", c)
	assert.Equal(t, "leadership", m)
	_, _, ok = ParseExamID("manager")
	assert.False(t, ok)
	_, _, ok = ParseExamID(":leadership")
	assert.False(t, ok)

	assert.Equal(t, 81.82, Percentage(9, 11))
	assert.Equal(t, 0.0, Percentage(0, 0))
}
