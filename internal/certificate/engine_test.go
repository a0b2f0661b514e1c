package certificate

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/db/dbtest"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/storage"
)

const cert = "manager"

var (
	modules = []string{"leadership", "competences_professionnelles", "entrepreneuriat"}
	issueAt = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
)

type fakeRenderer struct {
	calls  atomic.Int32
	err    error
	before func()
	last   RenderInput
	mu     sync.Mutex
}

func (r *fakeRenderer) Render(_ context.Context, in RenderInput) ([]byte, error) {
	r.calls.Add(1)
	if r.before != nil {
		r.before()
	}
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	r.last = in
	r.mu.Unlock()
	return []byte("%PDF " + in.Name), nil
}

type fixture struct {
	db       *db.DB
	engine   *Engine
	renderer *fakeRenderer
	blobs    *storage.FSStore
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{db: dbtest.Open(t), renderer: &fakeRenderer{}, dir: t.TempDir()}
	var err error
	f.blobs, err = storage.NewFSStore(f.dir)
	require.NoError(t, err)

	orders := progress.NewOrders(map[string][]string{cert: modules})
	catalog := exam.NewCatalog(f.db, orders, nil)
	for _, m := range modules {
		q, err := catalog.Put(ctx, exam.Question{ID: m + "-q", CertType: cert, ModuleID: m, Kind: exam.KindFreeText, Points: 100})
		require.NoError(t, err)
		_, err = catalog.Publish(ctx, q.ID, true)
		require.NoError(t, err)
	}

	people := directory.NewSQL(f.db)
	_, _, err = people.Upsert(ctx, []directory.Person{{ID: "c1", DisplayName: "Awa Diop", IDNumber: "SN-001"}})
	require.NoError(t, err)

	f.engine = NewEngine(f.db, orders, f.blobs, f.renderer, people,
		WithClock(func() time.Time { return issueAt }),
		WithTitles(map[string]string{cert: "Manager Certificate"}))
	return f
}

// grade records a graded submission for the candidate's module.
func (f *fixture) grade(t *testing.T, candidateID, moduleID string, score float64) {
	t.Helper()
	insertGraded(t, f.db, candidateID, cert, moduleID, score)
}

func insertGraded(t *testing.T, d *db.DB, candidateID, certType, moduleID string, score float64) {
	t.Helper()
	ctx := context.Background()
	repo := exam.NewRepo(d.Handle())
	sub := exam.Submission{
		ID:          candidateID + "/" + certType + "/" + moduleID,
		ExamID:      exam.ExamID(certType, moduleID),
		CertType:    certType,
		ModuleID:    moduleID,
		CandidateID: candidateID,
		StartedAt:   issueAt.Add(-48 * time.Hour),
	}
	require.NoError(t, repo.InsertDraft(ctx, sub))
	sub.Status = exam.StatusGraded
	sub.SubmittedAt = issueAt.Add(-47 * time.Hour)
	sub.GradedAt = issueAt.Add(-24 * time.Hour)
	sub.FinalScore = &score
	sub.TotalScore = score
	require.NoError(t, repo.SaveSubmission(ctx, sub))
}

func (f *fixture) gradeAll(t *testing.T, candidateID string, scores ...float64) {
	t.Helper()
	for i, s := range scores {
		f.grade(t, candidateID, modules[i], s)
	}
}

func TestComputeAverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)

	avg, err := f.engine.ComputeAverage(ctx, "c1", cert)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.Equal(t, 15.67, *avg)

	ok, err := f.engine.IsEligible(ctx, "c1", cert)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMissingModuleIsIneligible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60)

	el, err := f.engine.Eligibility(ctx, "c1", cert)
	require.NoError(t, err)
	assert.Nil(t, el.Average20)
	assert.False(t, el.Eligible)
	assert.Equal(t, modules, el.Required)
	assert.Equal(t, []string{"entrepreneuriat"}, el.Missing)

	out, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, out.Eligible)
	assert.Nil(t, out.Artifact)
	assert.Zero(t, f.renderer.calls.Load())
}

func TestPassMarkUsesUnroundedAverage(t *testing.T) {
	f := newFixture(t)
	// 149.99/300*20 = 9.9993, which rounds to 10.00 but does not pass.
	f.gradeAll(t, "c1", 50, 50, 49.99)

	el, err := f.engine.Eligibility(context.Background(), "c1", cert)
	require.NoError(t, err)
	require.NotNil(t, el.Average20)
	assert.Equal(t, 10.0, *el.Average20)
	assert.False(t, el.Eligible)
}

func TestRequiredModulesIgnoreUnpublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.db.Handle().Exec(ctx, `UPDATE questions SET published=? WHERE module_id=?`, false, "entrepreneuriat")
	require.NoError(t, err)

	req, err := f.engine.RequiredModules(ctx, cert)
	require.NoError(t, err)
	assert.Equal(t, []string{"leadership", "competences_professionnelles"}, req)

	f.gradeAll(t, "c1", 90, 60)
	avg, err := f.engine.ComputeAverage(ctx, "c1", cert)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.Equal(t, 15.0, *avg)

	_, err = f.engine.RequiredModules(ctx, "unknown")
	assert.True(t, apperr.IsValidation(err))
}

func TestGenerateOrGetIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)

	first, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	require.True(t, first.Eligible)
	assert.True(t, first.Created)
	assert.Equal(t, "c1-manager-20260601100000", first.Artifact.Name)
	assert.Equal(t, "certificates/manager/c1/c1-manager-20260601100000.pdf", first.Artifact.BlobKey)
	assert.Equal(t, 15.67, first.Artifact.Average20)
	assert.Equal(t, RenderInput{Name: "Awa Diop", Certification: "Manager Certificate", Date: issueAt, IDNumber: "SN-001"}, f.renderer.last)

	second, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, *first.Artifact, *second.Artifact)
	assert.Equal(t, int32(1), f.renderer.calls.Load())

	doc, err := os.ReadFile(filepath.Join(f.dir, first.Artifact.BlobKey))
	require.NoError(t, err)
	assert.Equal(t, "%PDF Awa Diop", string(doc))
}

func TestConcurrentGenerateYieldsOneArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)

	const n = 5
	var wg sync.WaitGroup
	outs := make([]Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = f.engine.GenerateOrGet(ctx, "c1", cert)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range outs {
		require.NoError(t, errs[i])
		require.NotNil(t, outs[i].Artifact)
		assert.Equal(t, outs[0].Artifact.Name, outs[i].Artifact.Name)
		if outs[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	all, err := f.engine.List(ctx, cert)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	ok, err := f.blobs.Exists(ctx, outs[0].Artifact.BlobKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoserDiscardsItsBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)

	winner := Artifact{
		CandidateID: "c1", CertType: cert, Name: "c1-manager-20260601095959",
		BlobKey: "certificates/manager/c1/c1-manager-20260601095959.pdf", Average20: 15.67, IssuedAt: issueAt.Add(-time.Second),
	}
	// Another worker commits its artifact while this one is rendering.
	f.renderer.before = func() {
		won, err := insertArtifact(ctx, f.db.Handle(), winner)
		require.NoError(t, err)
		require.True(t, won)
	}

	out, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Equal(t, winner, *out.Artifact)

	ok, err := f.blobs.Exists(ctx, "certificates/manager/c1/c1-manager-20260601100000.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenderFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)
	f.renderer.err = errors.New("renderer down")

	_, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	_, found, err := f.engine.Artifact(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, found)

	f.renderer.err = nil
	out, err := f.engine.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	assert.True(t, out.Created)
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string) (func(context.Context) error, bool, error) {
	return nil, false, nil
}

func TestHeldLockIsTransient(t *testing.T) {
	f := newFixture(t)
	f.gradeAll(t, "c1", 90, 60, 85)
	WithLocker(busyLocker{})(f.engine)

	_, err := f.engine.GenerateOrGet(context.Background(), "c1", cert)
	assert.True(t, apperr.IsTransient(err))
	assert.Zero(t, f.renderer.calls.Load())
}

func TestRebuildAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)
	f.gradeAll(t, "c2", 20, 30, 10)
	f.gradeAll(t, "c3", 100, 100)
	f.gradeAll(t, "c4", 80, 80, 80)

	_, err := f.engine.GenerateOrGet(ctx, "c4", cert)
	require.NoError(t, err)
	calls := f.renderer.calls.Load()

	created, err := f.engine.RebuildAll(ctx, cert)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "c1", created[0].CandidateID)
	assert.Equal(t, calls+1, f.renderer.calls.Load())

	again, err := f.engine.RebuildAll(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = f.engine.RebuildAll(ctx, "unknown")
	assert.True(t, apperr.IsValidation(err))
}

func TestRebuildAllCollectsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)
	f.gradeAll(t, "c2", 95, 95, 95)
	f.renderer.err = errors.New("renderer down")

	created, err := f.engine.RebuildAll(ctx, cert)
	require.Error(t, err)
	assert.Empty(t, created)
	assert.True(t, apperr.IsTransient(err))
	assert.Contains(t, err.Error(), "c1/manager")
	assert.Contains(t, err.Error(), "c2/manager")
}

func TestMarkSent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gradeAll(t, "c1", 90, 60, 85)

	m, err := f.engine.MarkSent(ctx, "c1", cert, "")
	require.NoError(t, err)
	assert.Equal(t, "Awa Diop", m.DisplayName)
	assert.Equal(t, "c1-manager-20260601100000", m.ArtifactRef)

	_, err = f.engine.MarkSent(ctx, "c1", cert, "Awa Diop")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.renderer.calls.Load())

	stored, err := os.ReadFile(filepath.Join(f.dir, "deliveries", "manager", "c1.json"))
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "delivery_marker", stored)
}

func TestMarkSentIneligible(t *testing.T) {
	f := newFixture(t)
	f.gradeAll(t, "c1", 10, 10, 10)

	_, err := f.engine.MarkSent(context.Background(), "c1", cert, "Awa")
	assert.True(t, apperr.IsConflict(err))
	ok, err := f.blobs.Exists(context.Background(), "deliveries/manager/c1.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeysDoNotCollideAcrossPairs(t *testing.T) {
	ctx := context.Background()
	d := dbtest.Open(t)
	orders := progress.NewOrders(map[string][]string{"b-c": {"m"}, "c": {"m"}})
	catalog := exam.NewCatalog(d, orders, nil)
	for _, ct := range []string{"b-c", "c"} {
		q, err := catalog.Put(ctx, exam.Question{ID: ct + "-q", CertType: ct, ModuleID: "m", Kind: exam.KindFreeText, Points: 10})
		require.NoError(t, err)
		_, err = catalog.Publish(ctx, q.ID, true)
		require.NoError(t, err)
	}
	people := directory.NewSQL(d)
	_, _, err := people.Upsert(ctx, []directory.Person{{ID: "a", DisplayName: "Alice"}, {ID: "a-b", DisplayName: "Bob"}})
	require.NoError(t, err)
	insertGraded(t, d, "a", "b-c", "m", 8)
	insertGraded(t, d, "a-b", "c", "m", 9)

	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)
	locks := &recordingLocker{}
	e := NewEngine(d, orders, blobs, &fakeRenderer{}, people,
		WithClock(func() time.Time { return issueAt }), WithLocker(locks))

	created, err := e.RebuildAll(ctx, "")
	require.NoError(t, err)
	require.Len(t, created, 2)

	alice, found, err := e.Artifact(ctx, "a", "b-c")
	require.NoError(t, err)
	require.True(t, found)
	bob, found, err := e.Artifact(ctx, "a-b", "c")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, alice.Name, bob.Name, "display names may coincide")
	assert.NotEqual(t, alice.BlobKey, bob.BlobKey)

	for key, want := range map[string]string{alice.BlobKey: "%PDF Alice", bob.BlobKey: "%PDF Bob"} {
		rc, err := blobs.Get(ctx, key)
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, want, string(b), key)
	}
	assert.ElementsMatch(t, []string{"certificate/b-c/a", "certificate/c/a-b"}, locks.keys)
}

func TestEscapedKeys(t *testing.T) {
	assert.Equal(t, "deliveries/c/a%2Fb.json", markerKey("a/b", "c"))
	assert.NotEqual(t, lockKey("a/b", "c"), lockKey("b", "c/a"))
	assert.Equal(t, "certificates/manager/c1/n.pdf", artifactKey("c1", "manager", "n"))
}

type recordingLocker struct {
	mu   sync.Mutex
	keys []string
}

func (l *recordingLocker) TryLock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return func(context.Context) error { return nil }, true, nil
}

func TestNothingPublishedIsIneligible(t *testing.T) {
	ctx := context.Background()
	d := dbtest.Open(t)
	orders := progress.NewOrders(map[string][]string{cert: modules})
	renderer := &fakeRenderer{}
	e := NewEngine(d, orders, nil, renderer, directory.NewSQL(d))

	req, err := e.RequiredModules(ctx, cert)
	require.NoError(t, err)
	assert.Empty(t, req)

	el, err := e.Eligibility(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, el.Eligible)
	assert.Empty(t, el.Missing)
	require.NotNil(t, el.Average20)
	assert.Zero(t, *el.Average20)

	out, err := e.GenerateOrGet(ctx, "c1", cert)
	require.NoError(t, err)
	assert.False(t, out.Eligible)
	assert.Nil(t, out.Artifact)
	assert.Zero(t, renderer.calls.Load())
}
