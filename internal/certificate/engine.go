// Package certificate decides when a candidate has earned a certification and
// issues the certificate document exactly once per candidate and
// certification.
package certificate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/lock"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/storage"
)

type Engine struct {
	db       *db.DB
	orders   progress.Orders
	blobs    storage.BlobStore
	renderer Renderer
	dir      directory.Directory
	locker   lock.Locker
	titles   map[string]string
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithLocker(l lock.Locker) Option        { return func(e *Engine) { e.locker = l } }

// WithTitles sets the certification names printed on documents.
func WithTitles(t map[string]string) Option { return func(e *Engine) { e.titles = t } }

func NewEngine(d *db.DB, orders progress.Orders, blobs storage.BlobStore, r Renderer, dir directory.Directory, opts ...Option) *Engine {
	e := &Engine{
		db:       d,
		orders:   orders,
		blobs:    blobs,
		renderer: r,
		dir:      dir,
		locker:   lock.Noop{},
		titles:   map[string]string{},
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) clock() time.Time { return e.now().UTC().Truncate(time.Second) }

// RequiredModules lists the modules of certType that have at least one
// published question, in certification order.
func (e *Engine) RequiredModules(ctx context.Context, certType string) ([]string, error) {
	if err := e.checkCert("certificate.RequiredModules", certType); err != nil {
		return nil, err
	}
	points, err := exam.NewRepo(e.db.Handle()).PublishedPoints(ctx, certType)
	if err != nil {
		return nil, err
	}
	return e.ordered(certType, points), nil
}

// ComputeAverage returns the candidate's /20 average rounded to two decimals,
// or nil while a required module has no graded submission.
func (e *Engine) ComputeAverage(ctx context.Context, candidateID, certType string) (*float64, error) {
	el, err := e.Eligibility(ctx, candidateID, certType)
	if err != nil {
		return nil, err
	}
	return el.Average20, nil
}

func (e *Engine) IsEligible(ctx context.Context, candidateID, certType string) (bool, error) {
	el, err := e.Eligibility(ctx, candidateID, certType)
	if err != nil {
		return false, err
	}
	return el.Eligible, nil
}

// Eligibility reports required and missing modules with the average.
func (e *Engine) Eligibility(ctx context.Context, candidateID, certType string) (Eligibility, error) {
	const op = "certificate.Eligibility"
	if candidateID == "" {
		return Eligibility{}, apperr.Validation(op, "candidate_id", "required")
	}
	if err := e.checkCert(op, certType); err != nil {
		return Eligibility{}, err
	}
	raw, el, err := e.evaluate(ctx, e.db.Handle(), candidateID, certType)
	if err != nil {
		return Eligibility{}, err
	}
	if raw != nil {
		r := round2(*raw)
		el.Average20 = &r
	}
	return el, nil
}

// evaluate returns the unrounded average; the pass mark is applied to it.
func (e *Engine) evaluate(ctx context.Context, h db.Handle, candidateID, certType string) (*float64, Eligibility, error) {
	repo := exam.NewRepo(h)
	points, err := repo.PublishedPoints(ctx, certType)
	if err != nil {
		return nil, Eligibility{}, err
	}
	graded, err := repo.LatestGraded(ctx, candidateID, certType)
	if err != nil {
		return nil, Eligibility{}, err
	}
	el := Eligibility{CandidateID: candidateID, CertType: certType, Required: e.ordered(certType, points), Missing: []string{}}
	var sumScore, sumMax float64
	for _, m := range el.Required {
		sub, ok := graded[m]
		if !ok {
			el.Missing = append(el.Missing, m)
			continue
		}
		sumScore += sub.TotalScore
		sumMax += points[m]
	}
	if len(el.Missing) > 0 {
		return nil, el, nil
	}
	avg := 0.0
	if sumMax > 0 {
		avg = sumScore / sumMax * 20
	}
	el.Eligible = avg >= MinAverage
	return &avg, el, nil
}

// Artifact returns the issued certificate for the pair, if any.
func (e *Engine) Artifact(ctx context.Context, candidateID, certType string) (Artifact, bool, error) {
	return getArtifact(ctx, e.db.Handle(), candidateID, certType)
}

func (e *Engine) List(ctx context.Context, certType string) ([]Artifact, error) {
	return listArtifacts(ctx, e.db.Handle(), certType)
}

// GenerateOrGet returns the existing certificate or issues one if the
// candidate is eligible. Renderer and blob failures are transient and leave
// no artifact behind.
func (e *Engine) GenerateOrGet(ctx context.Context, candidateID, certType string) (Outcome, error) {
	const op = "certificate.GenerateOrGet"
	if candidateID == "" {
		return Outcome{}, apperr.Validation(op, "candidate_id", "required")
	}
	if err := e.checkCert(op, certType); err != nil {
		return Outcome{}, err
	}
	if a, found, err := e.Artifact(ctx, candidateID, certType); err != nil || found {
		return existing(a), err
	}

	raw, _, err := e.evaluate(ctx, e.db.Handle(), candidateID, certType)
	if err != nil {
		return Outcome{}, err
	}
	if raw == nil || *raw < MinAverage {
		out := Outcome{}
		if raw != nil {
			r := round2(*raw)
			out.Average20 = &r
		}
		return out, nil
	}

	release, acquired, err := e.locker.TryLock(ctx, lockKey(candidateID, certType))
	if err != nil {
		return Outcome{}, apperr.Transient(op, "acquire generation lock", err)
	}
	if !acquired {
		return Outcome{}, apperr.Transient(op, "generation already in progress", nil)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			e.log.WarnContext(ctx, "release generation lock", "candidate_id", candidateID, "cert_type", certType, "err", err)
		}
	}()
	if a, found, err := e.Artifact(ctx, candidateID, certType); err != nil || found {
		return existing(a), err
	}
	return e.issue(ctx, op, candidateID, certType, round2(*raw))
}

func existing(a Artifact) Outcome {
	if a.Name == "" {
		return Outcome{}
	}
	avg := a.Average20
	return Outcome{Eligible: true, Average20: &avg, Artifact: &a}
}

func (e *Engine) issue(ctx context.Context, op, candidateID, certType string, avg float64) (Outcome, error) {
	person, err := e.dir.Lookup(ctx, candidateID)
	switch {
	case apperr.IsNotFound(err):
		person = directory.Person{ID: candidateID, DisplayName: candidateID}
	case err != nil:
		return Outcome{}, apperr.Transient(op, "look up candidate", err)
	}
	if person.DisplayName == "" {
		person.DisplayName = candidateID
	}

	now := e.clock()
	doc, err := e.renderer.Render(ctx, RenderInput{
		Name:          person.DisplayName,
		Certification: e.title(certType),
		Date:          now,
		IDNumber:      person.IDNumber,
	})
	if err != nil {
		return Outcome{}, apperr.Transient(op, "render certificate", err)
	}
	a := Artifact{
		CandidateID: candidateID,
		CertType:    certType,
		Name:        artifactName(candidateID, certType, now),
		Average20:   avg,
		IssuedAt:    now,
	}
	a.BlobKey = artifactKey(candidateID, certType, a.Name)
	if _, err := e.blobs.Put(ctx, a.BlobKey, bytes.NewReader(doc)); err != nil {
		return Outcome{}, apperr.Transient(op, "store certificate", err)
	}

	won, err := insertArtifact(ctx, e.db.Handle(), a)
	if err != nil {
		e.discard(ctx, a.BlobKey)
		return Outcome{}, err
	}
	if !won {
		winner, found, err := e.Artifact(ctx, candidateID, certType)
		if err != nil {
			return Outcome{}, err
		}
		if !found {
			return Outcome{}, fmt.Errorf("%s: artifact for %s/%s missing after conflict", op, candidateID, certType)
		}
		if winner.BlobKey != a.BlobKey {
			e.discard(ctx, a.BlobKey)
		}
		return existing(winner), nil
	}
	e.log.InfoContext(ctx, "certificate issued",
		"candidate_id", candidateID, "cert_type", certType, "artifact", a.Name, "average20", avg)
	return Outcome{Eligible: true, Created: true, Average20: &avg, Artifact: &a}, nil
}

func (e *Engine) discard(ctx context.Context, key string) {
	if err := e.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		e.log.WarnContext(ctx, "discard certificate blob", "blob_key", key, "err", err)
	}
}

// RebuildAll issues certificates for every candidate with graded work that
// does not hold one yet. It returns the newly issued artifacts together with
// the joined per-candidate failures.
func (e *Engine) RebuildAll(ctx context.Context, certType string) ([]Artifact, error) {
	if certType != "" {
		if err := e.checkCert("certificate.RebuildAll", certType); err != nil {
			return nil, err
		}
	}
	pairs, err := exam.NewRepo(e.db.Handle()).GradedPairs(ctx, certType)
	if err != nil {
		return nil, err
	}
	created := []Artifact{}
	var errs []error
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, ok := e.orders.Modules(p.CertType); !ok {
			continue
		}
		if _, found, err := e.Artifact(ctx, p.CandidateID, p.CertType); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", p.CandidateID, p.CertType, err))
			continue
		} else if found {
			continue
		}
		out, err := e.GenerateOrGet(ctx, p.CandidateID, p.CertType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", p.CandidateID, p.CertType, err))
			continue
		}
		if out.Created {
			created = append(created, *out.Artifact)
		}
	}
	e.log.InfoContext(ctx, "certificate rebuild finished",
		"cert_type", certType, "pairs", len(pairs), "created", len(created), "failed", len(errs))
	return created, errors.Join(errs...)
}

// MarkSent records delivery of the candidate's certificate, issuing it first
// when needed. Marking again overwrites the marker.
func (e *Engine) MarkSent(ctx context.Context, candidateID, certType, displayName string) (DeliveryMarker, error) {
	const op = "certificate.MarkSent"
	out, err := e.GenerateOrGet(ctx, candidateID, certType)
	if err != nil {
		return DeliveryMarker{}, err
	}
	if !out.Eligible {
		return DeliveryMarker{}, apperr.Conflict(op, "candidate "+candidateID+" is not eligible for "+certType)
	}
	if displayName == "" {
		if p, err := e.dir.Lookup(ctx, candidateID); err == nil && p.DisplayName != "" {
			displayName = p.DisplayName
		} else {
			displayName = candidateID
		}
	}
	m := DeliveryMarker{
		CandidateID: candidateID,
		CertType:    certType,
		ArtifactRef: out.Artifact.Name,
		DisplayName: displayName,
		SentAt:      e.clock(),
	}
	b, err := EncodeMarker(m)
	if err != nil {
		return DeliveryMarker{}, err
	}
	if _, err := e.blobs.Put(ctx, markerKey(candidateID, certType), bytes.NewReader(b)); err != nil {
		return DeliveryMarker{}, apperr.Transient(op, "store delivery marker", err)
	}
	e.log.InfoContext(ctx, "certificate marked sent", "candidate_id", candidateID, "cert_type", certType, "artifact", m.ArtifactRef)
	return m, nil
}

// EncodeMarker is the stored form of a delivery marker.
func EncodeMarker(m DeliveryMarker) ([]byte, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (e *Engine) checkCert(op, certType string) error {
	if _, ok := e.orders.Modules(certType); !ok {
		return apperr.Validation(op, "cert_type", "unknown certification "+certType)
	}
	return nil
}

// ordered sorts modules by certification order; unconfigured ones go last.
func (e *Engine) ordered(certType string, points map[string]float64) []string {
	out := make([]string, 0, len(points))
	for m := range points {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, oki := e.orders.Position(certType, out[i])
		pj, okj := e.orders.Position(certType, out[j])
		if oki != okj {
			return oki
		}
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}

func (e *Engine) title(certType string) string {
	if t, ok := e.titles[certType]; ok && t != "" {
		return t
	}
	return certType
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
