// Package progress owns the per-candidate module state machine and the rule
// that completing a module unlocks the next one in its certification order.
package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/window"
)

type Tracker struct {
	db     *db.DB
	orders Orders
	policy window.Policy
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }
func WithLogger(l *slog.Logger) Option       { return func(t *Tracker) { t.log = l } }

func NewTracker(d *db.DB, orders Orders, policy window.Policy, opts ...Option) *Tracker {
	t := &Tracker{
		db:     d,
		orders: orders,
		policy: policy,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) Orders() Orders        { return t.orders }
func (t *Tracker) Policy() window.Policy { return t.policy }

// clock returns now at the precision timestamps are stored with.
func (t *Tracker) clock() time.Time { return t.now().UTC().Truncate(time.Second) }

func (t *Tracker) Unlock(ctx context.Context, candidateID, certType, moduleID string) (rec Record, err error) {
	err = t.db.WithTx(ctx, func(h db.Handle) error {
		rec, err = t.UnlockTx(ctx, h, candidateID, certType, moduleID)
		return err
	})
	return rec, err
}

// UnlockTx unlocks a module inside the caller's transaction. Unlocking a module
// that is already unlocked or further along is a no-op.
func (t *Tracker) UnlockTx(ctx context.Context, h db.Handle, candidateID, certType, moduleID string) (Record, error) {
	const op = "progress.Unlock"
	k, err := t.key(op, candidateID, certType, moduleID)
	if err != nil {
		return Record{}, err
	}
	return t.unlock(ctx, h, op, k, true)
}

func (t *Tracker) unlock(ctx context.Context, h db.Handle, op string, k Key, checkWindow bool) (Record, error) {
	cur, found, err := getRecord(ctx, h, k, true)
	if err != nil {
		return Record{}, err
	}
	if found && cur.Status.AtLeast(StatusUnlocked) {
		return cur, nil
	}
	if checkWindow {
		if err := t.checkWindow(ctx, h, op, k.CandidateID, k.CertType); err != nil {
			return Record{}, err
		}
	}
	if prev, ok := t.orders.Previous(k.CertType, k.ModuleID); ok {
		p, _, err := getRecord(ctx, h, Key{CandidateID: k.CandidateID, CertType: k.CertType, ModuleID: prev}, false)
		if err != nil {
			return Record{}, err
		}
		if p.Status != StatusCompleted {
			return Record{}, apperr.Conflict(op, "previous module "+prev+" is not completed")
		}
	}

	now := t.clock()
	if !found {
		if err := insertUnlocked(ctx, h, k, now); err != nil {
			return Record{}, err
		}
	} else {
		if err := Transition(cur.Status, StatusUnlocked); err != nil {
			return Record{}, apperr.Conflict(op, err.Error())
		}
		cur.Status = StatusUnlocked
		cur.UnlockedAt = now
		if err := updateRecord(ctx, h, cur); err != nil {
			return Record{}, err
		}
	}
	rec, _, err := getRecord(ctx, h, k, false)
	if err != nil {
		return Record{}, err
	}
	t.log.InfoContext(ctx, "module unlocked",
		"candidate_id", k.CandidateID, "cert_type", k.CertType, "module_id", k.ModuleID)
	return rec, nil
}

func (t *Tracker) Start(ctx context.Context, candidateID, certType, moduleID string) (rec Record, err error) {
	err = t.db.WithTx(ctx, func(h db.Handle) error {
		rec, err = t.StartTx(ctx, h, candidateID, certType, moduleID)
		return err
	})
	return rec, err
}

func (t *Tracker) StartTx(ctx context.Context, h db.Handle, candidateID, certType, moduleID string) (Record, error) {
	const op = "progress.Start"
	k, err := t.key(op, candidateID, certType, moduleID)
	if err != nil {
		return Record{}, err
	}
	if err := t.checkWindow(ctx, h, op, k.CandidateID, k.CertType); err != nil {
		return Record{}, err
	}
	cur, _, err := getRecord(ctx, h, k, true)
	if err != nil {
		return Record{}, err
	}
	if err := Transition(cur.Status, StatusInProgress); err != nil {
		return Record{}, apperr.Conflict(op, err.Error())
	}
	cur.Status = StatusInProgress
	cur.StartedAt = t.clock()
	if err := updateRecord(ctx, h, cur); err != nil {
		return Record{}, err
	}
	t.log.InfoContext(ctx, "module started",
		"candidate_id", k.CandidateID, "cert_type", k.CertType, "module_id", k.ModuleID)
	return cur, nil
}

func (t *Tracker) Complete(ctx context.Context, candidateID, certType, moduleID string, score, maxScore float64, submissionID string) (rec Record, err error) {
	err = t.db.WithTx(ctx, func(h db.Handle) error {
		rec, err = t.CompleteTx(ctx, h, candidateID, certType, moduleID, score, maxScore, submissionID)
		return err
	})
	return rec, err
}

// CompleteTx marks a module completed and unlocks its successor within the
// caller's transaction. Completing twice is a conflict and changes nothing.
func (t *Tracker) CompleteTx(ctx context.Context, h db.Handle, candidateID, certType, moduleID string, score, maxScore float64, submissionID string) (Record, error) {
	const op = "progress.Complete"
	k, err := t.key(op, candidateID, certType, moduleID)
	if err != nil {
		return Record{}, err
	}
	if score < 0 || maxScore < 0 || score > maxScore {
		return Record{}, apperr.Validation(op, "score", "score must be within [0, maxScore]")
	}
	if err := t.checkWindow(ctx, h, op, k.CandidateID, k.CertType); err != nil {
		return Record{}, err
	}
	cur, _, err := getRecord(ctx, h, k, true)
	if err != nil {
		return Record{}, err
	}
	if err := Transition(cur.Status, StatusCompleted); err != nil {
		return Record{}, apperr.Conflict(op, err.Error())
	}
	cur.Status = StatusCompleted
	cur.CompletedAt = t.clock()
	cur.Score = score
	cur.MaxScore = maxScore
	cur.SubmissionID = submissionID
	if err := updateRecord(ctx, h, cur); err != nil {
		return Record{}, err
	}
	t.log.InfoContext(ctx, "module completed",
		"candidate_id", k.CandidateID, "cert_type", k.CertType, "module_id", k.ModuleID,
		"score", score, "max_score", maxScore)

	if next, ok := t.orders.Next(k.CertType, k.ModuleID); ok {
		nk := Key{CandidateID: k.CandidateID, CertType: k.CertType, ModuleID: next}
		if _, err := t.unlock(ctx, h, op, nk, false); err != nil {
			return Record{}, err
		}
	}
	return cur, nil
}

// Get returns the record, reporting absent rows as locked.
func (t *Tracker) Get(ctx context.Context, candidateID, certType, moduleID string) (Record, error) {
	k, err := t.key("progress.Get", candidateID, certType, moduleID)
	if err != nil {
		return Record{}, err
	}
	rec, _, err := getRecord(ctx, t.db.Handle(), k, false)
	return rec, err
}

// List returns one record per configured module, in certification order.
func (t *Tracker) List(ctx context.Context, candidateID, certType string) ([]Record, error) {
	const op = "progress.List"
	if candidateID == "" {
		return nil, apperr.Validation(op, "candidate_id", "required")
	}
	mods, ok := t.orders.Modules(certType)
	if !ok {
		return nil, apperr.Validation(op, "cert_type", "unknown certification "+certType)
	}
	got, err := listRecords(ctx, t.db.Handle(), candidateID, certType)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(mods))
	for _, m := range mods {
		r, ok := got[m]
		if !ok {
			r = Record{Key: Key{CandidateID: candidateID, CertType: certType, ModuleID: m}, Status: StatusLocked}
		}
		out = append(out, r)
	}
	return out, nil
}

// Window reports the candidate's exam window for certType.
func (t *Tracker) Window(ctx context.Context, candidateID, certType string) (WindowState, error) {
	start, err := windowStart(ctx, t.db.Handle(), candidateID, certType)
	if err != nil {
		return WindowState{}, err
	}
	now := t.clock()
	ws := WindowState{StartedAt: start, Remaining: t.policy.Remaining(now, start)}
	if !start.IsZero() {
		ws.ExpiresAt = t.policy.Expiry(start)
		ws.Expired = t.policy.IsExpired(now, start)
	}
	return ws, nil
}

// CheckWindowTx fails with an expired-window error once the candidate's
// window for certType has elapsed.
func (t *Tracker) CheckWindowTx(ctx context.Context, h db.Handle, op, candidateID, certType string) error {
	return t.checkWindow(ctx, h, op, candidateID, certType)
}

func (t *Tracker) checkWindow(ctx context.Context, h db.Handle, op, candidateID, certType string) error {
	start, err := windowStart(ctx, h, candidateID, certType)
	if err != nil {
		return err
	}
	if t.policy.IsExpired(t.clock(), start) {
		return apperr.Expired(op, "exam window closed at "+t.policy.Expiry(start).Format(time.RFC3339))
	}
	return nil
}

func (t *Tracker) key(op, candidateID, certType, moduleID string) (Key, error) {
	if candidateID == "" {
		return Key{}, apperr.Validation(op, "candidate_id", "required")
	}
	if _, ok := t.orders.Modules(certType); !ok {
		return Key{}, apperr.Validation(op, "cert_type", "unknown certification "+certType)
	}
	if !t.orders.Has(certType, moduleID) {
		return Key{}, apperr.Validation(op, "module_id", "unknown module "+moduleID+" for "+certType)
	}
	return Key{CandidateID: candidateID, CertType: certType, ModuleID: moduleID}, nil
}
