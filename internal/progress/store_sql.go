package progress

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/db"
)

const recordColumns = `candidate_id, cert_type, module_id, status, unlocked_at, started_at, completed_at, score, max_score, submission_id`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		r                 Record
		status            string
		unl, start, compl sql.NullInt64
	)
	if err := row.Scan(&r.CandidateID, &r.CertType, &r.ModuleID, &status, &unl, &start, &compl, &r.Score, &r.MaxScore, &r.SubmissionID); err != nil {
		return Record{}, err
	}
	r.Status = Status(status)
	r.UnlockedAt = db.FromUnix(unl)
	r.StartedAt = db.FromUnix(start)
	r.CompletedAt = db.FromUnix(compl)
	return r, nil
}

// getRecord loads a record; found is false when no row exists.
func getRecord(ctx context.Context, h db.Handle, k Key, lock bool) (rec Record, found bool, err error) {
	q := `SELECT ` + recordColumns + ` FROM module_progress WHERE candidate_id=? AND cert_type=? AND module_id=?`
	if lock {
		q += h.ForUpdate()
	}
	rec, err = scanRecord(h.QueryRow(ctx, q, k.CandidateID, k.CertType, k.ModuleID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Key: k, Status: StatusLocked}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// insertUnlocked creates an unlocked row unless one already exists.
func insertUnlocked(ctx context.Context, h db.Handle, k Key, at time.Time) error {
	_, err := h.Exec(ctx, `INSERT INTO module_progress (candidate_id, cert_type, module_id, status, unlocked_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT (candidate_id, cert_type, module_id) DO NOTHING`,
		k.CandidateID, k.CertType, k.ModuleID, string(StatusUnlocked), at.Unix())
	return err
}

func updateRecord(ctx context.Context, h db.Handle, r Record) error {
	_, err := h.Exec(ctx, `UPDATE module_progress
		SET status=?, unlocked_at=?, started_at=?, completed_at=?, score=?, max_score=?, submission_id=?
		WHERE candidate_id=? AND cert_type=? AND module_id=?`,
		string(r.Status), db.Unix(r.UnlockedAt), db.Unix(r.StartedAt), db.Unix(r.CompletedAt),
		r.Score, r.MaxScore, r.SubmissionID,
		r.CandidateID, r.CertType, r.ModuleID)
	return err
}

func listRecords(ctx context.Context, h db.Handle, candidateID, certType string) (map[string]Record, error) {
	rows, err := h.Query(ctx, `SELECT `+recordColumns+` FROM module_progress WHERE candidate_id=? AND cert_type=?`,
		candidateID, certType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[r.ModuleID] = r
	}
	return out, rows.Err()
}

// windowStart is the candidate's first unlock for certType, zero if none.
func windowStart(ctx context.Context, h db.Handle, candidateID, certType string) (time.Time, error) {
	var first sql.NullInt64
	err := h.QueryRow(ctx, `SELECT MIN(unlocked_at) FROM module_progress WHERE candidate_id=? AND cert_type=?`,
		candidateID, certType).Scan(&first)
	if err != nil {
		return time.Time{}, err
	}
	return db.FromUnix(first), nil
}
