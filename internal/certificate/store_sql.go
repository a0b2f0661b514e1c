package certificate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/db"
)

func getArtifact(ctx context.Context, h db.Handle, candidateID, certType string) (Artifact, bool, error) {
	var (
		a      Artifact
		issued int64
	)
	err := h.QueryRow(ctx, `SELECT candidate_id, cert_type, name, blob_key, average20, issued_at
		FROM certificate_artifacts WHERE candidate_id=? AND cert_type=?`, candidateID, certType).
		Scan(&a.CandidateID, &a.CertType, &a.Name, &a.BlobKey, &a.Average20, &issued)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}
	a.IssuedAt = time.Unix(issued, 0).UTC()
	return a, true, nil
}

// insertArtifact reports false when another artifact already holds the pair.
func insertArtifact(ctx context.Context, h db.Handle, a Artifact) (bool, error) {
	res, err := h.Exec(ctx, `INSERT INTO certificate_artifacts (candidate_id, cert_type, name, blob_key, average20, issued_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (candidate_id, cert_type) DO NOTHING`,
		a.CandidateID, a.CertType, a.Name, a.BlobKey, a.Average20, a.IssuedAt.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func listArtifacts(ctx context.Context, h db.Handle, certType string) ([]Artifact, error) {
	q := `SELECT candidate_id, cert_type, name, blob_key, average20, issued_at FROM certificate_artifacts`
	var args []any
	if certType != "" {
		q += ` WHERE cert_type=?`
		args = append(args, certType)
	}
	rows, err := h.Query(ctx, q+` ORDER BY issued_at, candidate_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Artifact{}
	for rows.Next() {
		var (
			a      Artifact
			issued int64
		)
		if err := rows.Scan(&a.CandidateID, &a.CertType, &a.Name, &a.BlobKey, &a.Average20, &issued); err != nil {
			return nil, err
		}
		a.IssuedAt = time.Unix(issued, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
