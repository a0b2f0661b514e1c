package certificate

import (
	"context"
	"net/url"
	"time"
)

// MinAverage is the pass mark on the /20 scale.
const MinAverage = 10.0

// RenderInput is what the document renderer prints on a certificate.
type RenderInput struct {
	Name          string
	Certification string
	Date          time.Time
	IDNumber      string
}

type Renderer interface {
	Render(ctx context.Context, in RenderInput) ([]byte, error)
}

// Artifact is an issued certificate document.
type Artifact struct {
	CandidateID string    `json:"candidate_id"`
	CertType    string    `json:"cert_type"`
	Name        string    `json:"name"`
	BlobKey     string    `json:"blob_key"`
	Average20   float64   `json:"average20"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Eligibility summarizes a candidate's standing in one certification.
// Average20 is nil while a required module has no graded submission.
type Eligibility struct {
	CandidateID string   `json:"candidate_id"`
	CertType    string   `json:"cert_type"`
	Required    []string `json:"required_modules"`
	Missing     []string `json:"missing_modules"`
	Average20   *float64 `json:"average20"`
	Eligible    bool     `json:"eligible"`
}

// Outcome is the result of GenerateOrGet. Artifact is nil when not eligible.
type Outcome struct {
	Eligible  bool      `json:"eligible"`
	Created   bool      `json:"created"`
	Average20 *float64  `json:"average20"`
	Artifact  *Artifact `json:"artifact,omitempty"`
}

// DeliveryMarker records that a certificate was handed to the candidate.
type DeliveryMarker struct {
	CandidateID string    `json:"candidate_id"`
	CertType    string    `json:"cert_type"`
	ArtifactRef string    `json:"artifact_ref"`
	DisplayName string    `json:"display_name"`
	SentAt      time.Time `json:"sent_at"`
}

func artifactName(candidateID, certType string, at time.Time) string {
	return candidateID + "-" + certType + "-" + at.Format("20060102150405")
}

// pairPath is certType/candidateID with each segment escaped, so distinct
// pairs never map to the same path.
func pairPath(candidateID, certType string) string {
	return url.PathEscape(certType) + "/" + url.PathEscape(candidateID)
}

func artifactKey(candidateID, certType, name string) string {
	return "certificates/" + pairPath(candidateID, certType) + "/" + url.PathEscape(name) + ".pdf"
}

func markerKey(candidateID, certType string) string {
	return "deliveries/" + pairPath(candidateID, certType) + ".json"
}

func lockKey(candidateID, certType string) string {
	return "certificate/" + pairPath(candidateID, certType)
}
