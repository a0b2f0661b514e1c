package exam

import (
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/grading"
)

type QuestionKind string

const (
	KindMultipleChoice QuestionKind = grading.KindMultipleChoice
	KindFreeText       QuestionKind = grading.KindFreeText
)

func (k QuestionKind) Valid() bool { return k == KindMultipleChoice || k == KindFreeText }

type Question struct {
	ID            string       `json:"id"`
	CertType      string       `json:"cert_type"`
	ModuleID      string       `json:"module_id"`
	Kind          QuestionKind `json:"kind"`
	Prompt        string       `json:"prompt"`
	Points        float64      `json:"points"`
	TimeLimitSec  int          `json:"time_limit_sec"`
	CorrectOption string       `json:"correct_option,omitempty"`
	Published     bool         `json:"published"`
	PublishedAt   time.Time    `json:"published_at"`
	CreatedAt     time.Time    `json:"created_at"`
}

// ForCandidate hides the answer key.
func (q Question) ForCandidate() Question {
	q.CorrectOption = ""
	return q
}

type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusGraded      Status = "graded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusGraded:
		return true
	}
	return false
}

// Transition rejects every move except one step forward.
func Transition(from, to Status) error {
	ok := (from == StatusDraft && to == StatusSubmitted) ||
		(from == StatusSubmitted && to == StatusUnderReview) ||
		(from == StatusUnderReview && to == StatusGraded)
	if !ok {
		return fmt.Errorf("illegal submission transition %s -> %s", from, to)
	}
	return nil
}

type QuestionGrade struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback,omitempty"`
}

type Submission struct {
	ID               string                   `json:"id"`
	ExamID           string                   `json:"exam_id"`
	CertType         string                   `json:"cert_type"`
	ModuleID         string                   `json:"module_id"`
	CandidateID      string                   `json:"candidate_id"`
	Status           Status                   `json:"status"`
	Answers          map[string]interface{}   `json:"answers"`
	Grades           map[string]QuestionGrade `json:"grades,omitempty"`
	ExaminerID       string                   `json:"examiner_id,omitempty"`
	ExaminerNotes    string                   `json:"examiner_notes,omitempty"`
	ProvisionalScore float64                  `json:"provisional_score"`
	FinalScore       *float64                 `json:"final_score"`
	TotalScore       float64                  `json:"total_score"`
	StartedAt        time.Time                `json:"started_at"`
	SubmittedAt      time.Time                `json:"submitted_at"`
	GradedAt         time.Time                `json:"graded_at"`
}

// Result is what a candidate gets back from Submit.
type Result struct {
	Score      float64    `json:"score"`
	MaxScore   float64    `json:"max_score"`
	Percentage float64    `json:"percentage"`
	Submission Submission `json:"submission"`
}

// Filter narrows submission listings. Zero fields match everything.
type Filter struct {
	Status      Status
	ExaminerID  string
	CertType    string
	CandidateID string
	Limit       int
	Offset      int
}

// Pair identifies a candidate's track in one certification.
type Pair struct {
	CandidateID string `json:"candidate_id"`
	CertType    string `json:"cert_type"`
}

// ExamID is the exam identifier of a module within a certification.
func ExamID(certType, moduleID string) string { return certType + ":" + moduleID }

// ParseExamID splits an exam id produced by ExamID.
func ParseExamID(examID string) (certType, moduleID string, ok bool) {
	certType, moduleID, ok = strings.Cut(examID, ":")
	if !ok || certType == "" || moduleID == "" {
		return "", "", false
	}
	return certType, moduleID, true
}
