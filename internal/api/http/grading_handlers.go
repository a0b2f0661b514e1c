package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cert/internal/auth"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/grading"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
	"github.com/mind-engage/mindengage-cert/internal/review"
)

// GET /submissions?status=&examiner_id=&cert_type=&candidate_id=&limit=&offset=
func ListSubmissionsHandler(c *review.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		subs, err := c.List(r.Context(), exam.Filter{
			Status:      exam.Status(q.Get("status")),
			ExaminerID:  q.Get("examiner_id"),
			CertType:    q.Get("cert_type"),
			CandidateID: q.Get("candidate_id"),
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

// GET /submissions/stats
func SubmissionStatsHandler(c *review.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := c.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// GET /submissions/{submissionID}
// Candidates see only their own submissions.
func GetSubmissionHandler(m *exam.Manager, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := m.Get(r.Context(), strings.TrimSpace(chi.URLParam(r, "submissionID")))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := r.Context()
		if !checker.ActsFor(rbac.RoleFromContext(ctx), auth.SubjectFromContext(ctx), sub.CandidateID, rbac.PermSubmissionView) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type assignReq struct {
	ExaminerID string `json:"examiner_id" validate:"required"`
}

// POST /submissions/{submissionID}/assign
func AssignExaminerHandler(c *review.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assignReq
		if !decode(w, r, &req) {
			return
		}
		sub, err := c.Assign(r.Context(), chi.URLParam(r, "submissionID"), req.ExaminerID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type gradeReq struct {
	Grades []grading.Award `json:"grades" validate:"dive"`
	Notes  string          `json:"examiner_notes"`
}

// POST /submissions/{submissionID}/grade
// Only the assigned examiner or a holder of submission:assign may grade.
func GradeSubmissionHandler(c *review.Coordinator, m *exam.Manager, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "submissionID")
		var req gradeReq
		if !decode(w, r, &req) {
			return
		}
		sub, err := m.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := r.Context()
		if !checker.ActsFor(rbac.RoleFromContext(ctx), auth.SubjectFromContext(ctx), sub.ExaminerID, rbac.PermSubmissionAssign) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		sub, err = c.Grade(r.Context(), id, req.Grades, req.Notes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}
