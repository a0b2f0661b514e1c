package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cert/internal/auth"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
)

// actingFor resolves whose records a request targets. Callers may name
// another candidate with ?candidate_id= only when they hold perm.
func actingFor(w http.ResponseWriter, r *http.Request, checker *rbac.Checker, perm string) (string, bool) {
	self := auth.SubjectFromContext(r.Context())
	target := r.URL.Query().Get("candidate_id")
	if target == "" {
		target = self
	}
	if !checker.ActsFor(rbac.RoleFromContext(r.Context()), self, target, perm) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return target, true
}

// GET /progress/{certType}
func ListProgressHandler(t *progress.Tracker, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cand, ok := actingFor(w, r, checker, rbac.PermProgressManage)
		if !ok {
			return
		}
		certType := chi.URLParam(r, "certType")
		recs, err := t.List(r.Context(), cand, certType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ws, err := t.Window(r.Context(), cand, certType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"modules": recs, "window": ws})
	}
}

// POST /progress/{certType}/{moduleID}/unlock
func UnlockHandler(t *progress.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := t.Unlock(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "certType"), chi.URLParam(r, "moduleID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

// POST /progress/{certType}/{moduleID}/start
func StartHandler(t *progress.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := t.Start(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "certType"), chi.URLParam(r, "moduleID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type completeReq struct {
	CandidateID  string  `json:"candidate_id" validate:"required"`
	Score        float64 `json:"score" validate:"gte=0"`
	MaxScore     float64 `json:"max_score" validate:"gte=0,gtefield=Score"`
	SubmissionID string  `json:"submission_id"`
}

// POST /progress/{certType}/{moduleID}/complete (administrative)
func CompleteHandler(t *progress.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeReq
		if !decode(w, r, &req) {
			return
		}
		rec, err := t.Complete(r.Context(), req.CandidateID, chi.URLParam(r, "certType"), chi.URLParam(r, "moduleID"),
			req.Score, req.MaxScore, req.SubmissionID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
