package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/certificate"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
	"github.com/mind-engage/mindengage-cert/internal/storage"
)

// GET /certificates/{certType}/eligibility
func EligibilityHandler(e *certificate.Engine, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cand, ok := actingFor(w, r, checker, rbac.PermCertificateManage)
		if !ok {
			return
		}
		el, err := e.Eligibility(r.Context(), cand, chi.URLParam(r, "certType"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, el)
	}
}

// POST /certificates/{certType}/generate
func GenerateCertificateHandler(e *certificate.Engine, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cand, ok := actingFor(w, r, checker, rbac.PermCertificateManage)
		if !ok {
			return
		}
		out, err := e.GenerateOrGet(r.Context(), cand, chi.URLParam(r, "certType"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if out.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, out)
	}
}

// GET /certificates/{certType}/document streams the issued certificate.
func CertificateDocumentHandler(e *certificate.Engine, bs storage.BlobStore, checker *rbac.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cand, ok := actingFor(w, r, checker, rbac.PermCertificateManage)
		if !ok {
			return
		}
		a, found, err := e.Artifact(r.Context(), cand, chi.URLParam(r, "certType"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !found {
			writeError(w, r, apperr.NotFound("certificate.Document", "no certificate issued"))
			return
		}
		rc, err := bs.Get(r.Context(), a.BlobKey)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, apperr.NotFound("certificate.Document", "certificate document missing"))
			return
		}
		if err != nil {
			writeError(w, r, apperr.Transient("certificate.Document", "read certificate", err))
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+a.Name+`.pdf"`)
		_, _ = io.Copy(w, rc)
	}
}

type rebuildReq struct {
	CertType string `json:"cert_type"`
}

type rebuildResp struct {
	Created []certificate.Artifact `json:"created"`
	Errors  string                 `json:"errors,omitempty"`
}

// POST /certificates/rebuild
// Partial failures still answer 200 with the issued artifacts and the errors.
func RebuildCertificatesHandler(e *certificate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rebuildReq
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		created, err := e.RebuildAll(r.Context(), req.CertType)
		if err != nil && apperr.IsValidation(err) {
			writeError(w, r, err)
			return
		}
		resp := rebuildResp{Created: created}
		if err != nil {
			resp.Errors = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type markSentReq struct {
	DisplayName string `json:"display_name" validate:"max=200"`
}

// POST /certificates/{certType}/{candidateID}/sent
func MarkSentHandler(e *certificate.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req markSentReq
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		m, err := e.MarkSent(r.Context(), chi.URLParam(r, "candidateID"), chi.URLParam(r, "certType"), req.DisplayName)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
