package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-cert/internal/auth"
	"github.com/mind-engage/mindengage-cert/internal/exam"
)

// GET /exams/{examID}/questions
func ExamQuestionsHandler(m *exam.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs, err := m.Questions(r.Context(), chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, qs)
	}
}

// POST /exams/{examID}/draft
func DraftHandler(m *exam.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := m.GetOrCreateDraft(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "examID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

type answersReq struct {
	Answers map[string]interface{} `json:"answers"`
}

// PUT /exams/{examID}/answers
func SaveAnswersHandler(m *exam.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req answersReq
		if !decode(w, r, &req) {
			return
		}
		sub, err := m.SaveAnswers(r.Context(), auth.SubjectFromContext(r.Context()), chi.URLParam(r, "examID"), req.Answers)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

// POST /exams/{examID}/submit
func SubmitExamHandler(m *exam.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		examID := strings.TrimSpace(chi.URLParam(r, "examID"))
		var req answersReq
		if !decode(w, r, &req) {
			return
		}
		certType, moduleID, _ := exam.ParseExamID(examID)
		res, err := m.Submit(r.Context(), auth.SubjectFromContext(r.Context()), examID, req.Answers, certType, moduleID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type putQuestionReq struct {
	ID            string  `json:"id"`
	CertType      string  `json:"cert_type" validate:"required"`
	ModuleID      string  `json:"module_id" validate:"required"`
	Kind          string  `json:"kind" validate:"required,oneof=multiple_choice free_text"`
	Prompt        string  `json:"prompt"`
	Points        float64 `json:"points" validate:"gt=0"`
	TimeLimitSec  int     `json:"time_limit_sec" validate:"gte=0"`
	CorrectOption string  `json:"correct_option" validate:"required_if=Kind multiple_choice"`
}

// PUT /questions
func PutQuestionHandler(c *exam.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req putQuestionReq
		if !decode(w, r, &req) {
			return
		}
		q, err := c.Put(r.Context(), exam.Question{
			ID:            req.ID,
			CertType:      req.CertType,
			ModuleID:      req.ModuleID,
			Kind:          exam.QuestionKind(req.Kind),
			Prompt:        req.Prompt,
			Points:        req.Points,
			TimeLimitSec:  req.TimeLimitSec,
			CorrectOption: req.CorrectOption,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// POST /questions/{questionID}/publish?published=false
func PublishQuestionHandler(c *exam.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		published := r.URL.Query().Get("published") != "false"
		q, err := c.Publish(r.Context(), chi.URLParam(r, "questionID"), published)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// GET /questions?cert_type=&module_id=&published=true
func ListQuestionsHandler(c *exam.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		qs, err := c.List(r.Context(), q.Get("cert_type"), q.Get("module_id"), q.Get("published") == "true")
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, qs)
	}
}
