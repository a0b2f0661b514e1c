package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/mindengage-cert/internal/auth"
	"github.com/mind-engage/mindengage-cert/internal/certificate"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/exam"
	"github.com/mind-engage/mindengage-cert/internal/progress"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
	"github.com/mind-engage/mindengage-cert/internal/review"
	"github.com/mind-engage/mindengage-cert/internal/storage"
)

// Deps are the services the HTTP API fronts.
type Deps struct {
	Tracker      *progress.Tracker
	Exams        *exam.Manager
	Catalog      *exam.Catalog
	Review       *review.Coordinator
	Certificates *certificate.Engine
	People       *directory.SQLDirectory
	Blobs        storage.BlobStore
	Verifier     *auth.Verifier
	Checker      *rbac.Checker

	CORSOrigins []string
	// AllowClaimRole trusts the token's role for subjects missing from the directory.
	AllowClaimRole bool
	// AccessLog enables chi's request logger.
	AccessLog bool
}

func NewRouter(d Deps) http.Handler {
	if d.Checker == nil {
		d.Checker = rbac.NewChecker(nil)
	}
	ck := d.Checker

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if d.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Protected API (JWT → directory role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware(d.Verifier))
		pr.Use(auth.AttachRoleFromDirectory(d.People, d.AllowClaimRole))

		// Candidate exam flow
		pr.With(ck.Require(rbac.PermExamTake)).Get("/exams/{examID}/questions", ExamQuestionsHandler(d.Exams))
		pr.With(ck.Require(rbac.PermExamTake)).Post("/exams/{examID}/draft", DraftHandler(d.Exams))
		pr.With(ck.Require(rbac.PermExamTake)).Put("/exams/{examID}/answers", SaveAnswersHandler(d.Exams))
		pr.With(ck.Require(rbac.PermExamTake)).Post("/exams/{examID}/submit", SubmitExamHandler(d.Exams))

		// Progress
		pr.With(ck.RequireAny(rbac.PermProgressOwn, rbac.PermProgressManage)).
			Get("/progress/{certType}", ListProgressHandler(d.Tracker, ck))
		pr.With(ck.Require(rbac.PermExamTake)).Post("/progress/{certType}/{moduleID}/unlock", UnlockHandler(d.Tracker))
		pr.With(ck.Require(rbac.PermExamTake)).Post("/progress/{certType}/{moduleID}/start", StartHandler(d.Tracker))
		pr.With(ck.Require(rbac.PermProgressManage)).
			Post("/progress/{certType}/{moduleID}/complete", CompleteHandler(d.Tracker))

		// Question bank
		pr.With(ck.Require(rbac.PermQuestionManage)).Get("/questions", ListQuestionsHandler(d.Catalog))
		pr.With(ck.Require(rbac.PermQuestionManage)).Put("/questions", PutQuestionHandler(d.Catalog))
		pr.With(ck.Require(rbac.PermQuestionManage)).
			Post("/questions/{questionID}/publish", PublishQuestionHandler(d.Catalog))

		// Examiner workflow
		pr.With(ck.Require(rbac.PermSubmissionView)).Get("/submissions", ListSubmissionsHandler(d.Review))
		pr.With(ck.Require(rbac.PermSubmissionView)).Get("/submissions/stats", SubmissionStatsHandler(d.Review))
		pr.Get("/submissions/{submissionID}", GetSubmissionHandler(d.Exams, ck))
		pr.With(ck.Require(rbac.PermSubmissionAssign)).
			Post("/submissions/{submissionID}/assign", AssignExaminerHandler(d.Review))
		pr.With(ck.Require(rbac.PermSubmissionGrade)).
			Post("/submissions/{submissionID}/grade", GradeSubmissionHandler(d.Review, d.Exams, ck))

		// Certificates
		pr.With(ck.RequireAny(rbac.PermCertificateOwn, rbac.PermCertificateManage)).
			Get("/certificates/{certType}/eligibility", EligibilityHandler(d.Certificates, ck))
		pr.With(ck.RequireAny(rbac.PermCertificateOwn, rbac.PermCertificateManage)).
			Post("/certificates/{certType}/generate", GenerateCertificateHandler(d.Certificates, ck))
		pr.With(ck.RequireAny(rbac.PermCertificateOwn, rbac.PermCertificateManage)).
			Get("/certificates/{certType}/document", CertificateDocumentHandler(d.Certificates, d.Blobs, ck))
		pr.With(ck.Require(rbac.PermCertificateManage)).
			Post("/certificates/rebuild", RebuildCertificatesHandler(d.Certificates))
		pr.With(ck.Require(rbac.PermCertificateManage)).
			Post("/certificates/{certType}/{candidateID}/sent", MarkSentHandler(d.Certificates))

		// Users
		pr.With(ck.Require(rbac.PermUserManage)).Post("/users/bulk", BulkUpsertUsersHandler(d.People))
		pr.With(ck.Require(rbac.PermUserManage)).Get("/users", ListUsersHandler(d.People))
	})
	return r
}
