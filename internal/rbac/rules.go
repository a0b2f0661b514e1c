package rbac

// Roles known to the identity directory.
const (
	RoleCandidate = "candidate"
	RoleExaminer  = "examiner"
	RoleAdmin     = "admin"
)

// Permissions checked by the services and the HTTP layer.
const (
	PermExamTake          = "exam:take"
	PermProgressOwn       = "progress:own"
	PermProgressManage    = "progress:manage"
	PermSubmissionView    = "submission:view"
	PermSubmissionGrade   = "submission:grade"
	PermSubmissionAssign  = "submission:assign"
	PermQuestionManage    = "question:manage"
	PermCertificateOwn    = "certificate:own"
	PermCertificateManage = "certificate:manage"
	PermUserManage        = "users:manage"
)

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	RoleCandidate: {
		PermExamTake,
		PermProgressOwn,
		PermCertificateOwn,
	},
	RoleExaminer: {
		PermSubmissionView,
		PermSubmissionGrade,
		PermProgressOwn,
	},
	RoleAdmin: {
		"*", // everything
	},
}

// KnownRole reports whether role appears in the default policy.
func KnownRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
