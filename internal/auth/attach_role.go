package auth

import (
	"net/http"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
)

// AttachRoleFromDirectory replaces the token's role with the directory's.
// Unknown subjects keep the token role only when allowClaimFallback is set.
func AttachRoleFromDirectory(dir directory.Directory, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, err := dir.Lookup(ctx, SubjectFromContext(ctx))
			switch {
			case err == nil && p.Role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, p.Role)))
			case apperr.IsNotFound(err) && allowClaimFallback && rbac.RoleFromContext(ctx) != "":
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
