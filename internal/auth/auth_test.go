package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/directory"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, sub, role string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func echo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(SubjectFromContext(r.Context()) + "|" + rbac.RoleFromContext(r.Context())))
	})
}

func do(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	h := Middleware(NewVerifier(secret))(echo())
	future := time.Now().Add(time.Hour)

	rec := do(h, sign(t, jwt.SigningMethodHS256, []byte(secret), "c1", rbac.RoleCandidate, future))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1|candidate", rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "garbage").Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, sign(t, jwt.SigningMethodHS256, []byte("other"), "c1", "candidate", future)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, sign(t, jwt.SigningMethodHS256, []byte(secret), "c1", "candidate", time.Now().Add(-time.Hour))).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, sign(t, jwt.SigningMethodHS384, []byte(secret), "c1", "candidate", future)).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, sign(t, jwt.SigningMethodHS256, []byte(secret), "", "candidate", future)).Code)
}

type staticDir map[string]directory.Person

func (d staticDir) Lookup(_ context.Context, id string) (directory.Person, error) {
	p, ok := d[id]
	if !ok {
		return directory.Person{}, apperr.NotFound("test", id)
	}
	return p, nil
}

func TestAttachRoleFromDirectory(t *testing.T) {
	dir := staticDir{"e1": {ID: "e1", Role: rbac.RoleExaminer}}
	future := time.Now().Add(time.Hour)

	strict := Middleware(NewVerifier(secret))(AttachRoleFromDirectory(dir, false)(echo()))
	rec := do(strict, sign(t, jwt.SigningMethodHS256, []byte(secret), "e1", rbac.RoleAdmin, future))
	assert.Equal(t, "e1|examiner", rec.Body.String(), "directory role wins over the claim")

	rec = do(strict, sign(t, jwt.SigningMethodHS256, []byte(secret), "ghost", rbac.RoleCandidate, future))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	lenient := Middleware(NewVerifier(secret))(AttachRoleFromDirectory(dir, true)(echo()))
	rec = do(lenient, sign(t, jwt.SigningMethodHS256, []byte(secret), "ghost", rbac.RoleCandidate, future))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ghost|candidate", rec.Body.String())
}
