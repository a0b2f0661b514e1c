package rbac

import (
	"context"
	"strings"
)

// Checker evaluates a role's permissions. Grants ending in "*" match any
// permission with that prefix.
type Checker struct {
	RolePermissions map[string][]string
}

// NewChecker uses RolePermissions when rp is nil.
func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(role, perm string) bool {
	for _, grant := range c.RolePermissions[role] {
		if grant == perm || (strings.HasSuffix(grant, "*") && strings.HasPrefix(perm, strings.TrimSuffix(grant, "*"))) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

// ActsFor reports whether subject may touch a record owned by owner: either
// it is their own or their role holds perm.
func (c *Checker) ActsFor(role, subject, owner, perm string) bool {
	if subject != "" && subject == owner {
		return true
	}
	return c.Has(role, perm)
}

type roleKey struct{}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	s, _ := ctx.Value(roleKey{}).(string)
	return s
}
