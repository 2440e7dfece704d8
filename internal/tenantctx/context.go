package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Scope is the effective tenant scope resolved for a caller. A
// privileged scope operates without tenant filtering; every other
// scope is strictly bound to its tenant.
type Scope struct {
	TenantID   snowflake.ID
	Privileged bool
}

// ScopeContextKey is the request context key for the active scope.
type ScopeContextKey struct{}

// WithScope stores the tenant scope in the context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, ScopeContextKey{}, scope)
}

// FromContext returns the tenant scope from context, if set.
func FromContext(ctx context.Context) (Scope, bool) {
	if ctx == nil {
		return Scope{}, false
	}
	value := ctx.Value(ScopeContextKey{})
	if value == nil {
		return Scope{}, false
	}
	scope, ok := value.(Scope)
	if !ok {
		return Scope{}, false
	}
	if !scope.Privileged && scope.TenantID == 0 {
		return Scope{}, false
	}
	return scope, true
}

// ParseTenantID parses a tenant identifier from its string form.
func ParseTenantID(raw string) (snowflake.ID, bool) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// CanAccess reports whether the scope may touch a session owned by tenantID.
func (s Scope) CanAccess(tenantID snowflake.ID) bool {
	if s.Privileged {
		return true
	}
	return s.TenantID == tenantID
}
