package factorgate

import "context"

type tenantIDContextKey struct{}
type userContextKey struct{}

// WithTenantID attaches a tenant identifier to ctx. Engine methods that take
// an explicit tenantID parameter ignore it; audit events and linking policy
// calls fall back to it when no explicit tenant is in scope. When absent,
// the default tenant "public" is used.
//
//	Docs: docs/tenants.md
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserContext attaches an opaque caller-defined value to ctx. It is
// passed through untouched to the linking policy and the MFA requirements
// override, mirroring how per-request userContext objects flow through
// recipe override hooks.
func WithUserContext(ctx context.Context, value map[string]any) context.Context {
	return context.WithValue(ctx, userContextKey{}, value)
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return PublicTenantID
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	if tenantID == "" {
		return PublicTenantID
	}

	return tenantID
}

// UserContextFromContext returns the value attached by [WithUserContext],
// or nil.
func UserContextFromContext(ctx context.Context) map[string]any {
	if ctx == nil {
		return nil
	}

	value, _ := ctx.Value(userContextKey{}).(map[string]any)
	return value
}
