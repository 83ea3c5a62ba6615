package auth

import "context"

// Principal is the typed authenticated-request value produced by the session
// gate. Handlers receive it through the context; nothing is inferred from
// untyped request attributes.
type Principal struct {
	User    *User
	Session *Session
	// LocalClient records whether the request arrived from the local network,
	// resolved once at the gate so localOnly rules can be evaluated anywhere.
	LocalClient bool
}

// Admin reports whether the principal acts with the administrative role.
func (p Principal) Admin() bool {
	return p.Session != nil && p.Session.Role == RoleAdmin
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}
