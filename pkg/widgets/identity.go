package widgets

import "context"

type userKey struct{}

// WithUserID stores the user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFromContext returns the user id stored by WithUserID. Empty if missing.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userKey{}).(string)
	return v
}

// ContextIdentity resolves the user from values stored with WithUserID.
var ContextIdentity IdentityAccessor = IdentityFunc(func(ctx context.Context) (string, error) {
	if id := UserIDFromContext(ctx); id != "" {
		return id, nil
	}
	return "", ErrNoIdentity
})
