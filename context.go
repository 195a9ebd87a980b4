package authx

import "context"

type verifiedTokenKey struct{}

// VerifiedToken is the per-request verification result stored in the context
// for downstream consumers.
type VerifiedToken struct {
	Token     *Token
	DevBypass bool
}

// BindVerifiedToken stores a verification result inside the context.
func BindVerifiedToken(ctx context.Context, vt VerifiedToken) context.Context {
	return context.WithValue(ctx, verifiedTokenKey{}, vt)
}

// VerifiedTokenFromContext retrieves a verification result previously stored
// in the context.
func VerifiedTokenFromContext(ctx context.Context) (VerifiedToken, bool) {
	if ctx == nil {
		return VerifiedToken{}, false
	}
	value := ctx.Value(verifiedTokenKey{})
	if value == nil {
		return VerifiedToken{}, false
	}
	vt, ok := value.(VerifiedToken)
	return vt, ok
}
