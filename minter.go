package authx

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// MintCustomToken builds and signs a short-lived token asserting uid, with
// optional custom claims merged into the claim set. Custom tokens are issued
// for the token exchange endpoint, not for a tenant audience; verifying one
// as an ID token fails. The only I/O is reading the configured signing key.
func (c *Client) MintCustomToken(ctx context.Context, uid string, claims map[string]any) (*Token, error) {
	if c.signer == nil {
		return nil, newError(ErrCodeInvalidArgument, errors.New("no signing key configured"))
	}
	if uid == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("uid is empty"))
	}
	if len(uid) > maxSubjectLength {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("uid exceeds %d bytes", maxSubjectLength))
	}
	for name := range claims {
		if _, reserved := reservedClaims[name]; reserved {
			return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("claim %q is reserved", name))
		}
	}

	now := c.clock.Now().UTC()
	builder := jwt.NewBuilder().
		Issuer(c.cfg.ServiceAccount).
		Subject(uid).
		Audience([]string{c.cfg.customTokenAudience()}).
		IssuedAt(now).
		Expiration(now.Add(c.cfg.CustomTokenTTL))
	for name, value := range claims {
		builder = builder.Claim(name, value)
	}
	built, err := builder.Build()
	if err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("build claim set: %w", err))
	}

	signed, err := jwt.Sign(built, jwt.WithKey(c.signer.alg, c.signer.key))
	if err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("sign custom token: %w", err))
	}
	return ParseToken(string(signed))
}
