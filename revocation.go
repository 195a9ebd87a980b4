package authx

import (
	"context"
	"errors"
)

// IsRevoked reports whether the token was invalidated by a server-side global
// sign-out. It performs exactly one uncached lookup against the user backend
// per call, so a revocation is observed on the very next check. A deleted
// account surfaces as ErrCodeUserNotFound, never as "not revoked".
func (c *Client) IsRevoked(ctx context.Context, token any) (bool, error) {
	tok, err := normalizeToken(token)
	if err != nil {
		return false, err
	}
	uid := tok.Subject()
	if uid == "" {
		return false, newError(ErrCodeInvalidArgument, errors.New("token has no sub claim"))
	}
	if c.users == nil {
		return false, newError(ErrCodeAuthService, errors.New("no user lookup configured"))
	}

	rec, err := c.users.User(ctx, uid)
	if err != nil {
		return false, err
	}
	if rec.TokensValidAfter.IsZero() {
		return false, nil
	}
	// A token without auth_time compares as the zero time and is treated as
	// revoked once a cutoff exists.
	return tok.AuthTime().Before(rec.TokensValidAfter), nil
}
