package authx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// validateSessionLifetime applies the [MinSessionLifetime, MaxSessionLifetime]
// bounds before any network call is made. Zero selects the minimum.
func validateSessionLifetime(lifetime time.Duration) (time.Duration, error) {
	if lifetime == 0 {
		return MinSessionLifetime, nil
	}
	if lifetime < MinSessionLifetime || lifetime > MaxSessionLifetime {
		return 0, newError(ErrCodeInvalidArgument,
			fmt.Errorf("session lifetime %s outside [%s, %s]", lifetime, MinSessionLifetime, MaxSessionLifetime))
	}
	return lifetime, nil
}

// MintSessionToken exchanges a verified ID token for a longer-lived session
// token via the backend. The returned token carries the backend's cookie
// string byte-for-byte; it is not re-verified here.
func (c *Client) MintSessionToken(ctx context.Context, idToken any, lifetime time.Duration) (*Token, error) {
	tok, err := normalizeToken(idToken)
	if err != nil {
		return nil, err
	}
	lifetime, err = validateSessionLifetime(lifetime)
	if err != nil {
		return nil, err
	}
	if c.backend == nil {
		return nil, newError(ErrCodeAuthService, errors.New("no backend configured"))
	}

	cookie, err := c.backend.Exchange(ctx, tok.Raw(), lifetime)
	if err != nil {
		return nil, err
	}
	session, err := ParseToken(cookie)
	if err != nil {
		return nil, newError(ErrCodeTokenParse, fmt.Errorf("backend returned unparsable session cookie: %w", err))
	}
	// preserve the backend string exactly as received
	session.raw = cookie
	return session, nil
}
