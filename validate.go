package authx

import (
	"fmt"
	"time"
)

// ValidityPolicy carries the parameters a claim set is validated against.
// Immutable per verification call.
type ValidityPolicy struct {
	Issuer   string
	Audience string
	Skew     time.Duration
}

// validateClaims checks the temporal and identity claims of a parsed token.
// Checks run in fixed precedence so that an issued-in-the-future failure is
// never masked by a later structural failure; callers branch on that case.
func validateClaims(tok *Token, policy ValidityPolicy, now time.Time) error {
	exp := tok.ExpiresAt()
	if exp.IsZero() {
		return newError(ErrCodeExpired, fmt.Errorf("exp claim missing"))
	}
	if now.After(exp.Add(policy.Skew)) {
		return newError(ErrCodeExpired, fmt.Errorf("expired at %s", exp.Format(time.RFC3339)))
	}

	iat := tok.IssuedAt()
	if iat.IsZero() {
		return newError(ErrCodeIssuedInFuture, fmt.Errorf("iat claim missing"))
	}
	if iat.After(now.Add(policy.Skew)) {
		return newError(ErrCodeIssuedInFuture, fmt.Errorf("issued at %s", iat.Format(time.RFC3339)))
	}

	if tok.Issuer() != policy.Issuer {
		return newError(ErrCodeInvalidIssuer, fmt.Errorf("iss %q, want %q", tok.Issuer(), policy.Issuer))
	}
	if !tok.hasAudience(policy.Audience) {
		return newError(ErrCodeInvalidAudience, fmt.Errorf("aud %v, want %q", tok.Audience(), policy.Audience))
	}
	if tok.Subject() == "" {
		return newError(ErrCodeInvalidSubject, fmt.Errorf("sub claim empty"))
	}
	return nil
}
