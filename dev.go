package authx

import "time"

// DevBypassToken holds attributes used when issuing a synthetic verified
// token in dev mode.
type DevBypassToken struct {
	Subject  string
	Issuer   string
	Audience string
	Claims   map[string]any
}

// ToVerifiedToken converts the dev bypass configuration into a verification
// result that can be bound to a request context.
func (d DevBypassToken) ToVerifiedToken(now time.Time) VerifiedToken {
	claims := make(map[string]any, len(d.Claims))
	for k, v := range d.Claims {
		claims[k] = v
	}
	tok := &Token{
		subject:  d.Subject,
		issuer:   d.Issuer,
		audience: []string{d.Audience},
		issuedAt: now,
		expires:  now.Add(time.Hour),
		claims:   claims,
	}
	return VerifiedToken{
		Token:     tok,
		DevBypass: true,
	}
}

// DefaultDevBypassToken returns baseline attributes suitable for local
// development against a single tenant.
func DefaultDevBypassToken(tenantID string) DevBypassToken {
	aud := tenantID
	if aud == "" {
		aud = "dev-tenant"
	}
	return DevBypassToken{
		Subject:  "dev-bypass",
		Issuer:   "authx.dev",
		Audience: aud,
	}
}
