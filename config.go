package authx

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultClockSkew       = 30 * time.Second
	defaultMinRefresh      = 5 * time.Minute
	defaultRefreshCooldown = 30 * time.Second
	defaultHTTPTimeout     = 5 * time.Second
	defaultCustomTokenTTL  = time.Hour
	maxSubjectLength       = 128
)

// Session lifetimes accepted by MintSessionToken, inclusive on both ends.
const (
	MinSessionLifetime = 5 * time.Minute
	MaxSessionLifetime = 14 * 24 * time.Hour
)

// reservedClaims are claim names the custom token minter owns; caller-supplied
// claims must not collide with them.
var reservedClaims = map[string]struct{}{
	"iss": {},
	"aud": {},
	"sub": {},
	"iat": {},
	"exp": {},
}

// Config describes a tenant of the auth service and how its tokens are
// verified and minted.
type Config struct {
	// TenantID identifies the tenant; it doubles as the expected audience of
	// ID tokens and session tokens.
	TenantID string
	// IssuerBaseURL is the base URL tokens are issued under. The effective
	// ID-token issuer is {base}/t/{tenant}; session tokens use
	// {base}/session/t/{tenant}.
	IssuerBaseURL string
	// JWKSURL is where public verification keys are fetched from. Optional
	// when a KeySource is supplied explicitly.
	JWKSURL string
	// BackendBaseURL is the user-management backend consulted for revocation
	// state and session token exchange. Optional for verify-only use.
	BackendBaseURL string
	// SigningKey is the private key used by the custom token minter. Optional
	// for verify-only use.
	SigningKey *SigningKey
	// ServiceAccount is the identity custom tokens are issued as. Defaults to
	// token-minter@{tenant}.
	ServiceAccount string
	// Algorithms restricts accepted signature algorithms. Defaults to RS256.
	Algorithms []string

	ClockSkew      time.Duration
	MinKeyRefresh  time.Duration
	HTTPTimeout    time.Duration
	CustomTokenTTL time.Duration

	// UseLegacyVerifier selects the backward-compatible verification strategy.
	// Its advisory is queryable via Client.VerifierInfo.
	UseLegacyVerifier bool
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	c.TenantID = strings.TrimSpace(c.TenantID)
	c.IssuerBaseURL = strings.TrimRight(strings.TrimSpace(c.IssuerBaseURL), "/")
	c.BackendBaseURL = strings.TrimRight(strings.TrimSpace(c.BackendBaseURL), "/")
	if c.ServiceAccount == "" {
		c.ServiceAccount = "token-minter@" + c.TenantID
	}
	if len(c.Algorithms) == 0 {
		c.Algorithms = []string{"RS256"}
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinKeyRefresh <= 0 {
		c.MinKeyRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.CustomTokenTTL <= 0 {
		c.CustomTokenTTL = defaultCustomTokenTTL
	}
}

// validate ensures the configuration is usable.
func (c Config) validate() error {
	switch {
	case c.TenantID == "":
		return errors.New("tenant id is required")
	case c.IssuerBaseURL == "":
		return errors.New("issuer base URL is required")
	case c.ClockSkew > 2*time.Minute:
		return fmt.Errorf("clock skew %s exceeds the 2m ceiling", c.ClockSkew)
	}
	return nil
}

// idTokenIssuer returns the issuer expected on ID tokens for this tenant.
func (c Config) idTokenIssuer() string {
	return fmt.Sprintf("%s/t/%s", c.IssuerBaseURL, c.TenantID)
}

// sessionIssuer returns the issuer expected on session tokens for this tenant.
func (c Config) sessionIssuer() string {
	return fmt.Sprintf("%s/session/t/%s", c.IssuerBaseURL, c.TenantID)
}

// customTokenAudience is the fixed audience of minted custom tokens: the
// token exchange endpoint, never a tenant audience, so a custom token can
// never pass ID-token verification.
func (c Config) customTokenAudience() string {
	return c.IssuerBaseURL + "/v1/token:exchange"
}

func (c Config) idTokenPolicy() ValidityPolicy {
	return ValidityPolicy{
		Issuer:   c.idTokenIssuer(),
		Audience: c.TenantID,
		Skew:     c.ClockSkew,
	}
}

func (c Config) sessionPolicy(leeway time.Duration) ValidityPolicy {
	skew := c.ClockSkew
	if leeway >= 0 {
		skew = leeway
	}
	return ValidityPolicy{
		Issuer:   c.sessionIssuer(),
		Audience: c.TenantID,
		Skew:     skew,
	}
}
