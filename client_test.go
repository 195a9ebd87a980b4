package authx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestNewClient_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewClient(ctx, Config{IssuerBaseURL: testIssuerBase}); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("missing tenant: %v", err)
	}
	if _, err := NewClient(ctx, Config{TenantID: testTenant}); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("missing issuer base: %v", err)
	}
	if _, err := NewClient(ctx, Config{
		TenantID:      testTenant,
		IssuerBaseURL: testIssuerBase,
	}); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("missing key source and JWKS URL: %v", err)
	}
	if _, err := NewClient(ctx, Config{
		TenantID:      testTenant,
		IssuerBaseURL: testIssuerBase,
		JWKSURL:       "https://keys.example.com/jwks",
		ClockSkew:     5 * time.Minute,
	}); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("skew above ceiling: %v", err)
	}
}

type idTokenFixture struct {
	client *Client
	now    time.Time
	mint   func(mutate func(*jwt.Builder) *jwt.Builder) string
}

func newVerifyFixture(t *testing.T, legacy bool, opts ...Option) idTokenFixture {
	t.Helper()
	priv, set := newTestKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	opts = append([]Option{
		WithKeySource(NewStaticKeySource(set)),
		WithClock(ClockFunc(func() time.Time { return now })),
	}, opts...)

	client, err := NewClient(context.Background(), Config{
		TenantID:          testTenant,
		IssuerBaseURL:     testIssuerBase,
		UseLegacyVerifier: legacy,
	}, opts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	mint := func(mutate func(*jwt.Builder) *jwt.Builder) string {
		builder := jwt.NewBuilder().
			Issuer(testIDIssuer).
			Subject("user-1").
			Audience([]string{testTenant}).
			IssuedAt(now.Add(-time.Minute)).
			Expiration(now.Add(time.Hour))
		if mutate != nil {
			builder = mutate(builder)
		}
		return sign(t, builder, priv, testKid)
	}
	return idTokenFixture{client: client, now: now, mint: mint}
}

func TestVerifyIDToken(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		name := "keyset"
		if legacy {
			name = "legacy"
		}
		t.Run(name, func(t *testing.T) {
			fx := newVerifyFixture(t, legacy)
			ctx := context.Background()

			tok, err := fx.client.VerifyIDToken(ctx, fx.mint(nil))
			if err != nil {
				t.Fatalf("VerifyIDToken: %v", err)
			}
			if tok.Subject() != "user-1" {
				t.Fatalf("unexpected subject: %s", tok.Subject())
			}

			// an already-parsed token is accepted too
			if _, err := fx.client.VerifyIDToken(ctx, tok); err != nil {
				t.Fatalf("VerifyIDToken parsed: %v", err)
			}
		})
	}
}

// Claim failures surface as the generic invalid-token code with the specific
// cause preserved underneath for logging.
func TestVerifyIDToken_ExpiredFoldsIntoInvalidToken(t *testing.T) {
	fx := newVerifyFixture(t, false)

	expired := fx.mint(func(b *jwt.Builder) *jwt.Builder {
		return b.IssuedAt(fx.now.Add(-2 * time.Hour)).Expiration(fx.now.Add(-time.Hour))
	})

	_, err := fx.client.VerifyIDToken(context.Background(), expired)
	if code := CodeOf(err); code != ErrCodeInvalidToken {
		t.Fatalf("expected %s, got %s (%v)", ErrCodeInvalidToken, code, err)
	}
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if CodeOf(ae.Err) != ErrCodeExpired {
		t.Fatalf("expected expired cause underneath, got %v", ae.Err)
	}
}

func TestVerifyIDToken_FutureIssued(t *testing.T) {
	for _, legacy := range []bool{false, true} {
		name := "keyset"
		if legacy {
			name = "legacy"
		}
		t.Run(name, func(t *testing.T) {
			fx := newVerifyFixture(t, legacy)
			ctx := context.Background()

			future := fx.mint(func(b *jwt.Builder) *jwt.Builder {
				return b.IssuedAt(fx.now.Add(10 * time.Minute))
			})

			// surfaced distinctly so callers can branch on it
			_, err := fx.client.VerifyIDToken(ctx, future)
			if code := CodeOf(err); code != ErrCodeIssuedInFuture {
				t.Fatalf("expected %s, got %s (%v)", ErrCodeIssuedInFuture, code, err)
			}

			tok, err := fx.client.VerifyIDToken(ctx, future, AllowFutureIssued())
			if err != nil {
				t.Fatalf("VerifyIDToken with AllowFutureIssued: %v", err)
			}
			if tok.Subject() != "user-1" {
				t.Fatalf("unexpected subject: %s", tok.Subject())
			}
		})
	}
}

func TestVerifyIDToken_UnknownKeyPassesThrough(t *testing.T) {
	fx := newVerifyFixture(t, false)

	var rotated string
	{
		builder := jwt.NewBuilder().
			Issuer(testIDIssuer).
			Subject("user-1").
			Audience([]string{testTenant}).
			IssuedAt(fx.now.Add(-time.Minute)).
			Expiration(fx.now.Add(time.Hour))
		rotated = sign(t, builder, mustRSAKey(t), "rotated-away")
	}

	_, err := fx.client.VerifyIDToken(context.Background(), rotated)
	if code := CodeOf(err); code != ErrCodeUnknownKey {
		t.Fatalf("expected %s, got %s (%v)", ErrCodeUnknownKey, code, err)
	}
}

func TestVerifyIDToken_CheckRevoked(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	users := &fakeUserLookup{records: map[string]*UserRecord{
		"user-1": {UID: "user-1", TokensValidAfter: cutoff},
	}}
	fx := newVerifyFixture(t, false, WithUserLookup(users))
	ctx := context.Background()

	revokedToken := fx.mint(func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("auth_time", cutoff.Add(-time.Minute).Unix())
	})
	freshToken := fx.mint(func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("auth_time", cutoff.Add(time.Minute).Unix())
	})

	// without the option the backend is never consulted
	if _, err := fx.client.VerifyIDToken(ctx, revokedToken); err != nil {
		t.Fatalf("VerifyIDToken without revocation check: %v", err)
	}
	if got := users.calls.Load(); got != 0 {
		t.Fatalf("expected no lookups, got %d", got)
	}

	_, err := fx.client.VerifyIDToken(ctx, revokedToken, CheckRevoked())
	if code := CodeOf(err); code != ErrCodeIDTokenRevoked {
		t.Fatalf("expected %s, got %s (%v)", ErrCodeIDTokenRevoked, code, err)
	}

	if _, err := fx.client.VerifyIDToken(ctx, freshToken, CheckRevoked()); err != nil {
		t.Fatalf("VerifyIDToken fresh: %v", err)
	}
}

func TestVerifySessionToken(t *testing.T) {
	priv, set := newTestKeys(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	users := &fakeUserLookup{records: map[string]*UserRecord{
		"user-1": {UID: "user-1", TokensValidAfter: now.Add(-time.Hour)},
	}}

	client, err := NewClient(context.Background(), Config{
		TenantID:      testTenant,
		IssuerBaseURL: testIssuerBase,
	},
		WithKeySource(NewStaticKeySource(set)),
		WithClock(ClockFunc(func() time.Time { return now })),
		WithUserLookup(users),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	mint := func(mutate func(*jwt.Builder) *jwt.Builder) string {
		builder := jwt.NewBuilder().
			Issuer(testSessIssuer).
			Subject("user-1").
			Audience([]string{testTenant}).
			IssuedAt(now.Add(-time.Minute)).
			Expiration(now.Add(time.Hour))
		if mutate != nil {
			builder = mutate(builder)
		}
		return sign(t, builder, priv, testKid)
	}

	tok, err := client.VerifySessionToken(ctx, mint(nil))
	if err != nil {
		t.Fatalf("VerifySessionToken: %v", err)
	}
	if tok.Issuer() != testSessIssuer {
		t.Fatalf("unexpected issuer: %s", tok.Issuer())
	}

	// an ID token is not a session token
	idToken := mint(func(b *jwt.Builder) *jwt.Builder { return b.Issuer(testIDIssuer) })
	if _, err := client.VerifySessionToken(ctx, idToken); CodeOf(err) != ErrCodeInvalidToken {
		t.Fatalf("expected %s for ID token, got %v", ErrCodeInvalidToken, err)
	}

	// future-issued session tokens are never tolerated
	future := mint(func(b *jwt.Builder) *jwt.Builder { return b.IssuedAt(now.Add(10 * time.Minute)) })
	if _, err := client.VerifySessionToken(ctx, future, AllowFutureIssued()); err == nil {
		t.Fatal("expected future-issued session token to fail")
	}

	// caller-supplied leeway replaces the configured skew
	expired := mint(func(b *jwt.Builder) *jwt.Builder { return b.Expiration(now.Add(-2 * time.Minute)) })
	if _, err := client.VerifySessionToken(ctx, expired); err == nil {
		t.Fatal("expected expired session token to fail under default skew")
	}
	if _, err := client.VerifySessionToken(ctx, expired, WithLeeway(5*time.Minute)); err != nil {
		t.Fatalf("VerifySessionToken with leeway: %v", err)
	}

	// revocation failure carries the session-specific code
	revoked := mint(func(b *jwt.Builder) *jwt.Builder {
		return b.Claim("auth_time", now.Add(-2*time.Hour).Unix())
	})
	_, err = client.VerifySessionToken(ctx, revoked, CheckRevoked())
	if code := CodeOf(err); code != ErrCodeSessionTokenRevoked {
		t.Fatalf("expected %s, got %s (%v)", ErrCodeSessionTokenRevoked, code, err)
	}
}

func TestClientVerifierInfo(t *testing.T) {
	_, set := newTestKeys(t)
	keys := NewStaticKeySource(set)
	ctx := context.Background()

	current, err := NewClient(ctx, Config{
		TenantID:      testTenant,
		IssuerBaseURL: testIssuerBase,
	}, WithKeySource(keys))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if info := current.VerifierInfo(); info.Version != "v2" || !info.DistinctFutureIssued {
		t.Fatalf("unexpected info: %+v", info)
	}

	legacy, err := NewClient(ctx, Config{
		TenantID:          testTenant,
		IssuerBaseURL:     testIssuerBase,
		UseLegacyVerifier: true,
	}, WithKeySource(keys))
	if err != nil {
		t.Fatalf("NewClient legacy: %v", err)
	}
	info := legacy.VerifierInfo()
	if info.Version != "v1" || info.DistinctFutureIssued || info.Advisory == "" {
		t.Fatalf("unexpected legacy info: %+v", info)
	}
}
