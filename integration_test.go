package authx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Full lifecycle against fake JWKS and backend servers: mint a custom token,
// verify an ID token fetched-key style, exchange it for a session token,
// verify that, then observe a global sign-out.
func TestTokenLifecycle(t *testing.T) {
	server, keys := newJWKSServer(t, "live-key")
	priv := keys["live-key"]

	var (
		mu     sync.Mutex
		cutoff time.Time
	)
	now := time.Now().UTC()
	sessionCookie := sign(t, jwt.NewBuilder().
		Issuer(testSessIssuer).
		Subject("user-1").
		Audience([]string{testTenant}).
		IssuedAt(now).
		Expiration(now.Add(24*time.Hour)).
		Claim("auth_time", now.Add(-time.Minute).Unix()),
		priv, "live-key")

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/tenants/acme/users/user-1":
			mu.Lock()
			c := cutoff
			mu.Unlock()
			body := map[string]string{"uid": "user-1"}
			if !c.IsZero() {
				body["tokensValidAfterTime"] = c.Format(time.RFC3339)
			}
			_ = json.NewEncoder(w).Encode(body)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/tenants/acme/sessions:exchange":
			_ = json.NewEncoder(w).Encode(map[string]string{"sessionCookie": sessionCookie})
		default:
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(backend.Close)

	signer, err := SigningKeyFromRaw("live-key", "RS256", priv)
	if err != nil {
		t.Fatalf("SigningKeyFromRaw: %v", err)
	}

	client, err := NewClient(context.Background(), Config{
		TenantID:       testTenant,
		IssuerBaseURL:  testIssuerBase,
		JWKSURL:        server.URL,
		BackendBaseURL: backend.URL,
		SigningKey:     signer,
		MinKeyRefresh:  time.Hour,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	custom, err := client.MintCustomToken(ctx, "user-1", map[string]any{"plan": "trial"})
	if err != nil {
		t.Fatalf("MintCustomToken: %v", err)
	}
	if _, err := client.VerifyIDToken(ctx, custom); CodeOf(err) != ErrCodeInvalidToken {
		t.Fatalf("custom token must not verify as ID token, got %v", err)
	}

	idToken := sign(t, jwt.NewBuilder().
		Issuer(testIDIssuer).
		Subject("user-1").
		Audience([]string{testTenant}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("auth_time", now.Add(-time.Minute).Unix()),
		priv, "live-key")

	verified, err := client.VerifyIDToken(ctx, idToken, CheckRevoked())
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}

	session, err := client.MintSessionToken(ctx, verified, 24*time.Hour)
	if err != nil {
		t.Fatalf("MintSessionToken: %v", err)
	}
	if session.Raw() != sessionCookie {
		t.Fatal("session cookie not preserved")
	}
	if _, err := client.VerifySessionToken(ctx, session.Raw(), CheckRevoked()); err != nil {
		t.Fatalf("VerifySessionToken: %v", err)
	}

	// global sign-out: the very next check sees the cutoff
	mu.Lock()
	cutoff = time.Now().UTC().Add(time.Minute)
	mu.Unlock()

	if _, err := client.VerifyIDToken(ctx, idToken, CheckRevoked()); CodeOf(err) != ErrCodeIDTokenRevoked {
		t.Fatalf("expected %s, got %v", ErrCodeIDTokenRevoked, err)
	}
	if _, err := client.VerifySessionToken(ctx, session.Raw(), CheckRevoked()); CodeOf(err) != ErrCodeSessionTokenRevoked {
		t.Fatalf("expected %s, got %v", ErrCodeSessionTokenRevoked, err)
	}
}
