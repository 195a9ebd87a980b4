package authx

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

type fakeUserLookup struct {
	records map[string]*UserRecord
	err     error
	calls   atomic.Int32
}

func (f *fakeUserLookup) User(_ context.Context, uid string) (*UserRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.records[uid]; ok {
		return rec, nil
	}
	return nil, newError(ErrCodeUserNotFound, nil)
}

func revocationClient(t *testing.T, users UserLookup) (*Client, func(authTime time.Time) string) {
	t.Helper()
	priv, set := newTestKeys(t)
	client, err := NewClient(context.Background(), Config{
		TenantID:      testTenant,
		IssuerBaseURL: testIssuerBase,
	}, WithKeySource(NewStaticKeySource(set)), WithUserLookup(users))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	mint := func(authTime time.Time) string {
		now := time.Now().UTC()
		builder := jwt.NewBuilder().
			Issuer(testIDIssuer).
			Subject("user-1").
			Audience([]string{testTenant}).
			IssuedAt(now.Add(-time.Minute)).
			Expiration(now.Add(time.Hour))
		if !authTime.IsZero() {
			builder = builder.Claim("auth_time", authTime.Unix())
		}
		return sign(t, builder, priv, testKid)
	}
	return client, mint
}

func TestIsRevoked(t *testing.T) {
	cutoff := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	users := &fakeUserLookup{records: map[string]*UserRecord{
		"user-1": {UID: "user-1", TokensValidAfter: cutoff},
	}}
	client, mint := revocationClient(t, users)
	ctx := context.Background()

	revoked, err := client.IsRevoked(ctx, mint(cutoff.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Fatal("token authenticated before the cutoff should be revoked")
	}

	revoked, err = client.IsRevoked(ctx, mint(cutoff.Add(time.Minute)))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatal("token authenticated after the cutoff should not be revoked")
	}

	// exactly at the cutoff is not strictly before it
	revoked, err = client.IsRevoked(ctx, mint(cutoff))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatal("token authenticated at the cutoff should not be revoked")
	}

	// no auth_time claim compares as zero once a cutoff exists
	revoked, err = client.IsRevoked(ctx, mint(time.Time{}))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if !revoked {
		t.Fatal("token without auth_time should be revoked when a cutoff exists")
	}
}

func TestIsRevoked_NeverRevokedUser(t *testing.T) {
	users := &fakeUserLookup{records: map[string]*UserRecord{
		"user-1": {UID: "user-1"},
	}}
	client, mint := revocationClient(t, users)

	revoked, err := client.IsRevoked(context.Background(), mint(time.Time{}))
	if err != nil {
		t.Fatalf("IsRevoked: %v", err)
	}
	if revoked {
		t.Fatal("user without a cutoff can never have revoked tokens")
	}
}

func TestIsRevoked_LookupPerCall(t *testing.T) {
	users := &fakeUserLookup{records: map[string]*UserRecord{
		"user-1": {UID: "user-1"},
	}}
	client, mint := revocationClient(t, users)
	token := mint(time.Now().UTC())

	for i := 0; i < 3; i++ {
		if _, err := client.IsRevoked(context.Background(), token); err != nil {
			t.Fatalf("IsRevoked: %v", err)
		}
	}
	if got := users.calls.Load(); got != 3 {
		t.Fatalf("expected one lookup per call, got %d for 3 calls", got)
	}
}

func TestIsRevoked_Errors(t *testing.T) {
	client, mint := revocationClient(t, &fakeUserLookup{})
	ctx := context.Background()

	// deleted account is an error, not "not revoked"
	if _, err := client.IsRevoked(ctx, mint(time.Now())); CodeOf(err) != ErrCodeUserNotFound {
		t.Fatalf("expected %s, got %v", ErrCodeUserNotFound, err)
	}

	// token without a subject cannot be checked
	priv, _ := newTestKeys(t)
	now := time.Now().UTC()
	noSub := sign(t, jwt.NewBuilder().
		Issuer(testIDIssuer).
		Audience([]string{testTenant}).
		IssuedAt(now).
		Expiration(now.Add(time.Hour)),
		priv, testKid)
	if _, err := client.IsRevoked(ctx, noSub); CodeOf(err) != ErrCodeInvalidArgument {
		t.Fatalf("expected %s, got %v", ErrCodeInvalidArgument, err)
	}
}
