package authx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Token is an immutable signed identity token: compact serialized form,
// header (algorithm, key id), and the decoded claim set. Instances come out
// of ParseToken or one of the minting operations and are never mutated.
type Token struct {
	raw string
	alg string
	kid string

	subject  string
	issuer   string
	audience []string
	issuedAt time.Time
	expires  time.Time
	authTime time.Time

	claims map[string]any
}

// ParseToken decodes a compact three-segment token without verifying its
// signature or claims. Callers that need trust go through Client.VerifyIDToken
// or Client.VerifySessionToken instead.
func ParseToken(raw string) (*Token, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("token is empty"))
	}
	if strings.Count(trimmed, ".") != 2 {
		return nil, newError(ErrCodeInvalidArgument, errors.New("token must have three segments"))
	}

	msg, err := jws.Parse([]byte(trimmed))
	if err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("decode token header: %w", err))
	}
	sigs := msg.Signatures()
	if len(sigs) == 0 {
		return nil, newError(ErrCodeInvalidArgument, errors.New("token has no signature"))
	}
	headers := sigs[0].ProtectedHeaders()

	parsed, err := jwt.Parse([]byte(trimmed), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("decode token claims: %w", err))
	}

	tok := &Token{
		raw:      trimmed,
		alg:      headers.Algorithm().String(),
		kid:      headers.KeyID(),
		subject:  parsed.Subject(),
		issuer:   parsed.Issuer(),
		issuedAt: parsed.IssuedAt(),
		expires:  parsed.Expiration(),
	}
	if aud := parsed.Audience(); len(aud) > 0 {
		tok.audience = append([]string(nil), aud...)
	}

	claims := make(map[string]any)
	for _, name := range []string{"iss", "sub", "aud", "iat", "exp", "nbf", "jti"} {
		if v, ok := parsed.Get(name); ok {
			claims[name] = v
		}
	}
	for k, v := range parsed.PrivateClaims() {
		claims[k] = v
	}
	tok.claims = claims

	if v, ok := claims["auth_time"]; ok {
		tok.authTime = numericTime(v)
	}
	return tok, nil
}

// normalizeToken accepts a serialized token or an already-parsed *Token and
// normalizes immediately, so the rest of the engine only ever sees *Token.
func normalizeToken(v any) (*Token, error) {
	switch t := v.(type) {
	case *Token:
		if t == nil {
			return nil, newError(ErrCodeInvalidArgument, errors.New("token is nil"))
		}
		return t, nil
	case string:
		return ParseToken(t)
	case []byte:
		return ParseToken(string(t))
	default:
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("unsupported token type %T", v))
	}
}

// Raw returns the exact compact serialized form the token was built from.
func (t *Token) Raw() string { return t.raw }

// Algorithm returns the signature algorithm declared in the token header.
func (t *Token) Algorithm() string { return t.alg }

// KeyID returns the signing key identifier declared in the token header.
func (t *Token) KeyID() string { return t.kid }

// Subject returns the sub claim.
func (t *Token) Subject() string { return t.subject }

// UID is an alias for Subject, matching how callers address users.
func (t *Token) UID() string { return t.subject }

// Issuer returns the iss claim.
func (t *Token) Issuer() string { return t.issuer }

// Audience returns the aud claim values.
func (t *Token) Audience() []string {
	return append([]string(nil), t.audience...)
}

// IssuedAt returns the iat claim, zero when absent.
func (t *Token) IssuedAt() time.Time { return t.issuedAt }

// ExpiresAt returns the exp claim, zero when absent.
func (t *Token) ExpiresAt() time.Time { return t.expires }

// AuthTime returns the auth_time claim, zero when absent.
func (t *Token) AuthTime() time.Time { return t.authTime }

// Claim returns a single claim value by name.
func (t *Token) Claim(name string) (any, bool) {
	v, ok := t.claims[name]
	return v, ok
}

// Claims returns a copy of the full claim set.
func (t *Token) Claims() map[string]any {
	out := make(map[string]any, len(t.claims))
	for k, v := range t.claims {
		out[k] = v
	}
	return out
}

func (t *Token) hasAudience(aud string) bool {
	for _, a := range t.audience {
		if a == aud {
			return true
		}
	}
	return false
}

// numericTime converts the JSON encodings of a seconds-since-epoch claim.
func numericTime(v any) time.Time {
	switch n := v.(type) {
	case time.Time:
		return n
	case float64:
		return time.Unix(int64(n), 0).UTC()
	case int64:
		return time.Unix(n, 0).UTC()
	case int:
		return time.Unix(int64(n), 0).UTC()
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return time.Unix(i, 0).UTC()
		}
	}
	return time.Time{}
}
