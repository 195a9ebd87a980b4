package authx

import (
	"context"
	"errors"
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// VerifierInfo describes a verifier strategy. Advisory is non-empty when the
// strategy is kept for backward compatibility only; callers can query it
// instead of relying on a construction-time warning.
type VerifierInfo struct {
	Version              string
	DistinctFutureIssued bool
	Advisory             string
}

// signatureVerifier checks a token's signature against the key source and
// then its claims against a policy. Both strategies report an
// issued-in-the-future failure through the same error code, so the facade
// never branches on the concrete implementation.
type signatureVerifier interface {
	verify(ctx context.Context, tok *Token, policy ValidityPolicy) error
	info() VerifierInfo
}

// keysetVerifier is the current strategy: jwx signature verification plus
// the ordered claim validator.
type keysetVerifier struct {
	keys  KeySource
	algs  map[string]struct{}
	clock Clock
}

func newKeysetVerifier(keys KeySource, algorithms []string, clock Clock) *keysetVerifier {
	algs := make(map[string]struct{}, len(algorithms))
	for _, a := range algorithms {
		algs[a] = struct{}{}
	}
	return &keysetVerifier{keys: keys, algs: algs, clock: clock}
}

func (v *keysetVerifier) info() VerifierInfo {
	return VerifierInfo{Version: "v2", DistinctFutureIssued: true}
}

func (v *keysetVerifier) verify(ctx context.Context, tok *Token, policy ValidityPolicy) error {
	if _, ok := v.algs[tok.Algorithm()]; !ok {
		return newError(ErrCodeInvalidToken, fmt.Errorf("algorithm %q not allowed", tok.Algorithm()))
	}
	if tok.KeyID() == "" {
		return newError(ErrCodeUnknownKey, errors.New("token header has no kid"))
	}
	key, err := v.keys.Key(ctx, tok.KeyID())
	if err != nil {
		return err
	}
	if _, err := jwt.Parse(
		[]byte(tok.Raw()),
		jwt.WithKey(jwa.SignatureAlgorithm(tok.Algorithm()), key),
		jwt.WithValidate(false),
	); err != nil {
		return newError(ErrCodeInvalidToken, fmt.Errorf("signature verification failed: %w", err))
	}
	return validateClaims(tok, policy, v.clock.Now())
}

// legacyVerifier is the backward-compatible strategy built on golang-jwt.
// The library reports a future-issued token as a generic invalid-token
// failure; the adapter re-classifies it by error identity into the shared
// issued-in-the-future variant so callers can still opt to allow it.
type legacyVerifier struct {
	keys    KeySource
	methods []string
	clock   Clock
}

func newLegacyVerifier(keys KeySource, algorithms []string, clock Clock) *legacyVerifier {
	return &legacyVerifier{
		keys:    keys,
		methods: append([]string(nil), algorithms...),
		clock:   clock,
	}
}

func (v *legacyVerifier) info() VerifierInfo {
	return VerifierInfo{
		Version:              "v1",
		DistinctFutureIssued: false,
		Advisory:             "legacy verifier retained for backward compatibility; prefer the keyset verifier",
	}
}

func (v *legacyVerifier) verify(ctx context.Context, tok *Token, policy ValidityPolicy) error {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods(v.methods),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithIssuedAt(),
		jwtv5.WithLeeway(policy.Skew),
		jwtv5.WithIssuer(policy.Issuer),
		jwtv5.WithAudience(policy.Audience),
		jwtv5.WithTimeFunc(v.clock.Now),
	)
	parsed, err := parser.Parse(tok.Raw(), v.keyfunc(ctx))
	if err != nil {
		return v.classify(err)
	}
	if !parsed.Valid {
		return newError(ErrCodeInvalidToken, errors.New("token rejected"))
	}
	if tok.Subject() == "" {
		return newError(ErrCodeInvalidSubject, errors.New("sub claim empty"))
	}
	return nil
}

func (v *legacyVerifier) keyfunc(ctx context.Context) jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, newError(ErrCodeUnknownKey, errors.New("token header has no kid"))
		}
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, newError(ErrCodeInternal, fmt.Errorf("materialize key %q: %w", kid, err))
		}
		return raw, nil
	}
}

// classify maps golang-jwt failures onto the shared error codes, preserving
// the claim-check precedence: expiry, then issued-at, then issuer, audience.
func (v *legacyVerifier) classify(err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		// keyfunc failures carry their code through the parser wrapping
		return ae
	}
	switch {
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return newError(ErrCodeExpired, err)
	case errors.Is(err, jwtv5.ErrTokenUsedBeforeIssued):
		return newError(ErrCodeIssuedInFuture, err)
	case errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return newError(ErrCodeInvalidIssuer, err)
	case errors.Is(err, jwtv5.ErrTokenInvalidAudience):
		return newError(ErrCodeInvalidAudience, err)
	default:
		return newError(ErrCodeInvalidToken, err)
	}
}
