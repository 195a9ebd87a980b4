package authx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// KeySource supplies public verification keys by key identifier. Refresh is
// best-effort and may be rate-limited by the implementation.
type KeySource interface {
	Key(ctx context.Context, kid string) (jwk.Key, error)
	Refresh(ctx context.Context) error
}

// SigningKey is the private key the custom token minter signs with. It is
// loaded once and treated as immutable for the process lifetime.
type SigningKey struct {
	kid string
	alg jwa.SignatureAlgorithm
	key jwk.Key
}

// SigningKeyFromPEM loads a PEM-encoded private key under the given key id.
func SigningKeyFromPEM(kid, alg string, pemBytes []byte) (*SigningKey, error) {
	key, err := jwk.ParseKey(pemBytes, jwk.WithPEM(true))
	if err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("parse signing key: %w", err))
	}
	return newSigningKey(kid, alg, key)
}

// SigningKeyFromRaw wraps a raw private key (e.g. *rsa.PrivateKey) under the
// given key id.
func SigningKeyFromRaw(kid, alg string, raw any) (*SigningKey, error) {
	key, err := jwk.FromRaw(raw)
	if err != nil {
		return nil, newError(ErrCodeInvalidArgument, fmt.Errorf("wrap signing key: %w", err))
	}
	return newSigningKey(kid, alg, key)
}

func newSigningKey(kid, alg string, key jwk.Key) (*SigningKey, error) {
	if kid == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("signing key id is required"))
	}
	sigAlg := jwa.SignatureAlgorithm(alg)
	if sigAlg == "" {
		sigAlg = jwa.RS256
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	if err := key.Set(jwk.AlgorithmKey, sigAlg); err != nil {
		return nil, newError(ErrCodeInternal, err)
	}
	return &SigningKey{kid: kid, alg: sigAlg, key: key}, nil
}

// KeyID returns the key identifier stamped into minted token headers.
func (k *SigningKey) KeyID() string { return k.kid }

// Algorithm returns the signature algorithm the key signs with.
func (k *SigningKey) Algorithm() string { return k.alg.String() }

// RemoteKeySourceConfig configures a JWKS-backed key source.
type RemoteKeySourceConfig struct {
	JWKSURL string
	// MinRefresh bounds how often the background cache re-fetches the JWKS.
	MinRefresh time.Duration
	// RefreshCooldown rate-limits explicit refreshes triggered by unknown key
	// ids. Zero applies the default; negative disables the cooldown.
	RefreshCooldown time.Duration
	HTTPTimeout     time.Duration
	Logger          *zap.Logger
}

// RemoteKeySource caches public verification keys fetched from a JWKS URL.
// Concurrent refreshes for the same unknown key id are coalesced so at most
// one upstream fetch is in flight; the cache publishes a whole key set at a
// time, never a partial update.
type RemoteKeySource struct {
	url      string
	cache    *jwk.Cache
	cooldown time.Duration
	log      *zap.Logger

	group singleflight.Group

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewRemoteKeySource registers the JWKS URL and returns a ready key source.
// ctx bounds the lifetime of the background cache.
func NewRemoteKeySource(ctx context.Context, cfg RemoteKeySourceConfig) (*RemoteKeySource, error) {
	if cfg.JWKSURL == "" {
		return nil, newError(ErrCodeInvalidArgument, errors.New("JWKS URL is required"))
	}
	if cfg.MinRefresh <= 0 {
		cfg.MinRefresh = defaultMinRefresh
	}
	if cfg.RefreshCooldown == 0 {
		cfg.RefreshCooldown = defaultRefreshCooldown
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	cache := jwk.NewCache(ctx)
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}
	if err := cache.Register(
		cfg.JWKSURL,
		jwk.WithMinRefreshInterval(cfg.MinRefresh),
		jwk.WithHTTPClient(httpClient),
	); err != nil {
		return nil, newError(ErrCodeInternal, fmt.Errorf("register jwks %q: %w", cfg.JWKSURL, err))
	}

	return &RemoteKeySource{
		url:      cfg.JWKSURL,
		cache:    cache,
		cooldown: cfg.RefreshCooldown,
		log:      cfg.Logger,
	}, nil
}

// Key resolves a verification key by key id, refreshing the cached set once
// when the id is unknown.
func (s *RemoteKeySource) Key(ctx context.Context, kid string) (jwk.Key, error) {
	set, err := s.cache.Get(ctx, s.url)
	if err != nil {
		return nil, newError(ErrCodeUpstreamUnavailable, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	set, err = s.cache.Get(ctx, s.url)
	if err != nil {
		return nil, newError(ErrCodeUpstreamUnavailable, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, newError(ErrCodeUnknownKey, fmt.Errorf("no key for kid %q", kid))
}

// Refresh re-fetches the JWKS. Simultaneous callers share one in-flight
// fetch, and fetches inside the cooldown window are skipped.
func (s *RemoteKeySource) Refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		s.mu.Lock()
		if s.cooldown > 0 && !s.lastRefresh.IsZero() && time.Since(s.lastRefresh) < s.cooldown {
			s.mu.Unlock()
			return nil, nil
		}
		s.mu.Unlock()

		if _, err := s.cache.Refresh(ctx, s.url); err != nil {
			return nil, newError(ErrCodeUpstreamUnavailable, err)
		}

		s.mu.Lock()
		s.lastRefresh = time.Now()
		s.mu.Unlock()
		s.log.Debug("refreshed verification keys", zap.String("jwks_url", s.url))
		return nil, nil
	})
	return err
}

// StaticKeySource serves a fixed set of verification keys. Useful for tests
// and pinned-key deployments.
type StaticKeySource struct {
	keys map[string]jwk.Key
}

// NewStaticKeySource indexes the given set by key id.
func NewStaticKeySource(set jwk.Set) *StaticKeySource {
	keys := make(map[string]jwk.Key, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if kid := key.KeyID(); kid != "" {
			keys[kid] = key
		}
	}
	return &StaticKeySource{keys: keys}
}

// Key resolves a verification key by key id.
func (s *StaticKeySource) Key(_ context.Context, kid string) (jwk.Key, error) {
	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, newError(ErrCodeUnknownKey, fmt.Errorf("no key for kid %q", kid))
}

// Refresh is a no-op for a static key set.
func (s *StaticKeySource) Refresh(context.Context) error { return nil }
